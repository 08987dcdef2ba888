package extract

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// maxPageBytes caps the size of a single crawled page.
const maxPageBytes = 8 << 20

type websiteExtractor struct {
	client   *http.Client
	maxPages int
	logger   *zap.Logger
}

func newWebsiteExtractor(opts Options) *websiteExtractor {
	maxPages := opts.WebsiteMaxPages
	if maxPages <= 0 {
		maxPages = 20
	}
	return &websiteExtractor{client: opts.HTTPClient, maxPages: maxPages, logger: opts.Logger}
}

// Extract crawls same-origin pages breadth-first from the source URL.
// Only the start page is required; later failures are logged and skipped.
func (w *websiteExtractor) Extract(ctx context.Context, src project.Source, emit EmitFunc) error {
	payload, err := project.DecodePayload(src.Type, src.Data)
	if err != nil {
		return err
	}
	start, err := url.Parse(payload.(*project.WebsiteData).URL)
	if err != nil {
		return errors.NewInvalidRequest("invalid website url")
	}
	start.Fragment = ""

	queue := []*url.URL{start}
	seen := map[string]bool{start.String(): true}
	fetched := 0

	for len(queue) > 0 && fetched < w.maxPages {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelled("crawl " + start.Host)
		}
		u := queue[0]
		queue = queue[1:]

		page, err := w.fetchPage(ctx, u)
		fetched++
		if err != nil {
			if u == start || errors.Is(err, errors.ErrCancelled) {
				return err
			}
			w.logger.Warn("skipping page", zap.String("url", u.String()), zap.Error(err))
			continue
		}
		if page == nil {
			continue
		}

		doc := Document{Path: u.String(), Title: page.title, Content: page.text}
		if err := emit(doc); err != nil {
			return err
		}

		for _, href := range page.links {
			next, ok := sameOrigin(u, href)
			if !ok || seen[next.String()] {
				continue
			}
			seen[next.String()] = true
			queue = append(queue, next)
		}
	}
	return nil
}

// fetchPage returns nil, nil for non-HTML responses.
func (w *websiteExtractor) fetchPage(ctx context.Context, u *url.URL) (*htmlPage, error) {
	body, header, err := get(ctx, w.client, u.String(), u.String())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if ct := header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "text/html" {
			return nil, nil
		}
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, errors.NewSourceFetchFailed(u.String(), err)
	}
	page := parseHTML(raw)
	return &page, nil
}

// sameOrigin resolves href against base and reports whether it stays on
// the same scheme and host.
func sameOrigin(base *url.URL, href string) (*url.URL, bool) {
	if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	next := base.ResolveReference(ref)
	next.Fragment = ""
	if next.Scheme != base.Scheme || !strings.EqualFold(next.Host, base.Host) {
		return nil, false
	}
	return next, true
}
