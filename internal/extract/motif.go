package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// maxMotifBytes caps the size of a Motif files response.
const maxMotifBytes = 64 << 20

type motifExtractor struct {
	client   *http.Client
	baseURL  string
	maxBytes int64
}

func newMotifExtractor(opts Options) *motifExtractor {
	return &motifExtractor{
		client:   opts.HTTPClient,
		baseURL:  strings.TrimRight(opts.MotifBaseURL, "/"),
		maxBytes: maxMotifBytes,
	}
}

// motifFile is one entry of the Motif project files endpoint.
type motifFile struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (m *motifExtractor) Extract(ctx context.Context, src project.Source, emit EmitFunc) error {
	payload, err := project.DecodePayload(src.Type, src.Data)
	if err != nil {
		return err
	}
	domain := payload.(*project.MotifData).ProjectDomain

	endpoint := fmt.Sprintf("%s/v1/projects/%s/files", m.baseURL, url.PathEscape(domain))
	body, _, err := get(ctx, m.client, endpoint, domain)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(io.LimitReader(body, m.maxBytes+1))
	body.Close()
	if err != nil {
		return errors.NewSourceFetchFailed(domain, err)
	}
	if int64(len(raw)) > m.maxBytes {
		return errors.NewSourceFetchFailed(domain, fmt.Errorf("response larger than %d bytes", m.maxBytes))
	}

	var files []motifFile
	if err := json.Unmarshal(raw, &files); err != nil {
		return errors.NewSourceFetchFailed(domain, fmt.Errorf("invalid response: %w", err))
	}

	for _, f := range files {
		doc := Document{Path: f.Path, Title: f.Title, Content: f.Content}
		if doc.Title == "" {
			if title, content := ParseMarkdown([]byte(f.Content)); title != "" {
				doc.Title, doc.Content = title, content
			}
		}
		if err := emit(doc); err != nil {
			return err
		}
	}
	return nil
}
