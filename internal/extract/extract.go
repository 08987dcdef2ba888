// Package extract turns a connected source into plain documents.
//
// Each source type has an Extractor. Extractors stream documents to an emit
// callback so training can checksum and store them one at a time.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/logging"
	"github.com/hpungsan/quarry/internal/project"
)

// Document is one extracted unit of content.
type Document struct {
	Path    string
	Title   string
	Content string
}

// EmitFunc receives extracted documents. Returning an error stops extraction.
type EmitFunc func(Document) error

// Extractor reads the content of one source type.
type Extractor interface {
	Extract(ctx context.Context, src project.Source, emit EmitFunc) error
}

// Options configures the built-in extractors.
type Options struct {
	HTTPClient           *http.Client
	MaxFileChars         int
	IncludeExtensions    []string
	IgnorePatterns       []string
	GitHubArchiveBaseURL string
	MotifBaseURL         string
	WebsiteMaxPages      int
	Logger               *zap.Logger
}

// OptionsFromConfig derives extractor options from cfg.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	return Options{
		HTTPClient:           &http.Client{Timeout: cfg.HTTPTimeout()},
		MaxFileChars:         cfg.MaxFileChars,
		IncludeExtensions:    cfg.IncludeExtensions,
		IgnorePatterns:       cfg.IgnorePatterns,
		GitHubArchiveBaseURL: cfg.GitHubArchiveBaseURL,
		MotifBaseURL:         cfg.MotifBaseURL,
		WebsiteMaxPages:      cfg.WebsiteMaxPages,
		Logger:               logger,
	}
}

// Registry dispatches to the extractor registered for a source's type.
type Registry struct {
	extractors   map[project.SourceType]Extractor
	maxFileChars int
	logger       *zap.Logger
}

// NewRegistry creates a registry with the github, website, motif and
// file-upload extractors.
func NewRegistry(opts Options) *Registry {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	opts.Logger = logging.OrNop(opts.Logger)

	r := &Registry{
		extractors:   make(map[project.SourceType]Extractor),
		maxFileChars: opts.MaxFileChars,
		logger:       opts.Logger,
	}
	r.Register(project.SourceGitHub, newGitHubExtractor(opts))
	r.Register(project.SourceWebsite, newWebsiteExtractor(opts))
	r.Register(project.SourceMotif, newMotifExtractor(opts))
	r.Register(project.SourceFileUpload, uploadExtractor{})
	return r
}

// Register sets the extractor for t, replacing any existing one.
func (r *Registry) Register(t project.SourceType, e Extractor) {
	r.extractors[t] = e
}

// Extract runs the extractor for src.Type. Documents with empty content or
// above the configured size limit are skipped.
func (r *Registry) Extract(ctx context.Context, src project.Source, emit EmitFunc) error {
	e, ok := r.extractors[src.Type]
	if !ok {
		return errors.NewUnsupportedSource(string(src.Type))
	}
	return e.Extract(ctx, src, func(doc Document) error {
		if strings.TrimSpace(doc.Content) == "" {
			return nil
		}
		if r.maxFileChars > 0 {
			if n := project.CountChars(doc.Content); n > r.maxFileChars {
				r.logger.Warn("skipping oversized document",
					zap.String("source_id", src.ID),
					zap.String("path", doc.Path),
					zap.Int("chars", n),
					zap.Int("max_chars", r.maxFileChars))
				return nil
			}
		}
		return emit(doc)
	})
}

// get performs a GET and returns the body of a 200 response.
// The caller closes the body.
func get(ctx context.Context, client *http.Client, url, label string) (io.ReadCloser, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, errors.NewSourceFetchFailed(label, err)
	}
	req.Header.Set("User-Agent", "quarry")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, errors.NewCancelled("fetch " + label)
		}
		return nil, nil, errors.NewSourceFetchFailed(label, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, errors.NewSourceFetchFailed(label, fmt.Errorf("unexpected status %s", resp.Status))
	}
	return resp.Body, resp.Header, nil
}
