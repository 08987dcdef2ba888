package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// maxArchiveBytes caps the size of a downloaded repository archive.
const maxArchiveBytes = 512 << 20

type githubExtractor struct {
	client     *http.Client
	baseURL    string
	extensions map[string]bool
	patterns   []string
	logger     *zap.Logger
}

func newGitHubExtractor(opts Options) *githubExtractor {
	exts := make(map[string]bool, len(opts.IncludeExtensions))
	for _, e := range opts.IncludeExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &githubExtractor{
		client:     opts.HTTPClient,
		baseURL:    strings.TrimRight(opts.GitHubArchiveBaseURL, "/"),
		extensions: exts,
		patterns:   opts.IgnorePatterns,
		logger:     opts.Logger,
	}
}

// archiveURL returns the codeload zip URL of a repository. Each segment of
// a slash-separated branch is escaped on its own; dot segments are encoded so
// they cannot climb out of the archive path.
func (g *githubExtractor) archiveURL(owner, repo, branch string) string {
	if branch == "" {
		branch = "HEAD"
	}
	segments := strings.Split(branch, "/")
	for i, seg := range segments {
		if seg == "." || seg == ".." {
			segments[i] = strings.Repeat("%2E", len(seg))
			continue
		}
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s/zip/%s", g.baseURL, url.PathEscape(owner), url.PathEscape(repo), strings.Join(segments, "/"))
}

func (g *githubExtractor) Extract(ctx context.Context, src project.Source, emit EmitFunc) error {
	payload, err := project.DecodePayload(src.Type, src.Data)
	if err != nil {
		return err
	}
	data := payload.(*project.GitHubData)
	owner, repo, err := project.ParseGitHubURL(data.URL)
	if err != nil {
		return err
	}
	label := owner + "/" + repo

	body, _, err := get(ctx, g.client, g.archiveURL(owner, repo, data.Branch), label)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxArchiveBytes+1))
	body.Close()
	if err != nil {
		return errors.NewSourceFetchFailed(label, err)
	}
	if len(raw) > maxArchiveBytes {
		return errors.NewSourceFetchFailed(label, fmt.Errorf("archive larger than %d bytes", maxArchiveBytes))
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return errors.NewSourceFetchFailed(label, fmt.Errorf("invalid archive: %w", err))
	}

	matcher := g.matcher(zr)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelled("extract " + label)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		rel := stripTopDir(f.Name)
		if rel == "" || !g.extensions[strings.ToLower(path.Ext(rel))] {
			continue
		}
		if matcher.MatchesPath(rel) {
			continue
		}

		content, err := readZipFile(f)
		if err != nil {
			g.logger.Warn("skipping unreadable archive entry",
				zap.String("source", label), zap.String("path", rel), zap.Error(err))
			continue
		}
		if err := emit(parseDocument(rel, content)); err != nil {
			return err
		}
	}
	return nil
}

// matcher compiles the configured ignore patterns plus the repository's
// root .gitignore, if any.
func (g *githubExtractor) matcher(zr *zip.Reader) *ignore.GitIgnore {
	lines := append([]string{}, g.patterns...)
	for _, f := range zr.File {
		if stripTopDir(f.Name) != ".gitignore" {
			continue
		}
		if content, err := readZipFile(f); err == nil {
			lines = append(lines, strings.Split(string(content), "\n")...)
		}
		break
	}
	return ignore.CompileIgnoreLines(lines...)
}

// stripTopDir drops the "<repo>-<ref>/" prefix codeload puts on every entry.
func stripTopDir(name string) string {
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
