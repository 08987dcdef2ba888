package project

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/hpungsan/quarry/internal/errors"
)

// SourceType identifies where a source's content comes from.
type SourceType string

const (
	SourceGitHub     SourceType = "github"
	SourceWebsite    SourceType = "website"
	SourceMotif      SourceType = "motif"
	SourceFileUpload SourceType = "file-upload"
)

// SourceTypes lists all known source types in display order.
var SourceTypes = []SourceType{SourceGitHub, SourceWebsite, SourceMotif, SourceFileUpload}

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SourceTypes {
		if t == known {
			return t, nil
		}
	}
	return "", errors.NewUnsupportedSource(s)
}

// Source is a connected data source. Data holds the type-specific payload.
type Source struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Type      SourceType      `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// GitHubData is the payload of a github source.
type GitHubData struct {
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
}

// WebsiteData is the payload of a website source.
type WebsiteData struct {
	URL string `json:"url"`
}

// MotifData is the payload of a motif source.
type MotifData struct {
	ProjectDomain string `json:"projectDomain"`
}

// FileUploadData is the payload of a file-upload source.
type FileUploadData struct {
	Files []UploadedFile `json:"files"`
}

// UploadedFile is one file of a file-upload source.
type UploadedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DecodePayload parses and validates raw as the payload of sourceType.
// The returned value is one of the *Data types above.
func DecodePayload(sourceType SourceType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, errors.NewInvalidRequest("source data is required")
	}
	switch sourceType {
	case SourceGitHub:
		var d GitHubData
		if err := unmarshalPayload(raw, &d); err != nil {
			return nil, err
		}
		if _, _, err := ParseGitHubURL(d.URL); err != nil {
			return nil, err
		}
		return &d, nil
	case SourceWebsite:
		var d WebsiteData
		if err := unmarshalPayload(raw, &d); err != nil {
			return nil, err
		}
		if err := validateWebsiteURL(d.URL); err != nil {
			return nil, err
		}
		return &d, nil
	case SourceMotif:
		var d MotifData
		if err := unmarshalPayload(raw, &d); err != nil {
			return nil, err
		}
		d.ProjectDomain = strings.TrimSpace(d.ProjectDomain)
		if d.ProjectDomain == "" {
			return nil, errors.NewInvalidRequest("projectDomain is required")
		}
		return &d, nil
	case SourceFileUpload:
		var d FileUploadData
		if err := unmarshalPayload(raw, &d); err != nil {
			return nil, err
		}
		if len(d.Files) == 0 {
			return nil, errors.NewInvalidRequest("at least one file is required")
		}
		for _, f := range d.Files {
			if err := validateUploadPath(f.Path); err != nil {
				return nil, err
			}
		}
		return &d, nil
	default:
		return nil, errors.NewUnsupportedSource(string(sourceType))
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid source data: %v", err))
	}
	return nil
}

// ParseGitHubURL extracts owner and repo from a GitHub repository URL.
// Accepts "https://github.com/o/r", "github.com/o/r", ".git" suffixes and trailing slashes.
func ParseGitHubURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", errors.NewInvalidRequest("url is required")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, perr := url.Parse(s)
	if perr != nil || !strings.EqualFold(strings.TrimPrefix(u.Host, "www."), "github.com") {
		return "", "", errors.NewInvalidRequest(fmt.Sprintf("not a GitHub repository URL: %q", raw))
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.NewInvalidRequest(fmt.Sprintf("not a GitHub repository URL: %q", raw))
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

func validateWebsiteURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.NewInvalidRequest(fmt.Sprintf("website url must be an absolute http(s) URL: %q", raw))
	}
	return nil
}

func validateUploadPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.NewInvalidRequest("uploaded file path is required")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return errors.NewInvalidRequest(fmt.Sprintf("uploaded file path must be relative: %q", p))
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return errors.NewInvalidRequest(fmt.Sprintf("uploaded file path must not contain '..': %q", p))
		}
	}
	return nil
}

// Label returns the human-readable label of a source.
func Label(s Source) string {
	payload, err := DecodePayload(s.Type, s.Data)
	if err != nil {
		return string(s.Type)
	}
	switch d := payload.(type) {
	case *GitHubData:
		owner, repo, _ := ParseGitHubURL(d.URL)
		return owner + "/" + repo
	case *WebsiteData:
		u, _ := url.Parse(d.URL)
		return strings.TrimSuffix(u.Host+u.Path, "/")
	case *MotifData:
		return d.ProjectDomain
	case *FileUploadData:
		if len(d.Files) == 1 {
			return path.Base(d.Files[0].Path)
		}
		return fmt.Sprintf("%d uploaded files", len(d.Files))
	}
	return string(s.Type)
}

// Icon returns the icon key rendered next to a source of the given type.
func Icon(t SourceType) string {
	switch t {
	case SourceGitHub:
		return "github"
	case SourceWebsite:
		return "globe"
	case SourceMotif:
		return "motif"
	case SourceFileUpload:
		return "upload"
	default:
		return "file"
	}
}
