package project

import (
	"encoding/json"
	"testing"

	"github.com/hpungsan/quarry/internal/errors"
)

func TestParseSourceType(t *testing.T) {
	tests := []struct {
		in      string
		want    SourceType
		wantErr bool
	}{
		{in: "github", want: SourceGitHub},
		{in: " Website ", want: SourceWebsite},
		{in: "motif", want: SourceMotif},
		{in: "file-upload", want: SourceFileUpload},
		{in: "notion", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSourceType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrUnsupportedSource) {
					t.Fatalf("expected UNSUPPORTED_SOURCE, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSourceType(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseSourceType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseGitHubURL(t *testing.T) {
	tests := []struct {
		in        string
		owner     string
		repo      string
		wantError bool
	}{
		{in: "https://github.com/motifland/markprompt-sample-docs", owner: "motifland", repo: "markprompt-sample-docs"},
		{in: "github.com/acme/docs.git", owner: "acme", repo: "docs"},
		{in: "https://www.github.com/acme/docs/", owner: "acme", repo: "docs"},
		{in: "https://github.com/acme/docs/tree/main/guides", owner: "acme", repo: "docs"},
		{in: "https://gitlab.com/acme/docs", wantError: true},
		{in: "https://github.com/acme", wantError: true},
		{in: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, err := ParseGitHubURL(tt.in)
			if tt.wantError {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGitHubURL(%q) error = %v", tt.in, err)
			}
			if owner != tt.owner || repo != tt.repo {
				t.Errorf("got %s/%s, want %s/%s", owner, repo, tt.owner, tt.repo)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     SourceType
		raw     string
		wantErr bool
	}{
		{name: "github ok", typ: SourceGitHub, raw: `{"url":"https://github.com/a/b"}`},
		{name: "github bad url", typ: SourceGitHub, raw: `{"url":"https://example.com/a/b"}`, wantErr: true},
		{name: "website ok", typ: SourceWebsite, raw: `{"url":"https://docs.example.com"}`},
		{name: "website relative", typ: SourceWebsite, raw: `{"url":"/docs"}`, wantErr: true},
		{name: "website ftp", typ: SourceWebsite, raw: `{"url":"ftp://example.com"}`, wantErr: true},
		{name: "motif ok", typ: SourceMotif, raw: `{"projectDomain":"acme"}`},
		{name: "motif empty", typ: SourceMotif, raw: `{"projectDomain":"  "}`, wantErr: true},
		{name: "upload ok", typ: SourceFileUpload, raw: `{"files":[{"path":"guide/intro.md","content":"# Hi"}]}`},
		{name: "upload empty", typ: SourceFileUpload, raw: `{"files":[]}`, wantErr: true},
		{name: "upload traversal", typ: SourceFileUpload, raw: `{"files":[{"path":"../etc/passwd","content":""}]}`, wantErr: true},
		{name: "upload absolute", typ: SourceFileUpload, raw: `{"files":[{"path":"/etc/passwd","content":""}]}`, wantErr: true},
		{name: "malformed json", typ: SourceGitHub, raw: `{"url":`, wantErr: true},
		{name: "missing data", typ: SourceGitHub, raw: ``, wantErr: true},
		{name: "unknown type", typ: SourceType("notion"), raw: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.typ, json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want string
	}{
		{
			name: "github",
			src:  Source{Type: SourceGitHub, Data: json.RawMessage(`{"url":"https://github.com/acme/docs"}`)},
			want: "acme/docs",
		},
		{
			name: "website",
			src:  Source{Type: SourceWebsite, Data: json.RawMessage(`{"url":"https://docs.example.com/guides/"}`)},
			want: "docs.example.com/guides",
		},
		{
			name: "motif",
			src:  Source{Type: SourceMotif, Data: json.RawMessage(`{"projectDomain":"acme"}`)},
			want: "acme",
		},
		{
			name: "single upload",
			src:  Source{Type: SourceFileUpload, Data: json.RawMessage(`{"files":[{"path":"a/intro.md","content":"x"}]}`)},
			want: "intro.md",
		},
		{
			name: "many uploads",
			src:  Source{Type: SourceFileUpload, Data: json.RawMessage(`{"files":[{"path":"a.md"},{"path":"b.md"}]}`)},
			want: "2 uploaded files",
		},
		{
			name: "broken payload falls back to type",
			src:  Source{Type: SourceGitHub, Data: json.RawMessage(`{}`)},
			want: "github",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Label(tt.src); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIcon(t *testing.T) {
	seen := make(map[string]bool)
	for _, st := range SourceTypes {
		icon := Icon(st)
		if icon == "" || seen[icon] {
			t.Errorf("Icon(%q) = %q, want unique non-empty", st, icon)
		}
		seen[icon] = true
	}
	if Icon(SourceType("other")) != "file" {
		t.Errorf("unknown type should fall back to file icon")
	}
}
