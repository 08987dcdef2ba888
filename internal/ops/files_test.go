package ops

import (
	"context"
	"testing"

	"github.com/hpungsan/quarry/internal/errors"
)

func TestResolveReference(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	p := createTestProject(t, database)
	s := addGitHubSource(t, database, p.ID, "https://github.com/acme/docs")
	insertTestFile(t, database, p.ID, s.ID, "docs/getting-started.md", "Getting Started")
	insertTestFile(t, database, p.ID, s.ID, "docs/faq.mdx", "")

	ref, err := ResolveReference(ctx, database, p.ID, "docs/getting-started.md")
	if err != nil {
		t.Fatalf("ResolveReference() error = %v", err)
	}
	if ref.Name != "Getting Started" || ref.Href != "docs/getting-started.md" {
		t.Errorf("ref = %+v", ref)
	}

	ref, err = ResolveReference(ctx, database, p.ID, "docs/faq.mdx")
	if err != nil {
		t.Fatalf("ResolveReference() error = %v", err)
	}
	if ref.Name != "faq" {
		t.Errorf("Name = %q, want faq", ref.Name)
	}

	if _, err := ResolveReference(ctx, database, p.ID, "missing.md"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing path error = %v, want NOT_FOUND", err)
	}
	if _, err := ResolveReference(ctx, database, p.ID, ""); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty path error = %v, want INVALID_REQUEST", err)
	}
}

func TestGetFile(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	p := createTestProject(t, database)
	other := createTestProject(t, database)
	s := addGitHubSource(t, database, p.ID, "https://github.com/acme/docs")
	insertTestFile(t, database, p.ID, s.ID, "a.md", "A")

	list, err := ListFiles(ctx, database, p.ID)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Content != "" {
		t.Fatalf("ListFiles() = %+v, want one file without content", list.Items)
	}

	f, err := GetFile(ctx, database, p.ID, list.Items[0].ID)
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if f.Content != "content" {
		t.Errorf("Content = %q", f.Content)
	}

	if _, err := GetFile(ctx, database, other.ID, f.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("cross-project GetFile error = %v, want NOT_FOUND", err)
	}
}
