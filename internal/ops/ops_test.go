package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/project"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func createTestProject(t *testing.T, database *sql.DB) *project.Project {
	t.Helper()
	p, err := CreateProject(context.Background(), database, CreateProjectInput{Name: "Acme Docs"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return p
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return b
}

func addGitHubSource(t *testing.T, database *sql.DB, projectID, url string) *project.Source {
	t.Helper()
	s, err := AddSource(context.Background(), database, config.DefaultConfig(), AddSourceInput{
		ProjectID: projectID,
		Type:      "github",
		Data:      rawJSON(t, project.GitHubData{URL: url}),
	})
	if err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}
	return s
}

func insertTestFile(t *testing.T, database *sql.DB, projectID, sourceID, path, title string) {
	t.Helper()
	id, err := project.NewID()
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.UpsertFile(context.Background(), database, &project.File{
		ID: id, ProjectID: projectID, SourceID: sourceID, Path: path,
		Meta: project.Meta{Title: title}, Checksum: "c", Content: "content",
		TokenCount: 1, UpdatedAt: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("UpsertFile() error = %v", err)
	}
}
