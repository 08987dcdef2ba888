package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// ListFilesOutput contains the result of the ListFiles operation.
type ListFilesOutput struct {
	Items []project.File `json:"items"`
}

// ListFiles returns a project's trained files without content.
func ListFiles(ctx context.Context, database *sql.DB, projectID string) (*ListFilesOutput, error) {
	projectID, err := requireID("project_id", projectID)
	if err != nil {
		return nil, err
	}
	files, err := db.ListFiles(ctx, database, projectID, false)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []project.File{}
	}
	return &ListFilesOutput{Items: files}, nil
}

// GetFile returns one trained file with its content.
func GetFile(ctx context.Context, database *sql.DB, projectID, fileID string) (*project.File, error) {
	projectID, err := requireID("project_id", projectID)
	if err != nil {
		return nil, err
	}
	fileID, err = requireID("file_id", fileID)
	if err != nil {
		return nil, err
	}
	return db.GetFile(ctx, database, projectID, fileID)
}

// ResolveReference maps a path cited by the chat playground to its display
// name and link.
func ResolveReference(ctx context.Context, database *sql.DB, projectID, path string) (*project.ReferenceInfo, error) {
	projectID, err := requireID("project_id", projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	files, err := db.ListFiles(ctx, database, projectID, false)
	if err != nil {
		return nil, err
	}
	ref, ok := project.ResolveReference(files, path)
	if !ok {
		return nil, errors.NewNotFound("file", path)
	}
	return &ref, nil
}
