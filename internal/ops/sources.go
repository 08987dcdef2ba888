package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// AddSourceInput contains parameters for the AddSource operation.
type AddSourceInput struct {
	ProjectID string          // required
	Type      string          // required: github, website, motif, file-upload
	Data      json.RawMessage // required, type-specific payload
}

// AddSource validates a source payload and connects it to a project.
func AddSource(ctx context.Context, database *sql.DB, cfg *config.Config, input AddSourceInput) (*project.Source, error) {
	projectID, err := requireID("project_id", input.ProjectID)
	if err != nil {
		return nil, err
	}
	sourceType, err := project.ParseSourceType(input.Type)
	if err != nil {
		return nil, err
	}
	payload, err := project.DecodePayload(sourceType, input.Data)
	if err != nil {
		return nil, err
	}

	if uploads, ok := payload.(*project.FileUploadData); ok {
		if len(uploads.Files) > MaxUploadFiles {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("at most %d files can be uploaded at once", MaxUploadFiles))
		}
		for _, f := range uploads.Files {
			if n := project.CountChars(f.Content); cfg.MaxFileChars > 0 && n > cfg.MaxFileChars {
				return nil, errors.NewPayloadTooLarge(f.Path, cfg.MaxFileChars, n)
			}
		}
	}

	// Store the validated payload, not the caller's bytes.
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	id, err := project.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	s := &project.Source{
		ID:        id,
		ProjectID: projectID,
		Type:      sourceType,
		Data:      data,
		CreatedAt: time.Now().Unix(),
	}
	if err := db.InsertSource(ctx, database, s); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSource disconnects a source. Its trained files are removed with it.
func DeleteSource(ctx context.Context, database *sql.DB, projectID, sourceID string) error {
	projectID, err := requireID("project_id", projectID)
	if err != nil {
		return err
	}
	sourceID, err = requireID("source_id", sourceID)
	if err != nil {
		return err
	}
	return db.DeleteSource(ctx, database, projectID, sourceID)
}

// SourceItem is a source as displayed in listings.
type SourceItem struct {
	project.Source
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

// NewSourceItem decorates s with its label and icon.
func NewSourceItem(s project.Source) SourceItem {
	return SourceItem{Source: s, Label: project.Label(s), Icon: project.Icon(s.Type)}
}

// ListSourcesOutput contains the result of the ListSources operation.
type ListSourcesOutput struct {
	Items []SourceItem `json:"items"`
}

// ListSources returns a project's sources in creation order.
func ListSources(ctx context.Context, database *sql.DB, projectID string) (*ListSourcesOutput, error) {
	projectID, err := requireID("project_id", projectID)
	if err != nil {
		return nil, err
	}
	sources, err := db.ListSources(ctx, database, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]SourceItem, 0, len(sources))
	for _, s := range sources {
		items = append(items, NewSourceItem(s))
	}
	return &ListSourcesOutput{Items: items}, nil
}
