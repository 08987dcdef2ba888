package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// ExportSourcesInput contains parameters for the ExportSources operation.
type ExportSourcesInput struct {
	ProjectID string // required
	Path      string // optional, default: ~/.quarry/exports/<slug>-sources-<timestamp>.jsonl
}

// ExportSourcesOutput contains the result of the ExportSources operation.
type ExportSourcesOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a source backup file.
type ExportHeader struct {
	QuarryExport  bool   `json:"_quarry_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	ProjectID     string `json:"project_id"`
	ProjectName   string `json:"project_name"`
}

// ExportRecord is one source definition in a backup file.
type ExportRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// ExportSources writes a project's source definitions to a JSONL file.
// Trained files are not exported; they are rebuilt by training.
func ExportSources(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportSourcesInput) (*ExportSourcesOutput, error) {
	p, err := GetProject(ctx, database, input.ProjectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	path, err := resolveBackupPath(p, input.Path, backupExport, cfg, now)
	if err != nil {
		return nil, err
	}

	sources, err := db.ListSources(ctx, database, p.ID)
	if err != nil {
		return nil, err
	}

	header := ExportHeader{
		QuarryExport:  true,
		SchemaVersion: "1.0",
		ExportedAt:    now.Unix(),
		ProjectID:     p.ID,
		ProjectName:   p.Name,
	}
	err = writeBackup(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		if err := enc.Encode(header); err != nil {
			return errors.NewInternal(err)
		}
		for _, s := range sources {
			if ctx.Err() != nil {
				return errors.NewCancelled("export")
			}
			if err := enc.Encode(toExportRecord(s)); err != nil {
				return errors.NewInternal(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ExportSourcesOutput{
		Path:       path,
		Count:      len(sources),
		ExportedAt: header.ExportedAt,
	}, nil
}

func toExportRecord(s project.Source) ExportRecord {
	return ExportRecord{ID: s.ID, Type: string(s.Type), Data: s.Data, CreatedAt: s.CreatedAt}
}
