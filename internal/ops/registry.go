package ops

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/quarry/internal/config"
	"github.com/hpungsan/quarry/internal/project"
)

// Registry exposes source and file operations over one database as the
// registry client used by dashboard sessions.
type Registry struct {
	DB     *sql.DB
	Config *config.Config
}

// NewRegistry creates a Registry.
func NewRegistry(database *sql.DB, cfg *config.Config) *Registry {
	return &Registry{DB: database, Config: cfg}
}

func (r *Registry) AddSource(ctx context.Context, projectID string, sourceType project.SourceType, data json.RawMessage) (*project.Source, error) {
	return AddSource(ctx, r.DB, r.Config, AddSourceInput{ProjectID: projectID, Type: string(sourceType), Data: data})
}

func (r *Registry) DeleteSource(ctx context.Context, projectID, sourceID string) error {
	return DeleteSource(ctx, r.DB, projectID, sourceID)
}

func (r *Registry) ListSources(ctx context.Context, projectID string) ([]project.Source, error) {
	out, err := ListSources(ctx, r.DB, projectID)
	if err != nil {
		return nil, err
	}
	sources := make([]project.Source, 0, len(out.Items))
	for _, item := range out.Items {
		sources = append(sources, item.Source)
	}
	return sources, nil
}

func (r *Registry) ListFiles(ctx context.Context, projectID string) ([]project.File, error) {
	out, err := ListFiles(ctx, r.DB, projectID)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}
