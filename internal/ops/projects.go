package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/quarry/internal/db"
	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// API key prefixes
const (
	devKeyPrefix    = "sk_dev_"
	publicKeyPrefix = "pk_"
)

// CreateProjectInput contains parameters for the CreateProject operation.
type CreateProjectInput struct {
	Name string // required
}

// CreateProject creates a project with fresh API keys.
func CreateProject(ctx context.Context, database *sql.DB, input CreateProjectInput) (*project.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	if project.CountChars(name) > MaxProjectNameLen {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("name must be at most %d characters", MaxProjectNameLen))
	}
	slug := project.Slugify(name)
	if slug == "" {
		slug = "project"
	}

	id, err := project.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	p := &project.Project{
		ID:               id,
		Name:             name,
		Slug:             slug,
		PrivateDevAPIKey: newAPIKey(devKeyPrefix),
		PublicAPIKey:     newAPIKey(publicKeyPrefix),
		CreatedAt:        time.Now().Unix(),
	}
	if err := db.InsertProject(ctx, database, p); err != nil {
		return nil, err
	}
	return p, nil
}

// newAPIKey returns prefix followed by 32 hex characters.
func newAPIKey(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetProject returns a project by ID or API key.
func GetProject(ctx context.Context, database *sql.DB, idOrKey string) (*project.Project, error) {
	idOrKey, err := requireID("project_id", idOrKey)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(idOrKey, devKeyPrefix) || strings.HasPrefix(idOrKey, publicKeyPrefix) {
		return db.GetProjectByKey(ctx, database, idOrKey)
	}
	return db.GetProject(ctx, database, idOrKey)
}

// ListProjectsOutput contains the result of the ListProjects operation.
type ListProjectsOutput struct {
	Items []project.Project `json:"items"`
}

// ListProjects returns all projects, newest first.
func ListProjects(ctx context.Context, database *sql.DB) (*ListProjectsOutput, error) {
	items, err := db.ListProjects(ctx, database)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []project.Project{}
	}
	return &ListProjectsOutput{Items: items}, nil
}

// FinishOnboarding marks a project's first-run flow as complete.
func FinishOnboarding(ctx context.Context, database *sql.DB, projectID string) (*project.Project, error) {
	projectID, err := requireID("project_id", projectID)
	if err != nil {
		return nil, err
	}
	if err := db.MarkOnboarded(ctx, database, projectID); err != nil {
		return nil, err
	}
	return db.GetProject(ctx, database, projectID)
}

// StatusOutput summarizes a project's sources, files and last training run.
type StatusOutput struct {
	Project   *project.Project `json:"project"`
	Sources   int              `json:"sources"`
	Files     int              `json:"files"`
	Trained   bool             `json:"trained"`
	LatestRun *db.TrainingRun  `json:"latest_run,omitempty"`
}

// Status reports counts and the latest training run of a project.
func Status(ctx context.Context, database *sql.DB, projectID string) (*StatusOutput, error) {
	p, err := GetProject(ctx, database, projectID)
	if err != nil {
		return nil, err
	}
	sources, err := db.ListSources(ctx, database, p.ID)
	if err != nil {
		return nil, err
	}
	files, err := db.CountFiles(ctx, database, p.ID)
	if err != nil {
		return nil, err
	}
	run, err := db.LatestRun(ctx, database, p.ID)
	if err != nil {
		return nil, err
	}
	return &StatusOutput{
		Project:   p,
		Sources:   len(sources),
		Files:     files,
		Trained:   files > 0,
		LatestRun: run,
	}, nil
}
