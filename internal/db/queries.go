package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// InsertProject stores a new project.
func InsertProject(ctx context.Context, db *sql.DB, p *project.Project) error {
	query := `
		INSERT INTO projects (
			id, name, slug, private_dev_api_key, public_api_key, onboarded_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		p.ID, p.Name, p.Slug, p.PrivateDevAPIKey, p.PublicAPIKey,
		toNullInt64(p.OnboardedAt), p.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("project key collision; retry")
		}
		return errors.NewInternal(err)
	}
	return nil
}

const projectColumns = `id, name, slug, private_dev_api_key, public_api_key, onboarded_at, created_at`

// GetProject retrieves a project by ID.
func GetProject(ctx context.Context, db *sql.DB, id string) (*project.Project, error) {
	row := db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("project", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return p, nil
}

// GetProjectByKey retrieves a project by its private dev or public API key.
func GetProjectByKey(ctx context.Context, db *sql.DB, key string) (*project.Project, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE private_dev_api_key = ? OR public_api_key = ?`,
		key, key)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("project", "key")
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return p, nil
}

// ListProjects returns all projects, newest first.
func ListProjects(ctx context.Context, db *sql.DB) ([]project.Project, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return projects, nil
}

// MarkOnboarded records that the project's first-run flow is complete.
// Idempotent: an existing onboarded_at is kept.
func MarkOnboarded(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE projects SET onboarded_at = COALESCE(onboarded_at, ?) WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("project", id)
	}
	return nil
}

// InsertSource stores a new source.
func InsertSource(ctx context.Context, db *sql.DB, s *project.Source) error {
	query := `
		INSERT INTO sources (id, project_id, type, data_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query, s.ID, s.ProjectID, string(s.Type), string(s.Data), s.CreatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return errors.NewNotFound("project", s.ProjectID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// InsertSources stores several sources in one transaction.
func InsertSources(ctx context.Context, db *sql.DB, sources []*project.Source) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	for _, s := range sources {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sources (id, project_id, type, data_json, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			s.ID, s.ProjectID, string(s.Type), string(s.Data), s.CreatedAt)
		if err != nil {
			if isForeignKeyError(err) {
				return errors.NewNotFound("project", s.ProjectID)
			}
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetSource retrieves a source by project and source ID.
func GetSource(ctx context.Context, db *sql.DB, projectID, id string) (*project.Source, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, project_id, type, data_json, created_at FROM sources WHERE id = ? AND project_id = ?`,
		id, projectID)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("source", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSources returns a project's sources in creation order.
func ListSources(ctx context.Context, db *sql.DB, projectID string) ([]project.Source, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, project_id, type, data_json, created_at FROM sources
		 WHERE project_id = ? ORDER BY created_at ASC, id ASC`,
		projectID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var sources []project.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		sources = append(sources, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return sources, nil
}

// DeleteSource hard-deletes a source. Its files are removed by ON DELETE CASCADE.
func DeleteSource(ctx context.Context, db *sql.DB, projectID, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM sources WHERE id = ? AND project_id = ?`, id, projectID)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("source", id)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*project.Project, error) {
	var (
		p           project.Project
		onboardedAt sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.PrivateDevAPIKey, &p.PublicAPIKey, &onboardedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if onboardedAt.Valid {
		p.OnboardedAt = &onboardedAt.Int64
	}
	return &p, nil
}

func scanSource(row scanner) (*project.Source, error) {
	var (
		s        project.Source
		typ      string
		dataJSON string
	)
	if err := row.Scan(&s.ID, &s.ProjectID, &typ, &dataJSON, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Type = project.SourceType(typ)
	s.Data = []byte(dataJSON)
	return &s, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyError checks if the error is a SQLite FOREIGN KEY constraint violation.
func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// toNullString converts an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// toNullInt64 converts a *int64 to sql.NullInt64.
func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
