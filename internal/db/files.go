package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/quarry/internal/errors"
	"github.com/hpungsan/quarry/internal/project"
)

// UpsertFile inserts a file or updates the existing (source_id, path) row.
// An existing row whose checksum matches is left untouched; changed reports
// whether a row was written. f.ID is only used for inserts.
func UpsertFile(ctx context.Context, db *sql.DB, f *project.File) (changed bool, err error) {
	query := `
		INSERT INTO files (
			id, project_id, source_id, path, title, checksum, content,
			token_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, path) DO UPDATE SET
			title = excluded.title,
			checksum = excluded.checksum,
			content = excluded.content,
			token_count = excluded.token_count,
			updated_at = excluded.updated_at
		WHERE files.checksum != excluded.checksum
	`

	result, err := db.ExecContext(ctx, query,
		f.ID, f.ProjectID, f.SourceID, f.Path, toNullString(f.Meta.Title), f.Checksum, f.Content,
		f.TokenCount, f.UpdatedAt, f.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return false, errors.NewNotFound("source", f.SourceID)
		}
		return false, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rowsAffected > 0, nil
}

// DeleteFilesExcept removes a source's files whose path is not in keep.
// Returns the number of deleted rows.
func DeleteFilesExcept(ctx context.Context, db *sql.DB, sourceID string, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, p := range keep {
		keepSet[p] = true
	}

	rows, err := db.QueryContext(ctx, `SELECT id, path FROM files WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	var stale []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return 0, errors.NewInternal(err)
		}
		if !keepSet[path] {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, errors.NewInternal(err)
	}
	rows.Close()
	if len(stale) == 0 {
		return 0, nil
	}

	// No reads inside the transaction: it must begin with a write lock.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	defer tx.Rollback()

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
			return 0, errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.NewInternal(err)
	}
	return len(stale), nil
}

// ListFiles returns a project's files ordered by path.
// Content is only loaded when includeContent is true.
func ListFiles(ctx context.Context, db *sql.DB, projectID string, includeContent bool) ([]project.File, error) {
	contentCol := "''"
	if includeContent {
		contentCol = "content"
	}
	query := `
		SELECT id, project_id, source_id, path, title, checksum, ` + contentCol + `,
			token_count, updated_at
		FROM files
		WHERE project_id = ?
		ORDER BY path ASC, id ASC
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var files []project.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return files, nil
}

// GetFile retrieves a single file with its content.
func GetFile(ctx context.Context, db *sql.DB, projectID, id string) (*project.File, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, project_id, source_id, path, title, checksum, content, token_count, updated_at
		FROM files WHERE id = ? AND project_id = ?`, id, projectID)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("file", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return f, nil
}

// CountFiles returns the number of files in a project.
func CountFiles(ctx context.Context, db *sql.DB, projectID string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func scanFile(row scanner) (*project.File, error) {
	var (
		f     project.File
		title sql.NullString
	)
	err := row.Scan(&f.ID, &f.ProjectID, &f.SourceID, &f.Path, &title, &f.Checksum, &f.Content,
		&f.TokenCount, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if title.Valid {
		f.Meta.Title = title.String
	}
	return &f, nil
}
