package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/quarry/internal/errors"
)

// Run statuses stored in training_runs.status.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunCancelled = "cancelled"
)

// TrainingRun is one row of training run history.
type TrainingRun struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Status         string `json:"status"`
	SourcesTotal   int    `json:"sources_total"`
	FilesProcessed int    `json:"files_processed"`
	FilesUpdated   int    `json:"files_updated"`
	FilesDeleted   int    `json:"files_deleted"`
	ErrorCount     int    `json:"error_count"`
	StartedAt      int64  `json:"started_at"`
	FinishedAt     *int64 `json:"finished_at,omitempty"`
}

// InsertRun records the start of a training run.
func InsertRun(ctx context.Context, db *sql.DB, r *TrainingRun) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO training_runs (id, project_id, status, sources_total, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Status, r.SourcesTotal, r.StartedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return errors.NewNotFound("project", r.ProjectID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// FinishRun stores the outcome counters of a training run.
func FinishRun(ctx context.Context, db *sql.DB, r *TrainingRun) error {
	result, err := db.ExecContext(ctx, `
		UPDATE training_runs
		SET status = ?, files_processed = ?, files_updated = ?, files_deleted = ?,
			error_count = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, r.FilesProcessed, r.FilesUpdated, r.FilesDeleted, r.ErrorCount,
		toNullInt64(r.FinishedAt), r.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("training run", r.ID)
	}
	return nil
}

// LatestRun returns the most recent training run of a project, or nil if none.
func LatestRun(ctx context.Context, db *sql.DB, projectID string) (*TrainingRun, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, project_id, status, sources_total, files_processed, files_updated,
			files_deleted, error_count, started_at, finished_at
		FROM training_runs
		WHERE project_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, projectID)

	var (
		r          TrainingRun
		finishedAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.Status, &r.SourcesTotal, &r.FilesProcessed,
		&r.FilesUpdated, &r.FilesDeleted, &r.ErrorCount, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Int64
	}
	return &r, nil
}

// AbandonRuns marks runs left "running" by a process that exited mid-run as
// cancelled. Runs started at or after before are left alone. It returns the
// number of rows updated.
func AbandonRuns(ctx context.Context, db *sql.DB, before, finishedAt int64) (int, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE training_runs
		SET status = ?, finished_at = ?
		WHERE status = ? AND started_at < ?`,
		RunCancelled, finishedAt, RunRunning, before)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}
