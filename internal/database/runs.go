package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-shrink/internal/models"
)

// ErrNotFound is returned when a run is not found
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 UUID PRIMARY KEY,
	kind               TEXT NOT NULL,
	status             TEXT NOT NULL,
	source_dir         TEXT NOT NULL,
	dest_dir           TEXT NOT NULL DEFAULT '',
	summary            TEXT,
	error              TEXT,
	processed          INTEGER NOT NULL DEFAULT 0,
	worker_id          TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	processing_time_ms BIGINT,
	delete_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at DESC);
CREATE INDEX IF NOT EXISTS runs_delete_at_idx ON runs (delete_at) WHERE delete_at IS NOT NULL;
`

const runColumns = `id, kind, status, source_dir, dest_dir, summary, error, processed, worker_id,
	created_at, updated_at, started_at, completed_at, processing_time_ms, delete_at`

// RunRepository handles run database operations
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Migrate creates the runs table and its indexes when missing
func (r *RunRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate runs table: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	run := &models.Run{}
	var summary, errorMsg, workerID sql.NullString
	var startedAt, completedAt, deleteAt sql.NullTime
	var processingTime sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Status,
		&run.SourceDir,
		&run.DestDir,
		&summary,
		&errorMsg,
		&run.Processed,
		&workerID,
		&run.CreatedAt,
		&run.UpdatedAt,
		&startedAt,
		&completedAt,
		&processingTime,
		&deleteAt,
	)
	if err != nil {
		return nil, err
	}

	run.Summary = summary.String
	run.Error = errorMsg.String
	run.WorkerID = workerID.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if processingTime.Valid {
		run.ProcessingTime = &processingTime.Int64
	}
	if deleteAt.Valid {
		run.DeleteAt = &deleteAt.Time
	}
	return run, nil
}

// Create inserts a new run into the database
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()

	query := `
		INSERT INTO runs (id, kind, status, source_dir, dest_dir, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Status,
		run.SourceDir,
		run.DestDir,
		run.CreatedAt,
		run.UpdatedAt,
	)
	r.db.observe("create_run", start, err)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()

	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		r.db.observe("get_run", start, nil)
		return nil, ErrNotFound
	}
	r.db.observe("get_run", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List retrieves a page of runs, newest first, and the total run count
func (r *RunRepository) List(ctx context.Context, page, pageSize int) ([]*models.Run, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		r.db.observe("list_runs", start, err)
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	runs, err := r.query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, pageSize, offset)
	r.db.observe("list_runs", start, err)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// ListExpired returns up to limit runs whose retention has elapsed
func (r *RunRepository) ListExpired(ctx context.Context, limit int) ([]*models.Run, error) {
	start := time.Now()
	runs, err := r.query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE delete_at IS NOT NULL AND delete_at < NOW()
		ORDER BY delete_at ASC
		LIMIT $1
	`, limit)
	r.db.observe("list_expired_runs", start, err)
	return runs, err
}

func (r *RunRepository) query(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// MarkQueued records that the run was handed to the queue
func (r *RunRepository) MarkQueued(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "mark_queued", `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		models.RunStatusQueued, time.Now(), id)
}

// StartProcessing marks a run as processing and records the worker ID
func (r *RunRepository) StartProcessing(ctx context.Context, id uuid.UUID, workerID string) error {
	now := time.Now()
	return r.update(ctx, "start_run", `
		UPDATE runs
		SET status = $1, worker_id = $2, started_at = $3, updated_at = $3
		WHERE id = $4
	`, models.RunStatusProcessing, workerID, now, id)
}

// Complete stores the run summary and schedules the row for deletion after
// retention.
func (r *RunRepository) Complete(ctx context.Context, id uuid.UUID, summary string, processed int, retention time.Duration) error {
	now := time.Now()
	return r.update(ctx, "complete_run", `
		UPDATE runs
		SET status = $1, summary = $2, processed = $3, completed_at = $4, updated_at = $4,
		    processing_time_ms = (EXTRACT(EPOCH FROM ($4 - started_at)) * 1000)::BIGINT,
		    delete_at = $5
		WHERE id = $6
	`, models.RunStatusCompleted, summary, processed, now, now.Add(retention), id)
}

// Fail marks a run as failed. Failed runs expire like completed ones.
func (r *RunRepository) Fail(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) error {
	now := time.Now()
	return r.update(ctx, "fail_run", `
		UPDATE runs
		SET status = $1, error = $2, completed_at = $3, updated_at = $3, delete_at = $4
		WHERE id = $5
	`, models.RunStatusFailed, errorMsg, now, now.Add(retention), id)
}

// Delete permanently deletes a run
func (r *RunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "delete_run", `DELETE FROM runs WHERE id = $1`, id)
}

// update runs a single-row statement and reports ErrNotFound when no row matched
func (r *RunRepository) update(ctx context.Context, operation, query string, args ...any) error {
	start := time.Now()
	result, err := r.db.ExecContext(ctx, query, args...)
	r.db.observe(operation, start, err)
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", operation, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
