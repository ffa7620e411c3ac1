package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const runColumns = `
	run_id, user_id, task_name, payload, status, worker_id, output,
	error_code, error_message, max_duration_seconds,
	created_at, updated_at, started_at, last_heartbeat_at, completed_at
`

// Storage persists the execution backend's run rows on the trigger side
type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateRun(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO restoration_runs (
			run_id, user_id, task_name, payload, status,
			max_duration_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		run.RunID,
		run.UserID,
		run.TaskName,
		string(run.Payload),
		run.Status,
		run.MaxDurationSeconds,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRunByID returns domain.ErrNotFound for unknown or malformed ids
func (s *Storage) GetRunByID(ctx context.Context, runID string) (*domain.Run, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}

	var run domain.Run
	query := `SELECT ` + runColumns + ` FROM restoration_runs WHERE run_id = $1`

	err := s.db.GetContext(ctx, &run, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// FailRun ends a run that never reached a worker
func (s *Storage) FailRun(ctx context.Context, runID, code, message string) error {
	query := `
		UPDATE restoration_runs
		SET status = $1,
			error_code = $2,
			error_message = $3,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE run_id = $4 AND status = $5
	`

	_, err := s.db.ExecContext(ctx, query, domain.RunStatusFailed, code, message, runID, domain.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}

	return nil
}

type RunFilter struct {
	UserID   string
	TaskName string
	Status   string
	PageSize int
	Cursor   *RunCursor
}

type RunCursor struct {
	CreatedAt time.Time
	RunID     string
}

func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM restoration_runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.TaskName != "" {
		query += fmt.Sprintf(" AND task_name = $%d", argIdx)
		args = append(args, filter.TaskName)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, run_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.RunID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, run_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	runs := []domain.Run{}
	err := s.db.SelectContext(ctx, &runs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}
