package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	workerdomain "github.com/cuongbtq/photo-restore/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

const runColumns = `
	run_id, user_id, task_name, payload, status, worker_id, output,
	error_code, error_message, max_duration_seconds,
	created_at, updated_at, started_at, last_heartbeat_at, completed_at
`

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimRun moves a PENDING run to EXECUTING for this worker.
// Returns ErrRunAlreadyClaimed if the run is unknown or no longer PENDING.
func (s *Storage) ClaimRun(ctx context.Context, runID, workerID string) (*domain.Run, error) {
	query := `
		UPDATE restoration_runs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $3
		  AND status = $4
		RETURNING ` + runColumns

	var run domain.Run
	err := s.db.GetContext(ctx, &run, query, domain.RunStatusExecuting, workerID, runID, domain.RunStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim run - already claimed or not found",
				slog.String("run_id", runID),
				slog.String("worker_id", workerID),
			)
			return nil, workerdomain.ErrRunAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	s.logger.Info("Run claimed successfully",
		slog.String("run_id", runID),
		slog.String("worker_id", workerID),
		slog.String("task_name", run.TaskName),
	)

	return &run, nil
}

// CompleteRun stores the output of an EXECUTING run and marks it COMPLETED
func (s *Storage) CompleteRun(ctx context.Context, runID string, output []byte) error {
	query := `
		UPDATE restoration_runs
		SET status = $1,
			output = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE run_id = $3 AND status = $4
	`

	var outputJSON interface{}
	if len(output) > 0 {
		outputJSON = string(output)
	}

	_, err := s.db.ExecContext(ctx, query, domain.RunStatusCompleted, outputJSON, runID, domain.RunStatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	s.logger.Info("Run status updated",
		slog.String("run_id", runID),
		slog.String("status", string(domain.RunStatusCompleted)),
	)

	return nil
}

// FinishRun ends an EXECUTING run as FAILED or CRASHED
func (s *Storage) FinishRun(ctx context.Context, runID string, status domain.RunStatus, code, message string) error {
	query := `
		UPDATE restoration_runs
		SET status = $1,
			error_code = $2,
			error_message = $3,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE run_id = $4 AND status = $5
	`

	_, err := s.db.ExecContext(ctx, query, status, code, message, runID, domain.RunStatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	s.logger.Info("Run status updated",
		slog.String("run_id", runID),
		slog.String("status", string(status)),
		slog.String("error_code", code),
	)

	return nil
}

// UpdateRunHeartbeat updates the last_heartbeat_at timestamp for an executing run
func (s *Storage) UpdateRunHeartbeat(ctx context.Context, runID string) error {
	query := `
		UPDATE restoration_runs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, runID, domain.RunStatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to update run heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Run heartbeat update - no rows affected (run may not be executing)",
			slog.String("run_id", runID),
		)
	}

	return nil
}

// CrashStaleRuns marks EXECUTING runs whose heartbeat is older than staleAfter as CRASHED
// and returns them
func (s *Storage) CrashStaleRuns(ctx context.Context, staleAfter time.Duration) ([]domain.Run, error) {
	query := `
		UPDATE restoration_runs
		SET status = $1,
			error_code = $2,
			error_message = $3,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE status = $4
		  AND last_heartbeat_at < NOW() - make_interval(secs => $5)
		RETURNING ` + runColumns

	runs := []domain.Run{}
	err := s.db.SelectContext(ctx, &runs, query,
		domain.RunStatusCrashed,
		domain.CodeCrashed,
		"worker stopped sending heartbeats",
		domain.RunStatusExecuting,
		staleAfter.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to crash stale runs: %w", err)
	}

	return runs, nil
}
