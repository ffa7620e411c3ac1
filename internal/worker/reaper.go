package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
)

// StaleRunStorage is the storage used by the Reaper
type StaleRunStorage interface {
	CrashStaleRuns(ctx context.Context, staleAfter time.Duration) ([]domain.Run, error)
}

// Reaper marks EXECUTING runs without a recent heartbeat as CRASHED and lets their handlers
// clean up
type Reaper struct {
	storage    StaleRunStorage
	registry   *Registry
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewReaper creates a new Reaper
func NewReaper(storage StaleRunStorage, registry *Registry, staleAfter time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		storage:    storage,
		registry:   registry,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Reap crashes stale runs once and returns how many were crashed
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	runs, err := r.storage.CrashStaleRuns(ctx, r.staleAfter)
	if err != nil {
		return 0, err
	}

	for i := range runs {
		run := &runs[i]
		r.logger.Warn("Stale run marked crashed",
			slog.String("run_id", run.RunID),
			slog.String("task_name", run.TaskName),
			slog.Any("last_heartbeat_at", run.LastHeartbeatAt),
		)

		handler, ok := r.registry.Get(run.TaskName)
		if !ok {
			continue
		}
		if f, ok := handler.(CrashFinalizer); ok {
			if err := f.FinalizeCrashedRun(ctx, run); err != nil {
				r.logger.Error("Failed to finalize crashed run",
					slog.String("run_id", run.RunID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return len(runs), nil
}

// Run calls Reap every interval until ctx is canceled or stop is closed
func (r *Reaper) Run(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				r.logger.Error("Failed to reap stale runs", slog.String("error", err.Error()))
			}
		}
	}
}
