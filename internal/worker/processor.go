package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	workerdomain "github.com/cuongbtq/photo-restore/internal/worker/domain"
)

// processRun claims the run, executes its handler under the run's max duration with a heartbeat,
// and records the terminal status. A nil return means the delivery can be ACKed.
func (w *Worker) processRun(ctx context.Context, msg *workerdomain.RunMessage) error {
	// Step 1: Claim run (PENDING → EXECUTING)
	run, err := w.storage.ClaimRun(ctx, msg.RunID, w.workerID)
	if err != nil {
		if errors.Is(err, workerdomain.ErrRunAlreadyClaimed) {
			w.logger.Warn("Run already claimed, skipping",
				slog.String("run_id", msg.RunID),
			)
			return err
		}
		// Database error - could be transient
		return workerdomain.NewRetryableError(fmt.Errorf("failed to claim run: %w", err))
	}

	logger := w.logger.With(
		slog.String("run_id", run.RunID),
		slog.String("task_name", run.TaskName),
		slog.String("worker_id", w.workerID),
	)

	// finish writes must land even when the worker is shutting down
	finishCtx := context.WithoutCancel(ctx)

	// Step 2: Resolve handler
	handler, ok := w.registry.Get(run.TaskName)
	if !ok {
		logger.Error("No handler registered for task")
		w.finish(finishCtx, logger, run.RunID, domain.RunStatusFailed, domain.CodeInvalidArgument,
			fmt.Sprintf("%s: %s", workerdomain.ErrUnknownTask, run.TaskName))
		return nil
	}

	// Step 3: Create timeout context from the run's max duration
	timeout := w.jobTimeout
	if run.MaxDurationSeconds > 0 {
		timeout = time.Duration(run.MaxDurationSeconds) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Step 4: Start heartbeat goroutine
	heartbeatDone := make(chan struct{})
	go w.sendRunHeartbeat(runCtx, run.RunID, heartbeatDone)
	defer close(heartbeatDone)

	// Step 5: Execute
	start := time.Now()
	output, panicked, err := w.executeRun(runCtx, handler, run)

	// Step 6: Record terminal status
	if err != nil {
		status, code := domain.RunStatusFailed, domain.Code(err)
		if crashed(runCtx, err, panicked) {
			status, code = domain.RunStatusCrashed, domain.CodeCrashed
		}

		logger.Error("Run execution failed",
			slog.String("status", string(status)),
			slog.String("error_code", code),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)

		w.finish(finishCtx, logger, run.RunID, status, code, err.Error())

		if panicked {
			if f, ok := handler.(CrashFinalizer); ok {
				if ferr := f.FinalizeCrashedRun(finishCtx, run); ferr != nil {
					logger.Error("Failed to finalize crashed run", slog.String("error", ferr.Error()))
				}
			}
		}
		return nil
	}

	body, err := json.Marshal(output)
	if err != nil {
		logger.Error("Failed to marshal run output", slog.String("error", err.Error()))
		w.finish(finishCtx, logger, run.RunID, domain.RunStatusFailed, domain.CodeInternal, err.Error())
		return nil
	}

	if err := w.completeRun(finishCtx, run.RunID, body); err != nil {
		logger.Error("Failed to update run status to COMPLETED, output is lost",
			slog.Int("attempts", completeRetries),
			slog.String("output", string(body)),
			slog.String("error", err.Error()),
		)
		// the reaper crashes the run once its heartbeat goes stale
		return nil
	}

	logger.Info("Run completed successfully",
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// crashed reports whether a failed run ends CRASHED rather than FAILED: it panicked, a branch
// crashed, or the error was caused by the run's own deadline or cancellation.
func crashed(runCtx context.Context, err error, panicked bool) bool {
	if panicked || errors.Is(err, domain.ErrCrashed) {
		return true
	}
	ctxErr := runCtx.Err()
	return ctxErr != nil && errors.Is(err, ctxErr)
}

// completeRun retries CompleteRun: by now the handler's side effects, including the charge,
// have happened and only the run row is missing.
func (w *Worker) completeRun(ctx context.Context, runID string, output []byte) error {
	var err error
	for attempt := 1; attempt <= completeRetries; attempt++ {
		if err = w.storage.CompleteRun(ctx, runID, output); err == nil {
			return nil
		}
		if attempt < completeRetries {
			w.logger.Warn("Failed to complete run, retrying",
				slog.String("run_id", runID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			time.Sleep(time.Duration(attempt) * completeRetryInterval)
		}
	}
	return err
}

// executeRun calls the handler, converting a panic into an error
func (w *Worker) executeRun(ctx context.Context, handler TaskHandler, run *domain.Run) (output any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("%w: %v", domain.ErrCrashed, r)
		}
	}()

	w.logger.Info("Executing run",
		slog.String("run_id", run.RunID),
		slog.String("task_name", run.TaskName),
	)

	output, err = handler.Handle(ctx, run)
	return output, false, err
}

func (w *Worker) finish(ctx context.Context, logger *slog.Logger, runID string, status domain.RunStatus, code, message string) {
	if err := w.storage.FinishRun(ctx, runID, status, code, message); err != nil {
		logger.Error("Failed to update run status",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

// sendRunHeartbeat periodically updates the run's heartbeat timestamp
func (w *Worker) sendRunHeartbeat(ctx context.Context, runID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Run heartbeat started",
		slog.String("run_id", runID),
	)

	for {
		select {
		case <-done:
			w.logger.Debug("Run heartbeat stopped",
				slog.String("run_id", runID),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Run heartbeat stopped - context canceled",
				slog.String("run_id", runID),
			)
			return

		case <-ticker.C:
			if err := w.storage.UpdateRunHeartbeat(ctx, runID); err != nil {
				w.logger.Warn("Failed to update run heartbeat",
					slog.String("run_id", runID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
