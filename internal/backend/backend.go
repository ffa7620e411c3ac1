package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/api/storage"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/shared/rabbitmq"
	"github.com/google/uuid"
)

// DefaultMaxDuration bounds a run when no max duration is configured
const DefaultMaxDuration = 300 * time.Second

// RunStore persists runs on the trigger side
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRunByID(ctx context.Context, runID string) (*domain.Run, error)
	FailRun(ctx context.Context, runID, code, message string) error
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error)
}

// Publisher delivers run messages to the workers
type Publisher interface {
	Publish(ctx context.Context, msg rabbitmq.Message) error
}

// Backend is the trigger side of the execution backend: it records a PENDING run and
// announces it on the task queue
type Backend struct {
	runs        RunStore
	publisher   Publisher
	maxDuration time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewBackend creates a new Backend
func NewBackend(runs RunStore, publisher Publisher, maxDuration time.Duration, logger *slog.Logger) *Backend {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Backend{
		runs:        runs,
		publisher:   publisher,
		maxDuration: maxDuration,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Trigger enqueues taskName with payload and returns the run id as the handle
func (b *Backend) Trigger(ctx context.Context, userID, taskName string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", domain.ErrInvalidArgument, err)
	}

	now := b.now()
	run := &domain.Run{
		RunID:              uuid.NewString(),
		UserID:             userID,
		TaskName:           taskName,
		Payload:            body,
		Status:             domain.RunStatusPending,
		MaxDurationSeconds: int(b.maxDuration.Seconds()),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := b.runs.CreateRun(ctx, run); err != nil {
		return "", err
	}

	msg, err := json.Marshal(domain.RunMessage{RunID: run.RunID, TaskName: taskName})
	if err != nil {
		return "", fmt.Errorf("failed to marshal run message: %w", err)
	}

	err = b.publisher.Publish(ctx, rabbitmq.Message{
		ID:          run.RunID,
		Type:        taskName,
		ContentType: "application/json",
		Body:        msg,
	})
	if err != nil {
		b.logger.Error("Failed to publish run",
			slog.String("run_id", run.RunID),
			slog.String("task_name", taskName),
			slog.Any("error", err),
		)
		if failErr := b.runs.FailRun(context.WithoutCancel(ctx), run.RunID, domain.CodeInternal, "run could not be enqueued"); failErr != nil {
			b.logger.Error("Failed to mark unpublished run failed",
				slog.String("run_id", run.RunID),
				slog.Any("error", failErr),
			)
		}
		return "", fmt.Errorf("failed to publish run: %w", err)
	}

	b.logger.Debug("Run published",
		slog.String("run_id", run.RunID),
		slog.String("task_name", taskName),
		slog.String("user_id", userID),
	)

	return run.RunID, nil
}

// GetRunStatus returns the run row for a handle
func (b *Backend) GetRunStatus(ctx context.Context, runID string) (*domain.Run, error) {
	return b.runs.GetRunByID(ctx, runID)
}

// ListRuns returns up to filter.PageSize+1 runs, newest first
func (b *Backend) ListRuns(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error) {
	return b.runs.ListRuns(ctx, filter)
}
