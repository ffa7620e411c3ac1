package restoration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/notify"
	"github.com/cuongbtq/photo-restore/internal/prompt"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const notifyTimeout = 10 * time.Second

// OrchestratorConfig holds the dependencies of an Orchestrator
type OrchestratorConfig struct {
	Repository Repository
	Store      ObjectStore
	Invoker    Invoker
	Prompts    *prompt.Builder
	Ledger     Ledger
	Notifier   Notifier
	Logger     *slog.Logger
}

// Orchestrator executes restore-image runs: N attempts in parallel, then a single charge
// when every attempt succeeded
type Orchestrator struct {
	repo     Repository
	store    ObjectStore
	invoker  Invoker
	prompts  *prompt.Builder
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	prompts := cfg.Prompts
	if prompts == nil {
		prompts = prompt.NewDefaultBuilder()
	}
	return &Orchestrator{
		repo:     cfg.Repository,
		store:    cfg.Store,
		invoker:  cfg.Invoker,
		prompts:  prompts,
		ledger:   cfg.Ledger,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle decodes the run payload and executes it. It is registered with the worker for
// domain.TaskRestoreImage.
func (o *Orchestrator) Handle(ctx context.Context, run *domain.Run) (any, error) {
	var payload domain.RestorePayload
	if err := json.Unmarshal(run.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: restore payload: %v", domain.ErrInvalidArgument, err)
	}
	return o.Run(ctx, run.RunID, payload)
}

// Run executes one restoration job. On failure no credits are charged and every attempt of the
// run that is still PENDING is marked FAILED.
func (o *Orchestrator) Run(ctx context.Context, runID string, p domain.RestorePayload) (*domain.RestoreOutput, error) {
	logger := o.logger.With(
		slog.String("run_id", runID),
		slog.String("image_id", p.ImageID),
		slog.String("user_id", p.UserID),
	)

	resolution, err := domain.ParseResolution(string(p.Resolution))
	if err != nil {
		return nil, o.fail(ctx, logger, runID, p, err)
	}
	count, err := resolveImageCount(p.ImageCount, DefaultImageCount)
	if err != nil {
		return nil, o.fail(ctx, logger, runID, p, err)
	}

	image, err := o.repo.GetImage(ctx, p.ImageID)
	if err != nil {
		return nil, o.fail(ctx, logger, runID, p, err)
	}
	if image.UserID != p.UserID {
		return nil, o.fail(ctx, logger, runID, p, fmt.Errorf("%w: image %s", domain.ErrNotFound, p.ImageID))
	}

	attempts := make([]domain.RestoredImage, count)
	for i := range attempts {
		attempts[i] = domain.RestoredImage{
			ID:        uuid.NewString(),
			ImageID:   image.ID,
			RunID:     &runID,
			Status:    domain.AttemptStatusPending,
			CreatedAt: o.now(),
		}
	}
	if err := o.repo.CreateAttempts(ctx, attempts); err != nil {
		return nil, o.fail(ctx, logger, runID, p, err)
	}

	source, contentType, err := o.store.Download(ctx, image.OriginalBlobKey)
	if err != nil {
		return nil, o.fail(ctx, logger, runID, p, fmt.Errorf("%w: download original: %w", domain.ErrStorage, err))
	}
	mimeType := contentType
	if mimeType == "" {
		mimeType = image.MimeType
	}
	if mimeType == "" {
		mimeType = domain.DefaultMimeType
	}

	logger.Info("Restoration started",
		slog.Int("image_count", count),
		slog.String("resolution", string(resolution)),
		slog.Int("source_size", len(source)),
	)

	// Branches do not cancel each other: every attempt reaches a terminal state before the join.
	results := make([]domain.RestorationResult, count)
	var g errgroup.Group
	for i := range attempts {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Restoration attempt panicked",
						slog.String("attempt_id", attempts[i].ID),
						slog.Any("panic", r),
					)
					err = fmt.Errorf("%w: attempt %s panicked: %v", domain.ErrCrashed, attempts[i].ID, r)
				}
			}()

			result, err := o.runAttempt(ctx, logger, i, attempts[i], p.UserID, source, mimeType, resolution)
			if err != nil {
				return err
			}
			results[i] = *result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, o.fail(ctx, logger, runID, p, err)
	}

	// the image may have been deleted while the attempts ran
	if _, err := o.repo.GetImage(ctx, image.ID); err != nil {
		o.removeOutputs(ctx, logger, results)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Image deleted during restoration, nothing charged")
			return nil, err
		}
		return nil, o.fail(ctx, logger, runID, p, err)
	}

	required := resolution.Credits()
	_, err = o.ledger.Consume(ctx, credits.ConsumeParams{
		UserID:            p.UserID,
		Amount:            required,
		Reason:            consumeReason,
		RelatedEntityID:   image.ID,
		RelatedEntityType: domain.RelatedEntityImage,
		Metadata: map[string]any{
			"imageCount":  count,
			"resolution":  string(resolution),
			"creditsUsed": required,
			"runId":       runID,
		},
	})
	if err != nil {
		attemptIDs := make([]string, len(results))
		sizes := make([]int, len(results))
		for i, r := range results {
			attemptIDs[i] = r.AttemptID
			sizes[i] = r.Size
		}
		logger.Error("restoration generated without consuming credits",
			slog.Any("attempt_ids", attemptIDs),
			slog.Any("sizes", sizes),
			slog.Int64("credits", required),
			slog.Any("error", err),
		)
		o.notify(ctx, logger, runID, p, domain.Code(err))
		return nil, err
	}

	logger.Info("Restoration completed",
		slog.Int("image_count", count),
		slog.Int64("credits_used", required),
	)

	return &domain.RestoreOutput{
		ImageID:      image.ID,
		OriginalKey:  image.OriginalBlobKey,
		Count:        count,
		Resolution:   resolution,
		CreditsUsed:  required,
		Restorations: results,
	}, nil
}

// FinalizeCrashedRun fails the attempts a crashed run left PENDING and reports the failure
func (o *Orchestrator) FinalizeCrashedRun(ctx context.Context, run *domain.Run) error {
	var p domain.RestorePayload
	if err := json.Unmarshal(run.Payload, &p); err != nil {
		return fmt.Errorf("%w: restore payload: %v", domain.ErrInvalidArgument, err)
	}

	logger := o.logger.With(
		slog.String("run_id", run.RunID),
		slog.String("image_id", p.ImageID),
		slog.String("user_id", p.UserID),
	)

	if _, err := o.repo.FailPendingAttempts(ctx, run.RunID); err != nil {
		return err
	}
	o.notify(ctx, logger, run.RunID, p, domain.CodeCrashed)
	return nil
}

func (o *Orchestrator) runAttempt(ctx context.Context, logger *slog.Logger, index int, attempt domain.RestoredImage, userID string, source []byte, mimeType string, resolution domain.Resolution) (*domain.RestorationResult, error) {
	variant := o.prompts.VariantForIndex(index)
	logger = logger.With(
		slog.String("attempt_id", attempt.ID),
		slog.String("variant", variant),
	)

	data, err := o.invoker.Restore(ctx, source, mimeType, o.prompts.Build(variant), resolution)
	if err != nil {
		o.markFailed(ctx, logger, attempt.ID)
		return nil, err
	}

	key := domain.RestoredKey(userID, attempt.ID)
	if err := o.store.Upload(ctx, key, data, domain.RestoredMimeType); err != nil {
		o.markFailed(ctx, logger, attempt.ID)
		return nil, fmt.Errorf("%w: upload restored image: %w", domain.ErrStorage, err)
	}

	if err := o.repo.MarkAttemptCompleted(ctx, attempt.ID, key); err != nil {
		o.markFailed(ctx, logger, attempt.ID)
		if delErr := o.store.DeleteMany(context.WithoutCancel(ctx), []string{key}); delErr != nil {
			logger.Warn("Failed to remove output of failed attempt",
				slog.String("key", key),
				slog.Any("error", delErr),
			)
		}
		return nil, err
	}

	logger.Debug("Restoration attempt completed", slog.Int("size", len(data)))

	return &domain.RestorationResult{
		AttemptID: attempt.ID,
		BlobKey:   key,
		Size:      len(data),
	}, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, logger *slog.Logger, attemptID string) {
	if err := o.repo.MarkAttemptFailed(context.WithoutCancel(ctx), attemptID); err != nil {
		logger.Error("Failed to mark attempt failed", slog.Any("error", err))
	}
}

// fail runs the compensation of a failed run on a context that outlives the run deadline
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, runID string, p domain.RestorePayload, cause error) error {
	bg := context.WithoutCancel(ctx)

	if _, err := o.repo.FailPendingAttempts(bg, runID); err != nil {
		logger.Error("Failed to fail pending attempts", slog.Any("error", err))
	}

	code := domain.Code(cause)

	logger.Warn("Restoration failed",
		slog.String("error_code", code),
		slog.Any("error", cause),
	)
	o.notify(bg, logger, runID, p, code)
	return cause
}

func (o *Orchestrator) removeOutputs(ctx context.Context, logger *slog.Logger, results []domain.RestorationResult) {
	keys := make([]string, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.BlobKey)
	}
	if err := o.store.DeleteMany(context.WithoutCancel(ctx), keys); err != nil {
		logger.Warn("Failed to remove restoration outputs",
			slog.Any("keys", keys),
			slog.Any("error", err),
		)
	}
}

// notify is best effort; errors are logged and swallowed
func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, runID string, p domain.RestorePayload, code string) {
	if o.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := o.notifier.NotifyFailure(ctx, notify.Failure{
		UserID:    p.UserID,
		UserEmail: p.UserEmail,
		UserName:  p.UserName,
		ImageID:   p.ImageID,
		RunID:     runID,
		ErrorCode: code,
	})
	if err != nil {
		logger.Warn("Failed to send failure notification", slog.Any("error", err))
	}
}
