package restoration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/photo-restore/internal/domain"
)

// StatusError is the client-visible failure of a run
type StatusError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusView is what polling clients see for a handle
type StatusView struct {
	Status domain.RunStatus      `json:"status"`
	Output *domain.RestoreOutput `json:"output,omitempty"`
	Error  *StatusError          `json:"error,omitempty"`
}

// Facade serves run status to polling clients
type Facade struct {
	runs   RunReader
	store  ObjectStore
	logger *slog.Logger
}

// NewFacade creates a new Facade
func NewFacade(runs RunReader, store ObjectStore, logger *slog.Logger) *Facade {
	return &Facade{
		runs:   runs,
		store:  store,
		logger: logger,
	}
}

// GetStatus returns the run's status. Runs of other users read as domain.ErrNotFound.
// Output is only set for COMPLETED runs and carries signed download URLs; Error is only set for
// FAILED and CRASHED runs and never exposes the underlying cause.
func (f *Facade) GetStatus(ctx context.Context, userID, handle string) (*StatusView, error) {
	run, err := f.runs.GetRunStatus(ctx, handle)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, handle)
	}

	view := &StatusView{Status: run.Status}

	switch run.Status {
	case domain.RunStatusCompleted:
		output, err := f.output(ctx, run)
		if err != nil {
			return nil, err
		}
		view.Output = output
	case domain.RunStatusFailed, domain.RunStatusCrashed:
		code := domain.CodeInternal
		if run.ErrorCode != nil && *run.ErrorCode != "" {
			code = *run.ErrorCode
		}
		if run.Status == domain.RunStatusCrashed {
			code = domain.CodeCrashed
		}
		view.Error = &StatusError{Code: code, Message: domain.PublicMessage(code)}
	}

	return view, nil
}

func (f *Facade) output(ctx context.Context, run *domain.Run) (*domain.RestoreOutput, error) {
	if len(run.Output) == 0 {
		return nil, nil
	}

	var output domain.RestoreOutput
	if err := json.Unmarshal(run.Output, &output); err != nil {
		f.logger.Error("Failed to decode run output",
			slog.String("run_id", run.RunID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to decode run output: %w", err)
	}

	for i := range output.Restorations {
		url, err := f.store.SignedDownloadURL(ctx, output.Restorations[i].BlobKey, DownloadURLExpiry)
		if err != nil {
			return nil, fmt.Errorf("%w: sign download url: %v", domain.ErrStorage, err)
		}
		output.Restorations[i].DownloadURL = url
	}

	return &output, nil
}
