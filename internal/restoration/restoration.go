package restoration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/notify"
	"github.com/cuongbtq/photo-restore/internal/prompt"
)

const (
	DefaultImageCount = 3
	MaxImageCount     = 10

	// DownloadURLExpiry is the lifetime of signed URLs handed to clients for viewing images
	DownloadURLExpiry = 300 * time.Second

	// InlineMimeType is assumed for inline uploads that carry no content type
	InlineMimeType = "image/png"

	consumeReason = "Photo restoration"
)

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/heic": {},
	"image/heif": {},
}

// NormalizeMimeType lower-cases the mime type and checks it against the accepted image types.
// Empty input yields def.
func NormalizeMimeType(mimeType, def string) (string, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt == "" {
		mt = def
	}
	if _, ok := allowedMimeTypes[mt]; !ok {
		return "", fmt.Errorf("%w: unsupported mime type %q", domain.ErrInvalidArgument, mimeType)
	}
	return mt, nil
}

// resolveImageCount applies the default for 0 and rejects counts outside [1, MaxImageCount]
func resolveImageCount(n, def int) (int, error) {
	if n == 0 {
		n = def
	}
	if n == 0 {
		n = DefaultImageCount
	}
	if n < 1 || n > MaxImageCount {
		return 0, fmt.Errorf("%w: imageCount must be between 1 and %d", domain.ErrInvalidArgument, MaxImageCount)
	}
	return n, nil
}

// Repository persists images and restoration attempts
type Repository interface {
	CreateImage(ctx context.Context, image *domain.Image) error

	// GetImage returns domain.ErrNotFound for unknown ids
	GetImage(ctx context.Context, imageID string) (*domain.Image, error)

	// ListImages returns the user's images, newest first
	ListImages(ctx context.Context, userID string) ([]domain.Image, error)

	// DeleteImage removes the image and its attempts and returns the blob keys of the removed attempts
	DeleteImage(ctx context.Context, imageID string) ([]string, error)

	CreateAttempts(ctx context.Context, attempts []domain.RestoredImage) error

	// MarkAttemptCompleted and MarkAttemptFailed only move PENDING attempts
	MarkAttemptCompleted(ctx context.Context, attemptID, blobKey string) error
	MarkAttemptFailed(ctx context.Context, attemptID string) error

	// FailPendingAttempts moves every PENDING attempt of the run to FAILED and returns how many moved
	FailPendingAttempts(ctx context.Context, runID string) (int64, error)

	ListAttemptsByImage(ctx context.Context, imageID string) ([]domain.RestoredImage, error)

	// ListAttemptsByImages returns attempts of the given images, newest first
	ListAttemptsByImages(ctx context.Context, imageIDs []string) ([]domain.RestoredImage, error)
}

// ObjectStore is the blob store holding originals and restored outputs
type ObjectStore interface {
	SignedUploadURL(ctx context.Context, key, contentType string) (string, error)
	SignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, string, error)
	DeleteMany(ctx context.Context, keys []string) error
}

// Invoker restores one image with the generative model
type Invoker interface {
	Restore(ctx context.Context, image []byte, mimeType string, doc prompt.Document, resolution domain.Resolution) ([]byte, error)
}

// Ledger is the part of the credit ledger used by restorations
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (*credits.Balance, error)
	Consume(ctx context.Context, p credits.ConsumeParams) (*credits.Result, error)
}

// Notifier reports failed restorations to operators
type Notifier interface {
	NotifyFailure(ctx context.Context, f notify.Failure) error
}

// Trigger enqueues a background task and returns the run handle
type Trigger interface {
	Trigger(ctx context.Context, userID, taskName string, payload any) (string, error)
}

// RunReader reads runs of the execution backend
type RunReader interface {
	// GetRunStatus returns domain.ErrNotFound for unknown handles
	GetRunStatus(ctx context.Context, runID string) (*domain.Run, error)
}
