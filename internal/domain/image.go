package domain

import (
	"fmt"
	"time"
)

// AttemptStatus is the lifecycle of one restoration attempt: PENDING then COMPLETED or FAILED
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "PENDING"
	AttemptStatusCompleted AttemptStatus = "COMPLETED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
)

// IsTerminal reports whether the attempt can no longer change
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusFailed
}

const (
	// DefaultMimeType is assumed for uploads and downloads that carry no content type
	DefaultMimeType = "image/jpeg"

	// RestoredMimeType is the content type of generated outputs
	RestoredMimeType = "image/png"

	// RelatedEntityImage tags ledger consumptions with the source image
	RelatedEntityImage = "IMAGE"
)

// Image is an uploaded source photo
type Image struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	OriginalBlobKey string    `db:"original_blob_key"`
	MimeType        string    `db:"mime_type"`
	CreatedAt       time.Time `db:"created_at"`
}

// RestoredImage is one attempt at restoring an Image.
// Its blob exists iff Status is COMPLETED.
type RestoredImage struct {
	ID          string        `db:"id"`
	ImageID     string        `db:"image_id"`
	RunID       *string       `db:"run_id"`
	BlobKey     *string       `db:"blob_key"`
	Status      AttemptStatus `db:"status"`
	CreditsUsed *int64        `db:"credits_used"`
	CreatedAt   time.Time     `db:"created_at"`
}

// ImageKey is the object key of a user's source image
func ImageKey(userID, imageID string) string {
	return fmt.Sprintf("users/%s/images/%s", userID, imageID)
}

// RestoredKey is the object key of a restored attempt output
func RestoredKey(userID, attemptID string) string {
	return fmt.Sprintf("users/%s/restored/%s", userID, attemptID)
}
