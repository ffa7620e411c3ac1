package domain

import "time"

// RunStatus is the execution backend's run status surfaced to polling clients
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusExecuting RunStatus = "EXECUTING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCrashed   RunStatus = "CRASHED"
)

// IsTerminal reports whether pollers can stop polling
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCrashed
}

// TaskRestoreImage is the task name of a restoration job
const TaskRestoreImage = "restore-image"

// Run is one execution of a background task. Its RunID is the handle returned to clients.
type Run struct {
	RunID              string     `db:"run_id"`
	UserID             string     `db:"user_id"`
	TaskName           string     `db:"task_name"`
	Payload            []byte     `db:"payload"`
	Status             RunStatus  `db:"status"`
	WorkerID           *string    `db:"worker_id"`
	Output             []byte     `db:"output"`
	ErrorCode          *string    `db:"error_code"`
	ErrorMessage       *string    `db:"error_message"`
	MaxDurationSeconds int        `db:"max_duration_seconds"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
	StartedAt          *time.Time `db:"started_at"`
	LastHeartbeatAt    *time.Time `db:"last_heartbeat_at"`
	CompletedAt        *time.Time `db:"completed_at"`
}

// RestorePayload is the payload of a restore-image run
type RestorePayload struct {
	ImageID    string     `json:"imageId"`
	UserID     string     `json:"userId"`
	UserEmail  string     `json:"userEmail,omitempty"`
	UserName   string     `json:"userName,omitempty"`
	ImageCount int        `json:"imageCount"`
	Resolution Resolution `json:"resolution"`
}

// RestoreOutput is the output of a completed restore-image run
type RestoreOutput struct {
	ImageID      string              `json:"imageId"`
	OriginalKey  string              `json:"originalKey"`
	Count        int                 `json:"count"`
	Resolution   Resolution          `json:"resolution"`
	CreditsUsed  int64               `json:"creditsUsed"`
	Restorations []RestorationResult `json:"restorations"`
}

// RestorationResult describes one completed attempt
type RestorationResult struct {
	AttemptID   string `json:"attemptId"`
	BlobKey     string `json:"blobKey"`
	Size        int    `json:"size"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// RunMessage is the queue message announcing a PENDING run to the workers
type RunMessage struct {
	RunID    string `json:"run_id"`
	TaskName string `json:"task_name"`
}
