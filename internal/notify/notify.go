package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Failure describes a restoration that ended without output
type Failure struct {
	UserID    string
	UserEmail string
	UserName  string
	ImageID   string
	RunID     string
	ErrorCode string
}

// Subject is the support email subject for f
func Subject(f Failure) string {
	return fmt.Sprintf("Photo restoration failed: %s", f.UserEmail)
}

// Text is the support email body for f
func Text(f Failure) string {
	name := f.UserName
	if name == "" {
		name = "Unknown"
	}
	return strings.Join([]string{
		"Photo restoration failed",
		"Email: " + f.UserEmail,
		"Name: " + name,
		"User ID: " + f.UserID,
	}, "\n")
}

// LogNotifier records failures in the log only
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyFailure(_ context.Context, f Failure) error {
	n.logger.Warn("Photo restoration failed",
		slog.String("user_id", f.UserID),
		slog.String("user_email", f.UserEmail),
		slog.String("image_id", f.ImageID),
		slog.String("run_id", f.RunID),
		slog.String("error_code", f.ErrorCode),
	)
	return nil
}
