package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultPlunkBaseURL = "https://api.useplunk.com"

// PlunkConfig configures the Plunk transactional email API
type PlunkConfig struct {
	BaseURL      string
	APIKey       string
	SupportEmail string
	Timeout      time.Duration
}

type plunkSendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Text    string `json:"text"`
}

// PlunkNotifier emails failures to the support address
type PlunkNotifier struct {
	client *resty.Client
	to     string
	logger *slog.Logger
}

// NewPlunkNotifier creates a new PlunkNotifier
func NewPlunkNotifier(cfg PlunkConfig, logger *slog.Logger) *PlunkNotifier {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultPlunkBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &PlunkNotifier{
		client: client,
		to:     cfg.SupportEmail,
		logger: logger,
	}
}

// NotifyFailure sends the support email. Failures of users without an email address are skipped.
func (n *PlunkNotifier) NotifyFailure(ctx context.Context, f Failure) error {
	if f.UserEmail == "" {
		n.logger.Debug("Skipping failure email, user has no email address",
			slog.String("user_id", f.UserID),
			slog.String("run_id", f.RunID),
		)
		return nil
	}

	text := Text(f)
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(plunkSendRequest{
			To:      n.to,
			Subject: Subject(f),
			Body:    text,
			Text:    text,
		}).
		Post("/v1/send")
	if err != nil {
		return fmt.Errorf("failed to send failure email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to send failure email: status %d", resp.StatusCode())
	}

	n.logger.Info("Failure email sent",
		slog.String("user_id", f.UserID),
		slog.String("run_id", f.RunID),
	)
	return nil
}
