package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/photo-restore/internal/api/storage"
	"github.com/cuongbtq/photo-restore/internal/billing"
	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/restoration"
)

// Restorations is the restoration API service
type Restorations interface {
	CreateUploadSlot(ctx context.Context, userID, mimeType string) (*restoration.UploadSlot, error)
	StartRestoration(ctx context.Context, req restoration.StartRequest) (string, error)
	UploadAndStart(ctx context.Context, req restoration.InlineRequest) (*restoration.InlineResult, error)
	DeleteImage(ctx context.Context, userID, imageID string) error
	ListPhotos(ctx context.Context, userID string) ([]restoration.Photo, error)
}

// StatusReader serves run status to polling clients
type StatusReader interface {
	GetStatus(ctx context.Context, userID, handle string) (*restoration.StatusView, error)
}

// RunLister lists runs of the execution backend
type RunLister interface {
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error)
}

// CreditLedger is the part of the credit ledger exposed over HTTP
type CreditLedger interface {
	GetBalance(ctx context.Context, userID string) (*credits.Balance, error)
	Topup(ctx context.Context, userID string, amount int64, reason string) (*credits.Result, error)
	ListTransactions(ctx context.Context, userID string, limit int, cursor string) (*credits.Page, error)
}

// EventHandler consumes billing provider events
type EventHandler interface {
	HandleEvent(ctx context.Context, e billing.Event) (billing.Outcome, error)
}

// HealthChecker reports the health of one dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Restorations  Restorations
	Status        StatusReader
	Runs          RunLister
	Ledger        CreditLedger
	Billing       EventHandler
	WebhookSecret string
	HealthChecks  map[string]HealthChecker
}

// ImageHandler handles image upload, gallery and delete requests
type ImageHandler struct {
	logger       *slog.Logger
	restorations Restorations
}

// NewImageHandler creates a new ImageHandler instance
func NewImageHandler(deps *Dependencies) *ImageHandler {
	return &ImageHandler{
		logger:       deps.Logger.With(slog.String("component", "image-handler")),
		restorations: deps.Restorations,
	}
}

// RestorationHandler handles restoration trigger and polling requests
type RestorationHandler struct {
	logger       *slog.Logger
	restorations Restorations
	status       StatusReader
	runs         RunLister
}

// NewRestorationHandler creates a new RestorationHandler instance
func NewRestorationHandler(deps *Dependencies) *RestorationHandler {
	return &RestorationHandler{
		logger:       deps.Logger.With(slog.String("component", "restoration-handler")),
		restorations: deps.Restorations,
		status:       deps.Status,
		runs:         deps.Runs,
	}
}

// CreditHandler handles credit balance requests
type CreditHandler struct {
	logger *slog.Logger
	ledger CreditLedger
}

// NewCreditHandler creates a new CreditHandler instance
func NewCreditHandler(deps *Dependencies) *CreditHandler {
	return &CreditHandler{
		logger: deps.Logger.With(slog.String("component", "credit-handler")),
		ledger: deps.Ledger,
	}
}

// WebhookHandler handles billing provider webhooks
type WebhookHandler struct {
	logger  *slog.Logger
	billing EventHandler
	secret  string
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:  deps.Logger.With(slog.String("component", "webhook-handler")),
		billing: deps.Billing,
		secret:  deps.WebhookSecret,
	}
}

// HealthHandler reports service health
type HealthHandler struct {
	checks map[string]HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{checks: deps.HealthChecks}
}
