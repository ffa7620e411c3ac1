package router

import (
	"time"

	"github.com/cuongbtq/photo-restore/internal/api/handler"
	"github.com/cuongbtq/photo-restore/internal/idempotency"
	"github.com/gin-gonic/gin"
)

// Options configures optional router features
type Options struct {
	// Idempotency enables X-Idempotency-Key handling on mutating routes when set
	Idempotency    idempotency.Backend
	IdempotencyTTL time.Duration

	// MaxInlineUploadBytes caps inline upload bodies. Zero disables the limit.
	MaxInlineUploadBytes int64
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", handler.NewHealthHandler(deps).Health)

	imageHandler := handler.NewImageHandler(deps)
	restorationHandler := handler.NewRestorationHandler(deps)
	creditHandler := handler.NewCreditHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)

	idempotent := func(c *gin.Context) { c.Next() }
	if opts.Idempotency != nil {
		idempotent = idempotency.Middleware(opts.Idempotency, opts.IdempotencyTTL, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1", handler.RequireIdentity())
	{
		images := v1.Group("/images")
		{
			// POST /api/v1/images/upload-url - Create an image and its upload URL
			images.POST("/upload-url", imageHandler.CreateUploadURL)

			// GET /api/v1/images - Gallery of the caller's photos
			images.GET("", imageHandler.ListPhotos)

			// DELETE /api/v1/images/:image_id - Delete a photo and its restorations
			images.DELETE("/:image_id", imageHandler.DeleteImage)
		}

		restorations := v1.Group("/restorations")
		{
			// POST /api/v1/restorations - Start a restoration of an uploaded image
			restorations.POST("", idempotent, restorationHandler.StartRestoration)

			// POST /api/v1/restorations/inline - Upload and restore in one request
			restorations.POST("/inline", BodyLimitMiddleware(opts.MaxInlineUploadBytes), idempotent, restorationHandler.StartInlineRestoration)

			// GET /api/v1/restorations - List restoration runs
			restorations.GET("", restorationHandler.ListRestorations)

			// GET /api/v1/restorations/:handle - Poll a restoration
			restorations.GET("/:handle", restorationHandler.GetStatus)
		}

		credits := v1.Group("/credits")
		{
			credits.GET("/balance", creditHandler.GetBalance)
			credits.POST("/topup", idempotent, creditHandler.Topup)
			credits.GET("/transactions", creditHandler.ListTransactions)
		}
	}

	// Provider webhooks authenticate with a signature instead of identity headers
	r.POST("/webhooks/billing", webhookHandler.HandleBillingEvent)

	return r
}
