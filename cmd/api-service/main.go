package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/photo-restore/internal/api/handler"
	"github.com/cuongbtq/photo-restore/internal/api/router"
	"github.com/cuongbtq/photo-restore/internal/api/storage"
	"github.com/cuongbtq/photo-restore/internal/backend"
	"github.com/cuongbtq/photo-restore/internal/billing"
	"github.com/cuongbtq/photo-restore/internal/bootstrap"
	"github.com/cuongbtq/photo-restore/internal/config"
	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/idempotency"
	"github.com/cuongbtq/photo-restore/internal/restoration"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	initCtx := context.Background()

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.PostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize object store
	objectStore, err := bootstrap.Storage(initCtx, &cfg.Storage, appLogger.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	// Initialize Redis client (optional)
	redisClient, err := bootstrap.Redis(initCtx, &cfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	routerOpts := router.Options{MaxInlineUploadBytes: cfg.Server.MaxInlineUploadBytes}
	if redisClient != nil {
		defer redisClient.Close()
		routerOpts.Idempotency = idempotency.NewStore(redisClient, cfg.Idempotency.KeyPrefix)
		routerOpts.IdempotencyTTL = cfg.Idempotency.TTL
		appLogger.Info("Request idempotency enabled")
	}

	// Wire services
	ledger := credits.NewLedger(
		credits.NewPostgresStore(dbClient, appLogger.Component("credits-store")),
		appLogger.Component("credits"),
	)

	runs := backend.NewBackend(
		storage.NewStorage(dbClient),
		rabbitClient,
		cfg.Restoration.MaxDuration,
		appLogger.Component("backend"),
	)

	service := restoration.NewService(restoration.ServiceConfig{
		Repository:        restoration.NewPostgresRepository(dbClient, appLogger.Component("restoration-repository")),
		Store:             objectStore,
		Ledger:            ledger,
		Trigger:           runs,
		DefaultImageCount: cfg.Restoration.DefaultImageCount,
		Logger:            appLogger.Component("restoration"),
	})

	deps := &handler.Dependencies{
		Logger:        appLogger.Logger,
		Restorations:  service,
		Status:        restoration.NewFacade(runs, objectStore, appLogger.Component("status")),
		Runs:          runs,
		Ledger:        ledger,
		Billing:       billing.NewGranter(ledger, cfg.Billing.Plans, appLogger.Component("billing")),
		WebhookSecret: cfg.Billing.WebhookSecret,
		HealthChecks: map[string]handler.HealthChecker{
			"database": dbClient,
			"rabbitmq": handler.HealthCheckFunc(func(context.Context) error {
				if !rabbitClient.IsConnected() {
					return fmt.Errorf("not connected")
				}
				return nil
			}),
			"storage": objectStore,
		},
	}

	if cfg.Billing.WebhookSecret == "" {
		appLogger.Warn("Billing webhook secret not configured, signatures are not verified")
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, deps, routerOpts)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies, opts router.Options) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, opts)
}
