package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/photo-restore/internal/bootstrap"
	"github.com/cuongbtq/photo-restore/internal/config"
	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/generation"
	"github.com/cuongbtq/photo-restore/internal/notify"
	"github.com/cuongbtq/photo-restore/internal/restoration"
	"github.com/cuongbtq/photo-restore/internal/worker"
	workerstorage "github.com/cuongbtq/photo-restore/internal/worker/storage"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.PostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	objectStore, err := bootstrap.Storage(ctx, &cfg.Storage, appLogger.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	invoker, err := initInvoker(ctx, &cfg.Generation, appLogger.Component("generation"))
	if err != nil {
		return fmt.Errorf("failed to initialize generation: %w", err)
	}

	orchestrator := restoration.NewOrchestrator(restoration.OrchestratorConfig{
		Repository: restoration.NewPostgresRepository(dbClient, appLogger.Component("restoration-repository")),
		Store:      objectStore,
		Invoker:    invoker,
		Ledger: credits.NewLedger(
			credits.NewPostgresStore(dbClient, appLogger.Component("credits-store")),
			appLogger.Component("credits"),
		),
		Notifier: initNotifier(&cfg.Notification, appLogger.Component("notify")),
		Logger:   appLogger.Component("orchestrator"),
	})

	registry := worker.NewRegistry()
	registry.Register(domain.TaskRestoreImage, orchestrator)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Component("worker"),
		Storage:           workerstorage.NewStorage(dbClient.GetDB(), appLogger.Component("worker-storage")),
		Source:            rabbitClient,
		Registry:          registry,
		WorkerID:          cfg.Worker.ID,
		QueueName:         cfg.RabbitMQ.Queue.Name,
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StaleRunTimeout:   cfg.Worker.StaleRunTimeout,
		ReapInterval:      cfg.Worker.ReapInterval,
	})

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		cancel()
		workerInstance.Stop()
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initInvoker initializes the configured image generation model
func initInvoker(ctx context.Context, cfg *config.GenerationConfig, logger *slog.Logger) (restoration.Invoker, error) {
	switch cfg.Provider {
	case config.GenerationProviderMock:
		logger.Warn("Using mock generation results", slog.String("file", cfg.Mock.ResultFile))
		return generation.NewFileInvoker(cfg.Mock.ResultFile, logger), nil
	case config.GenerationProviderGemini:
		return generation.NewGeminiInvoker(ctx, generation.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown generation provider: %q", cfg.Provider)
	}
}

// initNotifier initializes the failure notifier
func initNotifier(cfg *config.NotificationConfig, logger *slog.Logger) restoration.Notifier {
	if cfg.Provider == config.NotificationProviderPlunk {
		timeout := cfg.Plunk.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return notify.NewPlunkNotifier(notify.PlunkConfig{
			BaseURL:      cfg.Plunk.BaseURL,
			APIKey:       cfg.Plunk.APIKey,
			SupportEmail: cfg.Plunk.SupportEmail,
			Timeout:      timeout,
		}, logger)
	}
	return notify.NewLogNotifier(logger)
}
