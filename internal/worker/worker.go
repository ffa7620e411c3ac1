package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	workerdomain "github.com/cuongbtq/photo-restore/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultJobTimeout        = 300 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStaleRunTimeout   = 120 * time.Second
	DefaultReapInterval      = 60 * time.Second

	completeRetries       = 3
	completeRetryInterval = 200 * time.Millisecond
)

// RunStorage is the worker's view of run rows
type RunStorage interface {
	ClaimRun(ctx context.Context, runID, workerID string) (*domain.Run, error)
	CompleteRun(ctx context.Context, runID string, output []byte) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, code, message string) error
	UpdateRunHeartbeat(ctx context.Context, runID string) error
	CrashStaleRuns(ctx context.Context, staleAfter time.Duration) ([]domain.Run, error)
}

// MessageSource delivers run messages
type MessageSource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Storage           RunStorage
	Source            MessageSource
	Registry          *Registry
	WorkerID          string
	QueueName         string
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	StaleRunTimeout   time.Duration
	ReapInterval      time.Duration
}

// Worker consumes run messages and executes them on a bounded goroutine pool
type Worker struct {
	logger            *slog.Logger
	storage           RunStorage
	source            MessageSource
	registry          *Registry
	reaper            *Reaper
	workerID          string
	queueName         string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	reapInterval      time.Duration
	jobsChan          chan *workerdomain.RunMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Worker{
		logger:            cfg.Logger,
		storage:           cfg.Storage,
		source:            cfg.Source,
		registry:          registry,
		reaper:            NewReaper(cfg.Storage, registry, orDuration(cfg.StaleRunTimeout, DefaultStaleRunTimeout), cfg.Logger),
		workerID:          workerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		jobTimeout:        orDuration(cfg.JobTimeout, DefaultJobTimeout),
		heartbeatInterval: orDuration(cfg.HeartbeatInterval, DefaultHeartbeatInterval),
		reapInterval:      orDuration(cfg.ReapInterval, DefaultReapInterval),
		jobsChan:          make(chan *workerdomain.RunMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes runs until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Any("tasks", w.registry.TaskNames()),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.reaper.Run(ctx, w.reapInterval, w.stopChan)
	}()

	if err := w.startMessageDispatcher(ctx, deliveries); err != nil {
		return err
	}

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker and waits for in-flight runs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
