// Package bootstrap builds the infrastructure clients shared by the binaries from configuration
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/config"
	"github.com/cuongbtq/photo-restore/internal/restoration"
	"github.com/cuongbtq/photo-restore/shared/logger"
	"github.com/cuongbtq/photo-restore/shared/minio"
	"github.com/cuongbtq/photo-restore/shared/postgresql"
	"github.com/cuongbtq/photo-restore/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/photo-restore/shared/redis"
	"github.com/cuongbtq/photo-restore/shared/s3"
	goredis "github.com/redis/go-redis/v9"
)

// ObjectStore is an object store client that can report its health
type ObjectStore interface {
	restoration.ObjectStore
	HealthCheck(ctx context.Context) error
}

// Logger initializes and configures the application logger
func Logger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// PostgreSQL initializes the PostgreSQL database client
func PostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectRetries:  cfg.ConnectRetries,
		RetryInterval:   cfg.RetryInterval,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// RabbitMQ initializes the RabbitMQ client
func RabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// Redis initializes the Redis client. It returns nil when Redis is not configured.
func Redis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*goredis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	return sharedredis.NewClient(ctx, &sharedredis.Config{
		Addr:          cfg.Addr,
		Password:      cfg.Password,
		DB:            cfg.DB,
		PoolSize:      cfg.PoolSize,
		PoolTimeout:   cfg.PoolTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
	}, logger)
}

// Storage initializes the configured object store
func Storage(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (ObjectStore, error) {
	switch cfg.Provider {
	case config.StorageProviderS3:
		return s3.NewClient(ctx, &s3.Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		}, logger)
	case config.StorageProviderMinIO:
		return minio.NewClient(ctx, &minio.Config{
			Endpoint:     cfg.MinIO.Endpoint,
			AccessKey:    cfg.MinIO.AccessKey,
			SecretKey:    cfg.MinIO.SecretKey,
			Bucket:       cfg.Bucket,
			Region:       cfg.MinIO.Region,
			UseSSL:       cfg.MinIO.UseSSL,
			CreateBucket: cfg.MinIO.CreateBucket,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider: %q", cfg.Provider)
	}
}
