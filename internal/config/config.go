package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/photo-restore/internal/billing"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Object store providers
const (
	StorageProviderS3    = "s3"
	StorageProviderMinIO = "minio"
)

// Generation providers
const (
	GenerationProviderGemini = "gemini"
	GenerationProviderMock   = "mock"
)

// Notification providers
const (
	NotificationProviderLog   = "log"
	NotificationProviderPlunk = "plunk"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Redis        RedisConfig        `yaml:"redis"`
	Storage      StorageConfig      `yaml:"storage"`
	Generation   GenerationConfig   `yaml:"generation"`
	Restoration  RestorationConfig  `yaml:"restoration"`
	Billing      BillingConfig      `yaml:"billing"`
	Notification NotificationConfig `yaml:"notification"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxInlineUploadBytes caps the request body of inline uploads, base64 included
	MaxInlineUploadBytes int64 `yaml:"max_inline_upload_bytes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectRetries  int           `yaml:"connect_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// DeadLetterConfig names where rejected run messages go. Empty disables dead lettering.
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds Redis connection configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	PoolTimeout   time.Duration `yaml:"pool_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Provider string      `yaml:"provider"`
	Bucket   string      `yaml:"bucket"`
	S3       S3Config    `yaml:"s3"`
	MinIO    MinIOConfig `yaml:"minio"`
}

// S3Config holds AWS S3 settings
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// MinIOConfig holds MinIO settings
type MinIOConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// GenerationConfig selects and configures the image generation model
type GenerationConfig struct {
	Provider string       `yaml:"provider"`
	Gemini   GeminiConfig `yaml:"gemini"`
	Mock     MockConfig   `yaml:"mock"`
}

// GeminiConfig holds Gemini API settings
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// MockConfig points the mock generator at a file returned for every attempt
type MockConfig struct {
	ResultFile string `yaml:"result_file"`
}

// RestorationConfig holds restoration defaults
type RestorationConfig struct {
	DefaultImageCount int           `yaml:"default_image_count"`
	MaxDuration       time.Duration `yaml:"max_duration"`
}

// BillingConfig holds the subscription plans and the webhook secret
type BillingConfig struct {
	WebhookSecret string         `yaml:"webhook_secret"`
	Plans         []billing.Plan `yaml:"plans"`
}

// NotificationConfig selects how failed restorations are reported
type NotificationConfig struct {
	Provider string      `yaml:"provider"`
	Plunk    PlunkConfig `yaml:"plunk"`
}

// PlunkConfig holds Plunk email API settings
type PlunkConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	SupportEmail string        `yaml:"support_email"`
	Timeout      time.Duration `yaml:"timeout"`
}

// IdempotencyConfig holds HTTP idempotency settings. It only applies when Redis is enabled.
type IdempotencyConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleRunTimeout   time.Duration `yaml:"stale_run_timeout"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file. ${VAR} references are expanded from the
// environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	return &config, nil
}

// DefaultMaxInlineUploadBytes is the inline upload body limit when none is configured
const DefaultMaxInlineUploadBytes int64 = 16 << 20

func (c *Config) setDefaults() {
	if c.Server.MaxInlineUploadBytes == 0 {
		c.Server.MaxInlineUploadBytes = DefaultMaxInlineUploadBytes
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = StorageProviderS3
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = GenerationProviderGemini
	}
	if c.Notification.Provider == "" {
		c.Notification.Provider = NotificationProviderLog
	}
	if c.Idempotency.KeyPrefix == "" {
		c.Idempotency.KeyPrefix = "photo-restore"
	}
}

// Validate checks the sections shared by every binary
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

// ValidateAPIConfig checks the configuration of the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.MaxInlineUploadBytes < 0 {
		return fmt.Errorf("server max_inline_upload_bytes must not be negative")
	}

	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Restoration.DefaultImageCount < 0 || c.Restoration.DefaultImageCount > 10 {
		return fmt.Errorf("restoration default_image_count must be between 1 and 10")
	}

	for _, p := range c.Billing.Plans {
		if p.ID == "" {
			return fmt.Errorf("billing plan id is required")
		}
		if p.Credits <= 0 {
			return fmt.Errorf("billing plan %s: credits must be greater than 0", p.ID)
		}
		if len(p.ProductIDs) == 0 {
			return fmt.Errorf("billing plan %s: at least one product id is required", p.ID)
		}
	}

	return nil
}

// ValidateWorkerConfig checks the configuration of the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.StaleRunTimeout != 0 && c.Worker.StaleRunTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stale_run_timeout must be greater than heartbeat_interval")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	switch c.Generation.Provider {
	case GenerationProviderGemini:
		if c.Generation.Gemini.APIKey == "" {
			return fmt.Errorf("generation gemini api_key is required")
		}
	case GenerationProviderMock:
		if c.Generation.Mock.ResultFile == "" {
			return fmt.Errorf("generation mock result_file is required")
		}
	default:
		return fmt.Errorf("unknown generation provider: %q", c.Generation.Provider)
	}

	switch c.Notification.Provider {
	case NotificationProviderLog:
	case NotificationProviderPlunk:
		if c.Notification.Plunk.APIKey == "" {
			return fmt.Errorf("notification plunk api_key is required")
		}
	default:
		return fmt.Errorf("unknown notification provider: %q", c.Notification.Provider)
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	switch c.Storage.Provider {
	case StorageProviderS3:
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage s3 region is required")
		}
	case StorageProviderMinIO:
		if c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("storage minio endpoint is required")
		}
	default:
		return fmt.Errorf("unknown storage provider: %q", c.Storage.Provider)
	}

	return nil
}
