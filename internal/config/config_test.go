package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/photo-restore/internal/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "photo_restore", cfg.Database.Database)
				assert.Equal(t, "restoration_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "restoration_runs", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "restoration_runs_dlq", cfg.RabbitMQ.DeadLetter.Queue)
				assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.True(t, cfg.Redis.Enabled())
				assert.Equal(t, StorageProviderMinIO, cfg.Storage.Provider)
				assert.Equal(t, GenerationProviderMock, cfg.Generation.Provider)
				assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
				assert.Equal(t, 2*time.Minute, cfg.Worker.StaleRunTimeout)
				assert.Equal(t, "photo-restore-api", cfg.App.Name)
				require.Len(t, cfg.Billing.Plans, 2)
				assert.Equal(t, billing.Plan{
					ID:         "basic",
					Credits:    10,
					ProductIDs: []string{"prod_basic_monthly", "prod_basic_yearly"},
				}, cfg.Billing.Plans[0])
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/missing_database.yaml")
	require.NoError(t, err)

	assert.Equal(t, StorageProviderS3, cfg.Storage.Provider)
	assert.Equal(t, GenerationProviderGemini, cfg.Generation.Provider)
	assert.Equal(t, NotificationProviderLog, cfg.Notification.Provider)
	assert.Equal(t, "photo-restore", cfg.Idempotency.KeyPrefix)
	assert.Equal(t, DefaultMaxInlineUploadBytes, cfg.Server.MaxInlineUploadBytes)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("PHOTO_RESTORE_TEST_DB_PASSWORD", "s3cret")
	t.Setenv("PHOTO_RESTORE_TEST_GEMINI_KEY", "gm-key")

	cfg, err := Load("testdata/env_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "gm-key", cfg.Generation.Gemini.APIKey)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "photo_restore",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "restoration_exchange"},
			Queue:    QueueConfig{Name: "restoration_runs"},
		},
		Storage: StorageConfig{
			Provider: StorageProviderS3,
			Bucket:   "photos",
			S3:       S3Config{Region: "us-east-1"},
		},
		Generation: GenerationConfig{
			Provider: GenerationProviderGemini,
			Gemini:   GeminiConfig{APIKey: "key"},
		},
		Notification: NotificationConfig{Provider: NotificationProviderLog},
		Billing: BillingConfig{Plans: []billing.Plan{
			{ID: "basic", Credits: 10, ProductIDs: []string{"prod_basic"}},
		}},
		Worker: WorkerConfig{
			Concurrency:       4,
			JobTimeout:        5 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			StaleRunTimeout:   2 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			modify: func(*Config) {},
		},
		{
			name:      "invalid server port - too low",
			modify:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			modify:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "negative inline upload limit",
			modify:    func(c *Config) { c.Server.MaxInlineUploadBytes = -1 },
			errString: "max_inline_upload_bytes",
		},
		{
			name:      "empty database host",
			modify:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			modify:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			modify:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			modify:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			modify:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "empty bucket",
			modify:    func(c *Config) { c.Storage.Bucket = "" },
			errString: "storage bucket is required",
		},
		{
			name:      "unknown storage provider",
			modify:    func(c *Config) { c.Storage.Provider = "gcs" },
			errString: "unknown storage provider",
		},
		{
			name: "minio without endpoint",
			modify: func(c *Config) {
				c.Storage.Provider = StorageProviderMinIO
			},
			errString: "storage minio endpoint is required",
		},
		{
			name:      "default image count out of range",
			modify:    func(c *Config) { c.Restoration.DefaultImageCount = 11 },
			errString: "default_image_count",
		},
		{
			name:      "plan without credits",
			modify:    func(c *Config) { c.Billing.Plans[0].Credits = 0 },
			errString: "credits must be greater than 0",
		},
		{
			name:      "plan without products",
			modify:    func(c *Config) { c.Billing.Plans[0].ProductIDs = nil },
			errString: "at least one product id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			modify: func(*Config) {},
		},
		{
			name: "server port is not required",
			modify: func(c *Config) {
				c.Server.Port = 0
			},
		},
		{
			name:      "zero concurrency",
			modify:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero job timeout",
			modify:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "worker job_timeout must be greater than 0",
		},
		{
			name:      "stale timeout below heartbeat",
			modify:    func(c *Config) { c.Worker.StaleRunTimeout = 10 * time.Second },
			errString: "stale_run_timeout must be greater than heartbeat_interval",
		},
		{
			name:      "gemini without api key",
			modify:    func(c *Config) { c.Generation.Gemini.APIKey = "" },
			errString: "generation gemini api_key is required",
		},
		{
			name: "mock with result file",
			modify: func(c *Config) {
				c.Generation = GenerationConfig{Provider: GenerationProviderMock, Mock: MockConfig{ResultFile: "restored.png"}}
			},
		},
		{
			name:      "mock without result file",
			modify:    func(c *Config) { c.Generation = GenerationConfig{Provider: GenerationProviderMock} },
			errString: "generation mock result_file is required",
		},
		{
			name:      "plunk without api key",
			modify:    func(c *Config) { c.Notification.Provider = NotificationProviderPlunk },
			errString: "notification plunk api_key is required",
		},
		{
			name:      "unknown notification provider",
			modify:    func(c *Config) { c.Notification.Provider = "sms" },
			errString: "unknown notification provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
