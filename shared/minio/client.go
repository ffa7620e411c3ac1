package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// UploadURLExpiry is the lifetime of signed upload URLs
const UploadURLExpiry = 60 * time.Second

// Config holds MinIO connection configuration
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	UseSSL       bool
	CreateBucket bool
}

// Client provides object storage on a single MinIO bucket
type Client struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewClient creates a MinIO client and ensures the bucket exists
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	exists, err := c.client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}

	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
		}
		if err := c.client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("MinIO bucket created", slog.String("bucket", cfg.Bucket))
	}

	logger.Info("MinIO client initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
	)

	return c, nil
}

func newClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// SignedUploadURL returns a presigned PUT URL valid for UploadURLExpiry.
// MinIO presigned PUTs do not bind the content type.
func (c *Client) SignedUploadURL(ctx context.Context, key, _ string) (string, error) {
	u, err := c.client.PresignedPutObject(ctx, c.bucket, key, UploadURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}
	return u.String(), nil
}

// SignedDownloadURL returns a presigned GET URL
func (c *Client) SignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, expiresIn, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", key, err)
	}
	return u.String(), nil
}

// Upload stores data under key
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		c.logger.Error("Failed to upload object",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	c.logger.Debug("Object uploaded",
		slog.String("key", key),
		slog.Int("size", len(data)),
	)
	return nil
}

// Download returns the object bytes and its stored content type
func (c *Client) Download(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		c.logger.Error("Failed to stat object",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil, "", fmt.Errorf("failed to download %s: %w", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", key, err)
	}

	return data, info.ContentType, nil
}

// DeleteMany removes all keys. An empty list is a no-op.
func (c *Client) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	var failed int
	var firstErr error
	for res := range c.client.RemoveObjects(ctx, c.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", res.ObjectName, res.Err)
		}
	}
	if firstErr != nil {
		return fmt.Errorf("failed to delete %d objects: %w", failed, firstErr)
	}

	c.logger.Debug("Objects deleted", slog.Int("count", len(keys)))
	return nil
}

// HealthCheck verifies the bucket is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("bucket %s is not reachable: %w", c.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", c.bucket)
	}
	return nil
}
