package restoration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository stores images and attempts in PostgreSQL
type PostgresRepository struct {
	client *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(client *postgresql.Client, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{
		client: client,
		db:     client.GetDB(),
		logger: logger,
	}
}

func (r *PostgresRepository) CreateImage(ctx context.Context, image *domain.Image) error {
	query := `
		INSERT INTO images (id, user_id, original_blob_key, mime_type, created_at)
		VALUES (:id, :user_id, :original_blob_key, :mime_type, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, image); err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetImage(ctx context.Context, imageID string) (*domain.Image, error) {
	if _, err := uuid.Parse(imageID); err != nil {
		return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, imageID)
	}

	query := `
		SELECT id, user_id, original_blob_key, mime_type, created_at
		FROM images
		WHERE id = $1
	`

	var image domain.Image
	if err := r.db.GetContext(ctx, &image, query, imageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, imageID)
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &image, nil
}

func (r *PostgresRepository) ListImages(ctx context.Context, userID string) ([]domain.Image, error) {
	query := `
		SELECT id, user_id, original_blob_key, mime_type, created_at
		FROM images
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	images := []domain.Image{}
	if err := r.db.SelectContext(ctx, &images, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

// DeleteImage removes the image's attempts and then the image in one transaction. The blob keys
// of the removed attempts are returned so outputs written after a caller's listing are not lost.
func (r *PostgresRepository) DeleteImage(ctx context.Context, imageID string) ([]string, error) {
	var keys []string
	err := r.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		var removed []sql.NullString
		query := `DELETE FROM restored_images WHERE image_id = $1 RETURNING blob_key`
		if err := tx.SelectContext(ctx, &removed, query, imageID); err != nil {
			return fmt.Errorf("failed to delete restored images: %w", err)
		}
		for _, k := range removed {
			if k.Valid && k.String != "" {
				keys = append(keys, k.String)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, imageID)
		if err != nil {
			return fmt.Errorf("failed to delete image: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: image %s", domain.ErrNotFound, imageID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *PostgresRepository) CreateAttempts(ctx context.Context, attempts []domain.RestoredImage) error {
	if len(attempts) == 0 {
		return nil
	}

	query := `
		INSERT INTO restored_images (id, image_id, run_id, blob_key, status, credits_used, created_at)
		VALUES (:id, :image_id, :run_id, :blob_key, :status, :credits_used, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, attempts); err != nil {
		return fmt.Errorf("failed to create restoration attempts: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkAttemptCompleted(ctx context.Context, attemptID, blobKey string) error {
	query := `
		UPDATE restored_images
		SET status = $1, blob_key = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, domain.AttemptStatusCompleted, blobKey, attemptID, domain.AttemptStatusPending)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("attempt %s is no longer pending", attemptID)
	}
	return nil
}

func (r *PostgresRepository) MarkAttemptFailed(ctx context.Context, attemptID string) error {
	query := `
		UPDATE restored_images
		SET status = $1
		WHERE id = $2 AND status = $3
	`

	if _, err := r.db.ExecContext(ctx, query, domain.AttemptStatusFailed, attemptID, domain.AttemptStatusPending); err != nil {
		return fmt.Errorf("failed to fail attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FailPendingAttempts(ctx context.Context, runID string) (int64, error) {
	query := `
		UPDATE restored_images
		SET status = $1
		WHERE run_id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, domain.AttemptStatusFailed, runID, domain.AttemptStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending attempts: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		r.logger.Info("Pending attempts failed",
			slog.String("run_id", runID),
			slog.Int64("count", rows),
		)
	}
	return rows, nil
}

func (r *PostgresRepository) ListAttemptsByImage(ctx context.Context, imageID string) ([]domain.RestoredImage, error) {
	return r.ListAttemptsByImages(ctx, []string{imageID})
}

func (r *PostgresRepository) ListAttemptsByImages(ctx context.Context, imageIDs []string) ([]domain.RestoredImage, error) {
	attempts := []domain.RestoredImage{}
	if len(imageIDs) == 0 {
		return attempts, nil
	}

	query := `
		SELECT id, image_id, run_id, blob_key, status, credits_used, created_at
		FROM restored_images
		WHERE image_id = ANY($1::uuid[])
		ORDER BY created_at DESC, id DESC
	`

	if err := r.db.SelectContext(ctx, &attempts, query, pq.Array(imageIDs)); err != nil {
		return nil, fmt.Errorf("failed to list restoration attempts: %w", err)
	}
	return attempts, nil
}
