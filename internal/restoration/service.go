package restoration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/google/uuid"
)

// UploadSlot is returned to clients that upload the original directly to the object store
type UploadSlot struct {
	UploadURL string
	ImageID   string
	ImageKey  string
}

// StartRequest asks for a restoration of an already uploaded image
type StartRequest struct {
	UserID     string
	UserEmail  string
	UserName   string
	ImageID    string
	Resolution string
	ImageCount int
}

// InlineRequest uploads the original through the API and starts a restoration of it
type InlineRequest struct {
	UserID     string
	UserEmail  string
	UserName   string
	Image      []byte
	MimeType   string
	Resolution string
	ImageCount int
}

// InlineResult is the handle of the started run and the id of the stored original
type InlineResult struct {
	Handle  string
	ImageID string
}

// Photo is one gallery entry
type Photo struct {
	ID           string
	CreatedAt    time.Time
	OriginalURL  string
	Restorations []PhotoRestoration
}

// PhotoRestoration is one attempt shown in the gallery. URL is empty unless the attempt completed.
type PhotoRestoration struct {
	ID        string
	Status    domain.AttemptStatus
	URL       string
	CreatedAt time.Time
}

// Service serves the synchronous restoration operations of the API
type Service struct {
	repo              Repository
	store             ObjectStore
	ledger            Ledger
	trigger           Trigger
	defaultImageCount int
	logger            *slog.Logger
	now               func() time.Time
}

// ServiceConfig holds the dependencies of a Service
type ServiceConfig struct {
	Repository        Repository
	Store             ObjectStore
	Ledger            Ledger
	Trigger           Trigger
	DefaultImageCount int
	Logger            *slog.Logger
}

// NewService creates a new Service
func NewService(cfg ServiceConfig) *Service {
	count := cfg.DefaultImageCount
	if count <= 0 || count > MaxImageCount {
		count = DefaultImageCount
	}
	return &Service{
		repo:              cfg.Repository,
		store:             cfg.Store,
		ledger:            cfg.Ledger,
		trigger:           cfg.Trigger,
		defaultImageCount: count,
		logger:            cfg.Logger,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// CreateUploadSlot records a new image and returns a short-lived signed upload URL for its original
func (s *Service) CreateUploadSlot(ctx context.Context, userID, mimeType string) (*UploadSlot, error) {
	mt, err := NormalizeMimeType(mimeType, domain.DefaultMimeType)
	if err != nil {
		return nil, err
	}

	image := s.newImage(userID, mt)
	if err := s.repo.CreateImage(ctx, image); err != nil {
		return nil, err
	}

	url, err := s.store.SignedUploadURL(ctx, image.OriginalBlobKey, mt)
	if err != nil {
		return nil, fmt.Errorf("%w: sign upload url: %v", domain.ErrStorage, err)
	}

	s.logger.Info("Upload slot created",
		slog.String("user_id", userID),
		slog.String("image_id", image.ID),
		slog.String("mime_type", mt),
	)

	return &UploadSlot{
		UploadURL: url,
		ImageID:   image.ID,
		ImageKey:  image.OriginalBlobKey,
	}, nil
}

// StartRestoration checks ownership and the balance, then enqueues the restore-image task.
// The balance check is advisory: the charge happens when the run succeeds.
func (s *Service) StartRestoration(ctx context.Context, req StartRequest) (string, error) {
	resolution, count, err := s.parseOptions(req.Resolution, req.ImageCount)
	if err != nil {
		return "", err
	}

	image, err := s.ownedImage(ctx, req.UserID, req.ImageID)
	if err != nil {
		return "", err
	}

	if err := s.checkBalance(ctx, req.UserID, resolution); err != nil {
		return "", err
	}

	return s.start(ctx, domain.RestorePayload{
		ImageID:    image.ID,
		UserID:     req.UserID,
		UserEmail:  req.UserEmail,
		UserName:   req.UserName,
		ImageCount: count,
		Resolution: resolution,
	})
}

// UploadAndStart stores the original itself and starts a restoration of it.
// Nothing is written when the balance check fails.
func (s *Service) UploadAndStart(ctx context.Context, req InlineRequest) (*InlineResult, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: image is required", domain.ErrInvalidArgument)
	}
	mt, err := NormalizeMimeType(req.MimeType, InlineMimeType)
	if err != nil {
		return nil, err
	}
	resolution, count, err := s.parseOptions(req.Resolution, req.ImageCount)
	if err != nil {
		return nil, err
	}

	if err := s.checkBalance(ctx, req.UserID, resolution); err != nil {
		return nil, err
	}

	image := s.newImage(req.UserID, mt)
	if err := s.store.Upload(ctx, image.OriginalBlobKey, req.Image, mt); err != nil {
		return nil, fmt.Errorf("%w: upload original: %v", domain.ErrStorage, err)
	}
	if err := s.repo.CreateImage(ctx, image); err != nil {
		if delErr := s.store.DeleteMany(context.WithoutCancel(ctx), []string{image.OriginalBlobKey}); delErr != nil {
			s.logger.Warn("Failed to remove orphaned original",
				slog.String("key", image.OriginalBlobKey),
				slog.Any("error", delErr),
			)
		}
		return nil, err
	}

	handle, err := s.start(ctx, domain.RestorePayload{
		ImageID:    image.ID,
		UserID:     req.UserID,
		UserEmail:  req.UserEmail,
		UserName:   req.UserName,
		ImageCount: count,
		Resolution: resolution,
	})
	if err != nil {
		return nil, err
	}

	return &InlineResult{Handle: handle, ImageID: image.ID}, nil
}

// DeleteImage removes the original, every restored output and the image with its attempts
func (s *Service) DeleteImage(ctx context.Context, userID, imageID string) error {
	image, err := s.ownedImage(ctx, userID, imageID)
	if err != nil {
		return err
	}

	attempts, err := s.repo.ListAttemptsByImage(ctx, image.ID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(attempts)+1)
	if image.OriginalBlobKey != "" {
		keys = append(keys, image.OriginalBlobKey)
	}
	for _, a := range attempts {
		if a.BlobKey != nil && *a.BlobKey != "" {
			keys = append(keys, *a.BlobKey)
		}
	}

	if err := s.store.DeleteMany(ctx, keys); err != nil {
		return fmt.Errorf("%w: delete blobs: %v", domain.ErrStorage, err)
	}
	removed, err := s.repo.DeleteImage(ctx, image.ID)
	if err != nil {
		return err
	}

	// attempts that completed after the listing above
	deleted := make(map[string]bool, len(keys))
	for _, k := range keys {
		deleted[k] = true
	}
	var late []string
	for _, k := range removed {
		if !deleted[k] {
			late = append(late, k)
		}
	}
	if err := s.store.DeleteMany(context.WithoutCancel(ctx), late); err != nil {
		s.logger.Error("Failed to delete outputs of attempts that completed during delete",
			slog.String("image_id", image.ID),
			slog.Any("keys", late),
			slog.Any("error", err),
		)
	}

	s.logger.Info("Image deleted",
		slog.String("user_id", userID),
		slog.String("image_id", image.ID),
		slog.Int("attempts", len(attempts)),
		slog.Int("blobs", len(keys)),
	)
	return nil
}

// ListPhotos returns the user's gallery, newest first, with signed view URLs
func (s *Service) ListPhotos(ctx context.Context, userID string) ([]Photo, error) {
	images, err := s.repo.ListImages(ctx, userID)
	if err != nil {
		return nil, err
	}

	photos := make([]Photo, 0, len(images))
	if len(images) == 0 {
		return photos, nil
	}

	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	attempts, err := s.repo.ListAttemptsByImages(ctx, ids)
	if err != nil {
		return nil, err
	}

	byImage := make(map[string][]domain.RestoredImage, len(images))
	for _, a := range attempts {
		byImage[a.ImageID] = append(byImage[a.ImageID], a)
	}

	for _, img := range images {
		originalURL, err := s.store.SignedDownloadURL(ctx, img.OriginalBlobKey, DownloadURLExpiry)
		if err != nil {
			return nil, fmt.Errorf("%w: sign download url: %v", domain.ErrStorage, err)
		}

		restorations := make([]PhotoRestoration, 0, len(byImage[img.ID]))
		for _, a := range byImage[img.ID] {
			r := PhotoRestoration{ID: a.ID, Status: a.Status, CreatedAt: a.CreatedAt}
			if a.Status == domain.AttemptStatusCompleted && a.BlobKey != nil {
				r.URL, err = s.store.SignedDownloadURL(ctx, *a.BlobKey, DownloadURLExpiry)
				if err != nil {
					return nil, fmt.Errorf("%w: sign download url: %v", domain.ErrStorage, err)
				}
			}
			restorations = append(restorations, r)
		}

		photos = append(photos, Photo{
			ID:           img.ID,
			CreatedAt:    img.CreatedAt,
			OriginalURL:  originalURL,
			Restorations: restorations,
		})
	}

	return photos, nil
}

func (s *Service) newImage(userID, mimeType string) *domain.Image {
	id := uuid.NewString()
	return &domain.Image{
		ID:              id,
		UserID:          userID,
		OriginalBlobKey: domain.ImageKey(userID, id),
		MimeType:        mimeType,
		CreatedAt:       s.now(),
	}
}

func (s *Service) parseOptions(res string, count int) (domain.Resolution, int, error) {
	resolution, err := domain.ParseResolution(res)
	if err != nil {
		return "", 0, err
	}
	n, err := resolveImageCount(count, s.defaultImageCount)
	if err != nil {
		return "", 0, err
	}
	return resolution, n, nil
}

// ownedImage hides images of other users behind domain.ErrNotFound
func (s *Service) ownedImage(ctx context.Context, userID, imageID string) (*domain.Image, error) {
	image, err := s.repo.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if image.UserID != userID {
		return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, imageID)
	}
	return image, nil
}

func (s *Service) checkBalance(ctx context.Context, userID string, resolution domain.Resolution) error {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	if required := resolution.Credits(); balance.Balance < required {
		s.logger.Info("Restoration rejected for insufficient credits",
			slog.String("user_id", userID),
			slog.Int64("balance", balance.Balance),
			slog.Int64("required", required),
		)
		return fmt.Errorf("%w: balance %d, required %d", domain.ErrInsufficientCredits, balance.Balance, required)
	}
	return nil
}

func (s *Service) start(ctx context.Context, payload domain.RestorePayload) (string, error) {
	handle, err := s.trigger.Trigger(ctx, payload.UserID, domain.TaskRestoreImage, payload)
	if err != nil {
		return "", fmt.Errorf("failed to trigger restoration: %w", err)
	}

	s.logger.Info("Restoration triggered",
		slog.String("run_id", handle),
		slog.String("user_id", payload.UserID),
		slog.String("image_id", payload.ImageID),
		slog.String("resolution", string(payload.Resolution)),
		slog.Int("image_count", payload.ImageCount),
	)
	return handle, nil
}
