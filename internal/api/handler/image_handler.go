package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/photo-restore/internal/api/dto"
	"github.com/cuongbtq/photo-restore/internal/restoration"
	"github.com/gin-gonic/gin"
)

// CreateUploadURL handles POST /api/v1/images/upload-url
// Creates the image record and returns a signed URL the client uploads the original to
func (h *ImageHandler) CreateUploadURL(c *gin.Context) {
	var req dto.UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "Invalid request body")
		return
	}

	user := identity(c)
	slot, err := h.restorations.CreateUploadSlot(c.Request.Context(), user.UserID, req.MimeType)
	if err != nil {
		respondError(c, h.logger, "Failed to create upload URL", err)
		return
	}

	h.logger.Info("Upload URL created",
		slog.String("user_id", user.UserID),
		slog.String("image_id", slot.ImageID),
	)

	c.JSON(http.StatusOK, dto.UploadURLResponse{
		UploadURL: slot.UploadURL,
		ImageID:   slot.ImageID,
		ImageKey:  slot.ImageKey,
	})
}

// ListPhotos handles GET /api/v1/images
// Lists the caller's photos with their restorations, newest first
func (h *ImageHandler) ListPhotos(c *gin.Context) {
	photos, err := h.restorations.ListPhotos(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, h.logger, "Failed to list photos", err)
		return
	}

	c.JSON(http.StatusOK, dto.ListPhotosResponse{Photos: toPhotoDTOs(photos)})
}

// DeleteImage handles DELETE /api/v1/images/:image_id
// Deletes the image, its restorations and their blobs
func (h *ImageHandler) DeleteImage(c *gin.Context) {
	imageID := c.Param("image_id")
	user := identity(c)

	if err := h.restorations.DeleteImage(c.Request.Context(), user.UserID, imageID); err != nil {
		respondError(c, h.logger, "Failed to delete image", err)
		return
	}

	h.logger.Info("Image deleted",
		slog.String("user_id", user.UserID),
		slog.String("image_id", imageID),
	)

	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func toPhotoDTOs(photos []restoration.Photo) []dto.PhotoDTO {
	out := make([]dto.PhotoDTO, len(photos))
	for i, p := range photos {
		restorations := make([]dto.PhotoRestorationDTO, len(p.Restorations))
		for j, r := range p.Restorations {
			restorations[j] = dto.PhotoRestorationDTO{
				ID:        r.ID,
				Status:    string(r.Status),
				URL:       r.URL,
				CreatedAt: r.CreatedAt.Format(time.RFC3339),
			}
		}
		out[i] = dto.PhotoDTO{
			ID:           p.ID,
			CreatedAt:    p.CreatedAt.Format(time.RFC3339),
			OriginalURL:  p.OriginalURL,
			Restorations: restorations,
		}
	}
	return out
}
