package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/photo-restore/internal/api/dto"
	"github.com/cuongbtq/photo-restore/internal/api/storage"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/restoration"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// StartRestoration handles POST /api/v1/restorations
// Starts a restoration of an uploaded image and returns the run handle
func (h *RestorationHandler) StartRestoration(c *gin.Context) {
	var req dto.StartRestorationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "imageId is required")
		return
	}

	user := identity(c)
	handle, err := h.restorations.StartRestoration(c.Request.Context(), restoration.StartRequest{
		UserID:     user.UserID,
		UserEmail:  user.Email,
		UserName:   user.Name,
		ImageID:    req.ImageID,
		Resolution: req.Resolution,
		ImageCount: req.ImageCount,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to start restoration", err)
		return
	}

	h.logger.Info("Restoration started",
		slog.String("user_id", user.UserID),
		slog.String("image_id", req.ImageID),
		slog.String("handle", handle),
	)

	c.JSON(http.StatusAccepted, dto.StartRestorationResponse{Handle: handle})
}

// StartInlineRestoration handles POST /api/v1/restorations/inline
// Stores a base64 encoded original and starts a restoration of it
func (h *RestorationHandler) StartInlineRestoration(c *gin.Context) {
	var req dto.InlineRestorationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			PayloadTooLarge(c)
			return
		}
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "image is required")
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		badRequest(c, "image must be base64 encoded")
		return
	}

	user := identity(c)
	res, err := h.restorations.UploadAndStart(c.Request.Context(), restoration.InlineRequest{
		UserID:     user.UserID,
		UserEmail:  user.Email,
		UserName:   user.Name,
		Image:      image,
		MimeType:   req.MimeType,
		Resolution: req.Resolution,
		ImageCount: req.ImageCount,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to start inline restoration", err)
		return
	}

	h.logger.Info("Inline restoration started",
		slog.String("user_id", user.UserID),
		slog.String("image_id", res.ImageID),
		slog.String("handle", res.Handle),
		slog.Int("bytes", len(image)),
	)

	c.JSON(http.StatusAccepted, dto.StartRestorationResponse{Handle: res.Handle, ImageID: res.ImageID})
}

// GetStatus handles GET /api/v1/restorations/:handle
// Returns the status of a run, its output once completed or its error once failed
func (h *RestorationHandler) GetStatus(c *gin.Context) {
	view, err := h.status.GetStatus(c.Request.Context(), identity(c).UserID, c.Param("handle"))
	if err != nil {
		respondError(c, h.logger, "Failed to get restoration status", err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListRestorations handles GET /api/v1/restorations
// Lists the caller's restoration runs, newest first
func (h *RestorationHandler) ListRestorations(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		badRequest(c, "Invalid query parameters")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		badRequest(c, "Invalid cursor")
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), storage.RunFilter{
		UserID:   identity(c).UserID,
		TaskName: domain.TaskRestoreImage,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to list restorations", err)
		return
	}

	// Prepare response with next cursor if more results exist
	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	items := make([]dto.RunDTO, len(runs))
	for i, run := range runs {
		items[i] = toRunDTO(run)
	}

	var nextCursor string
	if hasMore {
		last := runs[len(runs)-1]
		nextCursor = EncodeRunCursor(&storage.RunCursor{
			CreatedAt: last.CreatedAt,
			RunID:     last.RunID,
		})
	}

	c.JSON(http.StatusOK, dto.ListRunsResponse{
		Restorations: items,
		NextCursor:   nextCursor,
	})
}

func toRunDTO(run domain.Run) dto.RunDTO {
	out := dto.RunDTO{
		Handle:    run.RunID,
		Status:    string(run.Status),
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
	}

	var payload domain.RestorePayload
	if err := json.Unmarshal(run.Payload, &payload); err == nil {
		out.ImageID = payload.ImageID
	}
	if run.ErrorCode != nil {
		out.ErrorCode = *run.ErrorCode
	}
	if run.CompletedAt != nil {
		out.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return out
}
