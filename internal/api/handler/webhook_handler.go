package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/photo-restore/internal/api/dto"
	"github.com/cuongbtq/photo-restore/internal/billing"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// HandleBillingEvent handles POST /webhooks/billing
// Verifies the signature and hands the event to the credit granter. Errors are answered with 500
// so the provider redelivers.
func (h *WebhookHandler) HandleBillingEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "Failed to read request body")
		return
	}

	if h.secret != "" && !billing.VerifySignature(h.secret, body, c.GetHeader(billing.SignatureHeader)) {
		h.logger.Warn("Rejected billing webhook with invalid signature",
			slog.String("ip", c.ClientIP()),
		)
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: dto.ErrorBody{Code: "INVALID_SIGNATURE", Message: "Invalid webhook signature"},
		})
		return
	}

	var event billing.Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("Invalid billing event", slog.String("error", err.Error()))
		badRequest(c, "Invalid event payload")
		return
	}

	outcome, err := h.billing.HandleEvent(c.Request.Context(), event)
	if err != nil {
		respondError(c, h.logger, "Failed to handle billing event", err)
		return
	}

	h.logger.Info("Billing event handled",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("outcome", string(outcome)),
	)

	c.JSON(http.StatusOK, dto.WebhookResponse{Received: true})
}
