package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/photo-restore/internal/api/dto"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/gin-gonic/gin"
)

// GetBalance handles GET /api/v1/credits/balance
func (h *CreditHandler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, h.logger, "Failed to get balance", err)
		return
	}

	resp := dto.BalanceResponse{Balance: balance.Balance}
	if balance.UpdatedAt != nil {
		updatedAt := balance.UpdatedAt.Format(time.RFC3339)
		resp.UpdatedAt = &updatedAt
	}

	c.JSON(http.StatusOK, resp)
}

// Topup handles POST /api/v1/credits/topup
func (h *CreditHandler) Topup(c *gin.Context) {
	var req dto.TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "amount is required")
		return
	}

	user := identity(c)
	res, err := h.ledger.Topup(c.Request.Context(), user.UserID, req.Amount, req.Reason)
	if err != nil {
		respondError(c, h.logger, "Failed to top up credits", err)
		return
	}

	h.logger.Info("Credits topped up",
		slog.String("user_id", user.UserID),
		slog.Int64("amount", req.Amount),
		slog.Int64("balance", res.Balance),
	)

	c.JSON(http.StatusOK, dto.TopupResponse{
		Balance:     res.Balance,
		Transaction: toTransactionDTO(res.Transaction),
	})
}

// ListTransactions handles GET /api/v1/credits/transactions
// Lists the caller's ledger rows, newest first
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	var req dto.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		badRequest(c, "Invalid query parameters")
		return
	}

	page, err := h.ledger.ListTransactions(c.Request.Context(), identity(c).UserID, req.Limit, req.Cursor)
	if err != nil {
		respondError(c, h.logger, "Failed to list transactions", err)
		return
	}

	items := make([]dto.TransactionDTO, len(page.Transactions))
	for i, t := range page.Transactions {
		items[i] = toTransactionDTO(t)
	}

	c.JSON(http.StatusOK, dto.ListTransactionsResponse{
		Transactions: items,
		NextCursor:   page.NextCursor,
	})
}

func toTransactionDTO(t domain.CreditTransaction) dto.TransactionDTO {
	return dto.TransactionDTO{
		ID:                t.ID,
		Type:              string(t.Type),
		Amount:            t.Amount,
		BalanceAfter:      t.BalanceAfter,
		Reason:            t.Reason,
		RelatedEntityID:   t.RelatedEntityID,
		RelatedEntityType: t.RelatedEntityType,
		Metadata:          t.Metadata,
		CreatedAt:         t.CreatedAt.Format(time.RFC3339),
	}
}
