package dto

import "encoding/json"

type BalanceResponse struct {
	Balance   int64   `json:"balance"`
	UpdatedAt *string `json:"updatedAt"`
}

type TopupRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

type TopupResponse struct {
	Balance     int64          `json:"balance"`
	Transaction TransactionDTO `json:"transaction"`
}

type ListTransactionsRequest struct {
	Limit  int    `form:"limit"`
	Cursor string `form:"cursor"`
}

type ListTransactionsResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"nextCursor,omitempty"`
}

type TransactionDTO struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	Amount            int64           `json:"amount"`
	BalanceAfter      int64           `json:"balanceAfter"`
	Reason            string          `json:"reason"`
	RelatedEntityID   *string         `json:"relatedEntityId,omitempty"`
	RelatedEntityType *string         `json:"relatedEntityType,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         string          `json:"createdAt"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}
