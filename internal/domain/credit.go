package domain

import "time"

// TransactionType classifies ledger rows
type TransactionType string

const (
	TransactionTopup       TransactionType = "TOPUP"
	TransactionConsumption TransactionType = "CONSUMPTION"
	TransactionRefund      TransactionType = "REFUND"
	TransactionAdjustment  TransactionType = "ADJUSTMENT"
)

// SignedAmount is the effect of a row on the balance
func (t CreditTransaction) SignedAmount() int64 {
	switch t.Type {
	case TransactionConsumption:
		return -t.Amount
	default:
		// ADJUSTMENT rows carry their sign in Amount
		return t.Amount
	}
}

// CreditBalance is the per-user spendable balance. Balance is never negative.
type CreditBalance struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CreditTransaction is an append-only ledger row.
// BalanceAfter is the balance immediately after this row's effect.
type CreditTransaction struct {
	ID                string          `db:"id"`
	UserID            string          `db:"user_id"`
	Type              TransactionType `db:"type"`
	Amount            int64           `db:"amount"`
	BalanceAfter      int64           `db:"balance_after"`
	Reason            string          `db:"reason"`
	RelatedEntityID   *string         `db:"related_entity_id"`
	RelatedEntityType *string         `db:"related_entity_type"`
	Metadata          []byte          `db:"metadata"`
	CreatedAt         time.Time       `db:"created_at"`
}
