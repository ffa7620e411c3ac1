package credits

import (
	"context"
	"errors"

	"github.com/cuongbtq/photo-restore/internal/domain"
)

// ErrDuplicateGrant is returned by Tx.InsertTransaction when a TOPUP with the same
// (user, related entity id, related entity type) already exists
var ErrDuplicateGrant = errors.New("credit grant already recorded")

// Store persists balances and ledger rows
type Store interface {
	// GetBalance returns nil without error when the user has no balance row
	GetBalance(ctx context.Context, userID string) (*domain.CreditBalance, error)

	// WithUserLock runs fn in one atomic unit holding the user's balance row lock.
	// The balance row is created with a zero balance if absent.
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error

	// GetTransaction returns domain.ErrNotFound for unknown ids or ids of other users
	GetTransaction(ctx context.Context, userID, transactionID string) (*domain.CreditTransaction, error)

	// ListTransactions returns up to limit rows ordered by created_at DESC, id DESC,
	// strictly after the given row when after is not nil
	ListTransactions(ctx context.Context, userID string, after *domain.CreditTransaction, limit int) ([]domain.CreditTransaction, error)
}

// Tx is a unit of work scoped to one user's locked balance row
type Tx interface {
	// Balance is the locked balance, reflecting updates made in this unit
	Balance() int64
	UpdateBalance(ctx context.Context, balance int64) (*domain.CreditBalance, error)
	HasGrant(ctx context.Context, relatedEntityID, relatedEntityType string) (bool, error)
	InsertTransaction(ctx context.Context, t *domain.CreditTransaction) error
}
