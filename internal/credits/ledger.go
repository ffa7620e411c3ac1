package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Balance is the read view of a user's balance. UpdatedAt is nil when the user has no row yet.
type Balance struct {
	Balance   int64
	UpdatedAt *time.Time
}

// Result is returned by balance mutations
type Result struct {
	Balance     int64
	Transaction domain.CreditTransaction
}

// Page is one page of transactions, newest first
type Page struct {
	Transactions []domain.CreditTransaction
	NextCursor   string
}

// ConsumeParams describes a consumption
type ConsumeParams struct {
	UserID            string
	Amount            int64
	Reason            string
	RelatedEntityID   string
	RelatedEntityType string
	Metadata          map[string]any
}

// GrantParams describes an idempotent grant keyed by (UserID, RelatedEntityID, RelatedEntityType)
type GrantParams struct {
	UserID            string
	Amount            int64
	Reason            string
	RelatedEntityID   string
	RelatedEntityType string
	Metadata          map[string]any
}

// RefundParams describes a refund
type RefundParams struct {
	UserID            string
	Amount            int64
	Reason            string
	RelatedEntityID   string
	RelatedEntityType string
	Metadata          map[string]any
}

// Ledger owns every balance mutation. Each mutation reads the locked balance, writes the new
// balance and appends exactly one transaction row in the same atomic unit.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// NewLedger creates a new Ledger
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
	}
}

// GetBalance returns the user's balance; a missing row reads as zero
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	b, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return &Balance{}, nil
	}
	updatedAt := b.UpdatedAt
	return &Balance{Balance: b.Balance, UpdatedAt: &updatedAt}, nil
}

// Topup adds credits
func (l *Ledger) Topup(ctx context.Context, userID string, amount int64, reason string) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: topup amount must be positive", domain.ErrInvalidArgument)
	}

	entry := &domain.CreditTransaction{
		UserID: userID,
		Type:   domain.TransactionTopup,
		Amount: amount,
		Reason: orDefault(reason, "Credit topup"),
	}

	var result *Result
	err := l.store.WithUserLock(ctx, userID, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = l.apply(ctx, tx, entry, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Credits topped up",
		slog.String("user_id", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", result.Balance),
	)

	return result, nil
}

// Consume removes credits. It fails with domain.ErrInsufficientCredits, leaving the balance
// untouched, when the balance is lower than amount.
func (l *Ledger) Consume(ctx context.Context, p ConsumeParams) (*Result, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: consumption amount must be positive", domain.ErrInvalidArgument)
	}

	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}

	entry := &domain.CreditTransaction{
		UserID:            p.UserID,
		Type:              domain.TransactionConsumption,
		Amount:            p.Amount,
		Reason:            orDefault(p.Reason, "Credit consumption"),
		RelatedEntityID:   optional(p.RelatedEntityID),
		RelatedEntityType: optional(p.RelatedEntityType),
		Metadata:          metadata,
	}

	var result *Result
	err = l.store.WithUserLock(ctx, p.UserID, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = l.apply(ctx, tx, entry, -p.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Credits consumed",
		slog.String("user_id", p.UserID),
		slog.Int64("amount", p.Amount),
		slog.Int64("balance", result.Balance),
		slog.String("related_entity_id", p.RelatedEntityID),
	)

	return result, nil
}

// GrantIfNotGranted adds credits once per (UserID, RelatedEntityID, RelatedEntityType).
// It reports whether a grant was recorded by this call. Non-positive amounts are ignored.
func (l *Ledger) GrantIfNotGranted(ctx context.Context, p GrantParams) (bool, error) {
	if p.Amount <= 0 {
		return false, nil
	}
	if p.RelatedEntityID == "" || p.RelatedEntityType == "" {
		return false, fmt.Errorf("%w: grants require a related entity", domain.ErrInvalidArgument)
	}

	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return false, err
	}

	entry := &domain.CreditTransaction{
		UserID:            p.UserID,
		Type:              domain.TransactionTopup,
		Amount:            p.Amount,
		Reason:            orDefault(p.Reason, "Credit grant"),
		RelatedEntityID:   optional(p.RelatedEntityID),
		RelatedEntityType: optional(p.RelatedEntityType),
		Metadata:          metadata,
	}

	granted := false
	err = l.store.WithUserLock(ctx, p.UserID, func(ctx context.Context, tx Tx) error {
		exists, err := tx.HasGrant(ctx, p.RelatedEntityID, p.RelatedEntityType)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := l.apply(ctx, tx, entry, p.Amount); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if errors.Is(err, ErrDuplicateGrant) {
		granted, err = false, nil
	}
	if err != nil {
		return false, err
	}

	if granted {
		l.logger.Info("Credits granted",
			slog.String("user_id", p.UserID),
			slog.Int64("amount", p.Amount),
			slog.String("related_entity_id", p.RelatedEntityID),
			slog.String("related_entity_type", p.RelatedEntityType),
		)
	} else {
		l.logger.Info("Credit grant already recorded, skipping",
			slog.String("user_id", p.UserID),
			slog.String("related_entity_id", p.RelatedEntityID),
			slog.String("related_entity_type", p.RelatedEntityType),
		)
	}

	return granted, nil
}

// Refund returns credits to a user, typically after manual reconciliation of a job
func (l *Ledger) Refund(ctx context.Context, p RefundParams) (*Result, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", domain.ErrInvalidArgument)
	}

	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return nil, err
	}

	entry := &domain.CreditTransaction{
		UserID:            p.UserID,
		Type:              domain.TransactionRefund,
		Amount:            p.Amount,
		Reason:            orDefault(p.Reason, "Credit refund"),
		RelatedEntityID:   optional(p.RelatedEntityID),
		RelatedEntityType: optional(p.RelatedEntityType),
		Metadata:          metadata,
	}

	var result *Result
	err = l.store.WithUserLock(ctx, p.UserID, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = l.apply(ctx, tx, entry, p.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Credits refunded",
		slog.String("user_id", p.UserID),
		slog.Int64("amount", p.Amount),
		slog.Int64("balance", result.Balance),
	)

	return result, nil
}

// Adjust applies a signed operator correction. The balance may not go negative.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta int64, reason string) (*Result, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", domain.ErrInvalidArgument)
	}

	entry := &domain.CreditTransaction{
		UserID: userID,
		Type:   domain.TransactionAdjustment,
		Amount: delta,
		Reason: orDefault(reason, "Credit adjustment"),
	}

	var result *Result
	err := l.store.WithUserLock(ctx, userID, func(ctx context.Context, tx Tx) error {
		var err error
		result, err = l.apply(ctx, tx, entry, delta)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Warn("Credits adjusted",
		slog.String("user_id", userID),
		slog.Int64("delta", delta),
		slog.Int64("balance", result.Balance),
		slog.String("reason", entry.Reason),
	)

	return result, nil
}

// ListTransactions pages through a user's transactions, newest first.
// cursor is the id of the last transaction of the previous page.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit int, cursor string) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var after *domain.CreditTransaction
	if cursor != "" {
		t, err := l.store.GetTransaction(ctx, userID, cursor)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown cursor", domain.ErrInvalidArgument)
			}
			return nil, err
		}
		after = t
	}

	rows, err := l.store.ListTransactions(ctx, userID, after, limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{Transactions: rows}
	if len(rows) > limit {
		page.Transactions = rows[:limit]
		page.NextCursor = rows[limit-1].ID
	}
	if page.Transactions == nil {
		page.Transactions = []domain.CreditTransaction{}
	}

	return page, nil
}

// apply moves the locked balance by delta and appends entry with the resulting balance
func (l *Ledger) apply(ctx context.Context, tx Tx, entry *domain.CreditTransaction, delta int64) (*Result, error) {
	next := tx.Balance() + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: balance %d, required %d", domain.ErrInsufficientCredits, tx.Balance(), -delta)
	}

	updated, err := tx.UpdateBalance(ctx, next)
	if err != nil {
		return nil, err
	}

	entry.ID = uuid.NewString()
	entry.BalanceAfter = updated.Balance
	// the row carries the database clock of the balance write
	entry.CreatedAt = updated.UpdatedAt

	if err := tx.InsertTransaction(ctx, entry); err != nil {
		return nil, err
	}

	return &Result{Balance: updated.Balance, Transaction: *entry}, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not serialisable: %v", domain.ErrInvalidArgument, err)
	}
	return b, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
