package credits

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
)

// grantUniqueIndex guards one TOPUP grant per related entity
const grantUniqueIndex = "uq_credit_transactions_grant"

// PostgresStore is the Store backed by PostgreSQL row locks
type PostgresStore struct {
	client *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(client *postgresql.Client, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		client: client,
		db:     client.GetDB(),
		logger: logger,
	}
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	query := `
		SELECT id, user_id, balance, created_at, updated_at
		FROM credit_balances
		WHERE user_id = $1
	`

	var balance domain.CreditBalance
	if err := s.db.GetContext(ctx, &balance, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credit balance: %w", err)
	}

	return &balance, nil
}

func (s *PostgresStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error {
	return s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		upsert := `
			INSERT INTO credit_balances (id, user_id, balance, created_at, updated_at)
			VALUES ($1, $2, 0, NOW(), NOW())
			ON CONFLICT (user_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, upsert, uuid.NewString(), userID); err != nil {
			return fmt.Errorf("failed to upsert credit balance: %w", err)
		}

		lock := `
			SELECT id, user_id, balance, created_at, updated_at
			FROM credit_balances
			WHERE user_id = $1
			FOR UPDATE
		`
		var balance domain.CreditBalance
		if err := tx.GetContext(ctx, &balance, lock, userID); err != nil {
			return fmt.Errorf("failed to lock credit balance: %w", err)
		}

		return fn(ctx, &pgTx{tx: tx, balance: balance})
	})
}

func (s *PostgresStore) GetTransaction(ctx context.Context, userID, transactionID string) (*domain.CreditTransaction, error) {
	if _, err := uuid.Parse(transactionID); err != nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, transactionID)
	}

	query := `
		SELECT id, user_id, type, amount, balance_after, reason,
		       related_entity_id, related_entity_type, metadata, created_at
		FROM credit_transactions
		WHERE id = $1 AND user_id = $2
	`

	var t domain.CreditTransaction
	if err := s.db.GetContext(ctx, &t, query, transactionID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("failed to get credit transaction: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, after *domain.CreditTransaction, limit int) ([]domain.CreditTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, reason,
		       related_entity_id, related_entity_type, metadata, created_at
		FROM credit_transactions
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	argIdx := 2

	if after != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, after.CreatedAt, after.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	var rows []domain.CreditTransaction
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}

	return rows, nil
}

// pgTx implements Tx over an open sqlx transaction holding the balance row lock
type pgTx struct {
	tx      *sqlx.Tx
	balance domain.CreditBalance
}

func (t *pgTx) Balance() int64 {
	return t.balance.Balance
}

func (t *pgTx) UpdateBalance(ctx context.Context, balance int64) (*domain.CreditBalance, error) {
	query := `
		UPDATE credit_balances
		SET balance = $1, updated_at = NOW()
		WHERE user_id = $2
		RETURNING id, user_id, balance, created_at, updated_at
	`

	var updated domain.CreditBalance
	if err := t.tx.GetContext(ctx, &updated, query, balance, t.balance.UserID); err != nil {
		return nil, fmt.Errorf("failed to update credit balance: %w", err)
	}

	t.balance = updated
	return &updated, nil
}

func (t *pgTx) HasGrant(ctx context.Context, relatedEntityID, relatedEntityType string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM credit_transactions
			WHERE user_id = $1
			  AND type = $2
			  AND related_entity_id = $3
			  AND related_entity_type = $4
		)
	`

	var exists bool
	err := t.tx.GetContext(ctx, &exists, query, t.balance.UserID, domain.TransactionTopup, relatedEntityID, relatedEntityType)
	if err != nil {
		return false, fmt.Errorf("failed to look up credit grant: %w", err)
	}

	return exists, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, c *domain.CreditTransaction) error {
	query := `
		INSERT INTO credit_transactions (
			id, user_id, type, amount, balance_after, reason,
			related_entity_id, related_entity_type, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)
	`

	_, err := t.tx.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.Type,
		c.Amount,
		c.BalanceAfter,
		c.Reason,
		c.RelatedEntityID,
		c.RelatedEntityType,
		nullableJSON(c.Metadata),
		c.CreatedAt,
	)
	if err != nil {
		if postgresql.IsUniqueViolation(err, grantUniqueIndex) {
			return ErrDuplicateGrant
		}
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
