package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store. A single mutex stands in for the balance row lock.
type memStore struct {
	mu           sync.Mutex
	balances     map[string]domain.CreditBalance
	transactions []domain.CreditTransaction

	// skipGrantLookup makes HasGrant always miss so the unique index path is exercised
	skipGrantLookup bool

	// now stands in for the database clock
	now func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		balances: make(map[string]domain.CreditBalance),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *memStore) GetBalance(_ context.Context, userID string) (*domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *memStore) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		now := s.now()
		b = domain.CreditBalance{ID: "bal-" + userID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	}

	tx := &memTx{store: s, balance: b}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.balances[userID] = tx.balance
	s.transactions = append(s.transactions, tx.pending...)
	return nil
}

func (s *memStore) GetTransaction(_ context.Context, userID, id string) (*domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.transactions {
		if t.ID == id && t.UserID == userID {
			found := t
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
}

func (s *memStore) ListTransactions(_ context.Context, userID string, after *domain.CreditTransaction, limit int) ([]domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []domain.CreditTransaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			rows = append(rows, t)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return newer(rows[i], rows[j])
	})

	var out []domain.CreditTransaction
	for _, t := range rows {
		if after != nil && !newer(*after, t) {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newer(a, b domain.CreditTransaction) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *memStore) userTransactions(userID string) []domain.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CreditTransaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

type memTx struct {
	store   *memStore
	balance domain.CreditBalance
	pending []domain.CreditTransaction
}

func (t *memTx) Balance() int64 {
	return t.balance.Balance
}

func (t *memTx) UpdateBalance(_ context.Context, balance int64) (*domain.CreditBalance, error) {
	t.balance.Balance = balance
	t.balance.UpdatedAt = t.store.now()
	b := t.balance
	return &b, nil
}

func (t *memTx) HasGrant(_ context.Context, relatedEntityID, relatedEntityType string) (bool, error) {
	if t.store.skipGrantLookup {
		return false, nil
	}
	return t.grantExists(relatedEntityID, relatedEntityType), nil
}

func (t *memTx) InsertTransaction(_ context.Context, c *domain.CreditTransaction) error {
	if c.Type == domain.TransactionTopup && c.RelatedEntityID != nil && c.RelatedEntityType != nil {
		if t.grantExists(*c.RelatedEntityID, *c.RelatedEntityType) {
			return ErrDuplicateGrant
		}
	}
	t.pending = append(t.pending, *c)
	return nil
}

func (t *memTx) grantExists(relatedEntityID, relatedEntityType string) bool {
	all := append(append([]domain.CreditTransaction{}, t.store.transactions...), t.pending...)
	for _, c := range all {
		if c.UserID != t.balance.UserID || c.Type != domain.TransactionTopup {
			continue
		}
		if c.RelatedEntityID != nil && *c.RelatedEntityID == relatedEntityID &&
			c.RelatedEntityType != nil && *c.RelatedEntityType == relatedEntityType {
			return true
		}
	}
	return false
}

func newTestLedger(t *testing.T) (*Ledger, *memStore) {
	t.Helper()

	store := newMemStore()
	ledger := NewLedger(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// called with the store lock held
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	return ledger, store
}

// replay checks that the ledger rows reproduce the stored balance
func replay(t *testing.T, store *memStore, userID string) {
	t.Helper()

	var running int64
	for _, tx := range store.userTransactions(userID) {
		running += tx.SignedAmount()
		assert.Equal(t, running, tx.BalanceAfter, "balance_after of %s", tx.ID)
		assert.GreaterOrEqual(t, tx.BalanceAfter, int64(0))
	}

	b, err := store.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	if b == nil {
		assert.Zero(t, running)
		return
	}
	assert.Equal(t, running, b.Balance)
}

func TestLedger_GetBalance(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	b, err := ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, b.Balance)
	assert.Nil(t, b.UpdatedAt)

	_, err = ledger.Topup(ctx, "user-1", 5, "")
	require.NoError(t, err)

	b, err = ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Balance)
	assert.NotNil(t, b.UpdatedAt)
}

func TestLedger_Topup(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	res, err := ledger.Topup(ctx, "user-1", 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Balance)
	assert.Equal(t, domain.TransactionTopup, res.Transaction.Type)
	assert.Equal(t, "Credit topup", res.Transaction.Reason)
	assert.Equal(t, int64(10), res.Transaction.BalanceAfter)
	assert.NotEmpty(t, res.Transaction.ID)

	res, err = ledger.Topup(ctx, "user-1", 3, "promo")
	require.NoError(t, err)
	assert.Equal(t, int64(13), res.Balance)
	assert.Equal(t, "promo", res.Transaction.Reason)

	replay(t, store, "user-1")
}

func TestLedger_TransactionTimestampMatchesBalanceWrite(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	first, err := ledger.Topup(ctx, "user-1", 10, "")
	require.NoError(t, err)
	second, err := ledger.Consume(ctx, ConsumeParams{UserID: "user-1", Amount: 2, Reason: "Photo restoration"})
	require.NoError(t, err)

	b, err := store.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, b.UpdatedAt, second.Transaction.CreatedAt)
	assert.True(t, second.Transaction.CreatedAt.After(first.Transaction.CreatedAt))
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	tests := []struct {
		name string
		call func() error
	}{
		{name: "zero topup", call: func() error {
			_, err := ledger.Topup(ctx, "user-1", 0, "")
			return err
		}},
		{name: "negative topup", call: func() error {
			_, err := ledger.Topup(ctx, "user-1", -4, "")
			return err
		}},
		{name: "zero consume", call: func() error {
			_, err := ledger.Consume(ctx, ConsumeParams{UserID: "user-1", Amount: 0})
			return err
		}},
		{name: "negative refund", call: func() error {
			_, err := ledger.Refund(ctx, RefundParams{UserID: "user-1", Amount: -1})
			return err
		}},
		{name: "zero adjustment", call: func() error {
			_, err := ledger.Adjust(ctx, "user-1", 0, "noop")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}

	assert.Empty(t, store.userTransactions("user-1"))
}

func TestLedger_Consume(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	_, err := ledger.Topup(ctx, "user-1", 5, "")
	require.NoError(t, err)

	res, err := ledger.Consume(ctx, ConsumeParams{
		UserID:            "user-1",
		Amount:            2,
		RelatedEntityID:   "image-1",
		RelatedEntityType: domain.RelatedEntityImage,
		Metadata:          map[string]any{"imageCount": 1, "resolution": "2k", "creditsUsed": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Balance)
	assert.Equal(t, domain.TransactionConsumption, res.Transaction.Type)
	assert.Equal(t, "Credit consumption", res.Transaction.Reason)
	require.NotNil(t, res.Transaction.RelatedEntityID)
	assert.Equal(t, "image-1", *res.Transaction.RelatedEntityID)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(res.Transaction.Metadata, &metadata))
	assert.Equal(t, "2k", metadata["resolution"])

	// same image consumed again is a separate restoration
	_, err = ledger.Consume(ctx, ConsumeParams{
		UserID:            "user-1",
		Amount:            2,
		RelatedEntityID:   "image-1",
		RelatedEntityType: domain.RelatedEntityImage,
	})
	require.NoError(t, err)

	replay(t, store, "user-1")
}

func TestLedger_ConsumeInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	_, err := ledger.Topup(ctx, "user-1", 1, "")
	require.NoError(t, err)

	_, err = ledger.Consume(ctx, ConsumeParams{UserID: "user-1", Amount: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	b, err := ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Balance)
	assert.Len(t, store.userTransactions("user-1"), 1)
}

func TestLedger_GrantIfNotGranted(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	params := GrantParams{
		UserID:            "user-1",
		Amount:            100,
		Reason:            "Subscription credits",
		RelatedEntityID:   "sub_1:2025-01-01T00:00:00Z",
		RelatedEntityType: "SUBSCRIPTION_PERIOD",
	}

	granted, err := ledger.GrantIfNotGranted(ctx, params)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = ledger.GrantIfNotGranted(ctx, params)
	require.NoError(t, err)
	assert.False(t, granted)

	b, err := ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Balance)

	// a different period is a different grant
	params.RelatedEntityID = "sub_1:2025-02-01T00:00:00Z"
	granted, err = ledger.GrantIfNotGranted(ctx, params)
	require.NoError(t, err)
	assert.True(t, granted)

	b, err = ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), b.Balance)

	replay(t, store, "user-1")
}

func TestLedger_GrantIfNotGranted_DuplicateFromUniqueIndex(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)
	store.skipGrantLookup = true

	params := GrantParams{
		UserID:            "user-1",
		Amount:            50,
		RelatedEntityID:   "sub_1:p1",
		RelatedEntityType: "SUBSCRIPTION_PERIOD",
	}

	granted, err := ledger.GrantIfNotGranted(ctx, params)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = ledger.GrantIfNotGranted(ctx, params)
	require.NoError(t, err)
	assert.False(t, granted)

	b, err := ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.Balance)
	assert.Len(t, store.userTransactions("user-1"), 1)
}

func TestLedger_GrantIfNotGranted_Validation(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	granted, err := ledger.GrantIfNotGranted(ctx, GrantParams{
		UserID:            "user-1",
		Amount:            0,
		RelatedEntityID:   "sub_1:p1",
		RelatedEntityType: "SUBSCRIPTION_PERIOD",
	})
	require.NoError(t, err)
	assert.False(t, granted)

	_, err = ledger.GrantIfNotGranted(ctx, GrantParams{UserID: "user-1", Amount: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.Empty(t, store.userTransactions("user-1"))
}

func TestLedger_Refund(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	res, err := ledger.Refund(ctx, RefundParams{
		UserID:            "user-1",
		Amount:            2,
		RelatedEntityID:   "image-1",
		RelatedEntityType: domain.RelatedEntityImage,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Balance)
	assert.Equal(t, domain.TransactionRefund, res.Transaction.Type)
	assert.Equal(t, "Credit refund", res.Transaction.Reason)

	replay(t, store, "user-1")
}

func TestLedger_Adjust(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	res, err := ledger.Adjust(ctx, "user-1", 7, "support correction")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Balance)

	res, err = ledger.Adjust(ctx, "user-1", -4, "support correction")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Balance)
	assert.Equal(t, int64(-4), res.Transaction.Amount)
	assert.Equal(t, domain.TransactionAdjustment, res.Transaction.Type)

	_, err = ledger.Adjust(ctx, "user-1", -10, "too much")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	replay(t, store, "user-1")
}

func TestLedger_ConcurrentConsumeNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	_, err := ledger.Topup(ctx, "user-1", 10, "")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Consume(ctx, ConsumeParams{UserID: "user-1", Amount: 1})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
				rejected++
				return
			}
			succeeded++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, rejected)

	b, err := ledger.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, b.Balance)

	replay(t, store, "user-1")
}

func TestLedger_ConcurrentGrantsApplyOnce(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(t)

	params := GrantParams{
		UserID:            "user-1",
		Amount:            100,
		RelatedEntityID:   "sub_1:p1",
		RelatedEntityType: "SUBSCRIPTION_PERIOD",
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.GrantIfNotGranted(ctx, params)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Len(t, store.userTransactions("user-1"), 1)
	replay(t, store, "user-1")
}

func TestLedger_ListTransactions(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	var ids []string
	for i := 1; i <= 5; i++ {
		res, err := ledger.Topup(ctx, "user-1", int64(i), "")
		require.NoError(t, err)
		ids = append(ids, res.Transaction.ID)
	}
	_, err := ledger.Topup(ctx, "user-2", 1, "")
	require.NoError(t, err)

	page, err := ledger.ListTransactions(ctx, "user-1", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, ids[4], page.Transactions[0].ID)
	assert.Equal(t, ids[3], page.Transactions[1].ID)
	assert.Equal(t, ids[3], page.NextCursor)

	page, err = ledger.ListTransactions(ctx, "user-1", 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, ids[2], page.Transactions[0].ID)
	assert.Equal(t, ids[1], page.Transactions[1].ID)

	page, err = ledger.ListTransactions(ctx, "user-1", 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, ids[0], page.Transactions[0].ID)
	assert.Empty(t, page.NextCursor)
}

func TestLedger_ListTransactions_Limits(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	for i := 0; i < 25; i++ {
		_, err := ledger.Topup(ctx, "user-1", 1, "")
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "default", limit: 0, want: DefaultPageSize},
		{name: "negative uses default", limit: -3, want: DefaultPageSize},
		{name: "explicit", limit: 5, want: 5},
		{name: "clamped to max", limit: 1000, want: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := ledger.ListTransactions(ctx, "user-1", tt.limit, "")
			require.NoError(t, err)
			assert.Len(t, page.Transactions, tt.want)
		})
	}
}

func TestLedger_ListTransactions_UnknownCursor(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	other, err := ledger.Topup(ctx, "user-2", 1, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		cursor string
	}{
		{name: "missing", cursor: "does-not-exist"},
		{name: "other user's row", cursor: other.Transaction.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.ListTransactions(ctx, "user-1", 10, tt.cursor)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestLedger_ListTransactions_Empty(t *testing.T) {
	ledger, _ := newTestLedger(t)

	page, err := ledger.ListTransactions(context.Background(), "nobody", 10, "")
	require.NoError(t, err)
	assert.NotNil(t, page.Transactions)
	assert.Empty(t, page.Transactions)
	assert.Empty(t, page.NextCursor)
}
