package commands

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	balance int64
	granted map[string]bool
	refunds []credits.RefundParams
	deltas  []int64
	page    *credits.Page
	closed  int
}

func (f *fakeLedger) GetBalance(context.Context, string) (*credits.Balance, error) {
	return &credits.Balance{Balance: f.balance}, nil
}

func (f *fakeLedger) GrantIfNotGranted(_ context.Context, p credits.GrantParams) (bool, error) {
	key := p.RelatedEntityType + ":" + p.RelatedEntityID
	if f.granted[key] {
		return false, nil
	}
	f.granted[key] = true
	f.balance += p.Amount
	return true, nil
}

func (f *fakeLedger) Refund(_ context.Context, p credits.RefundParams) (*credits.Result, error) {
	f.refunds = append(f.refunds, p)
	f.balance += p.Amount
	return &credits.Result{Balance: f.balance}, nil
}

func (f *fakeLedger) Adjust(_ context.Context, _ string, delta int64, _ string) (*credits.Result, error) {
	if f.balance+delta < 0 {
		return nil, domain.ErrInsufficientCredits
	}
	f.deltas = append(f.deltas, delta)
	f.balance += delta
	return &credits.Result{Balance: f.balance}, nil
}

func (f *fakeLedger) ListTransactions(context.Context, string, int, string) (*credits.Page, error) {
	return f.page, nil
}

func execute(t *testing.T, ledger *fakeLedger, args ...string) (string, error) {
	t.Helper()
	c := &cli{openLedger: func(*cobra.Command) (AdminLedger, func(), error) {
		return ledger, func() { ledger.closed++ }, nil
	}}

	root := c.rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCreditsCommands(t *testing.T) {
	ledger := &fakeLedger{balance: 4, granted: map[string]bool{}}

	out, err := execute(t, ledger, "credits", "balance", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1 balance=4 updated=never\n", out)

	out, err = execute(t, ledger, "credits", "grant", "user-1", "10", "--entity-id", "promo-2024")
	require.NoError(t, err)
	assert.Equal(t, "granted 10 credits to user-1\n", out)

	out, err = execute(t, ledger, "credits", "grant", "user-1", "10", "--entity-id", "promo-2024")
	require.NoError(t, err)
	assert.Equal(t, "already granted for MANUAL_GRANT promo-2024\n", out)
	assert.Equal(t, int64(14), ledger.balance)

	out, err = execute(t, ledger, "credits", "refund", "user-1", "2", "--image-id", "img-1")
	require.NoError(t, err)
	assert.Equal(t, "refunded 2 credits to user-1, balance=16\n", out)
	require.Len(t, ledger.refunds, 1)
	assert.Equal(t, domain.RelatedEntityImage, ledger.refunds[0].RelatedEntityType)

	out, err = execute(t, ledger, "credits", "adjust", "user-1", "--", "-6")
	require.NoError(t, err)
	assert.Equal(t, "adjusted user-1 by -6, balance=10\n", out)

	_, err = execute(t, ledger, "credits", "adjust", "user-1", "--", "-11")
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Equal(t, int64(10), ledger.balance)

	assert.Equal(t, 6, ledger.closed)
}

func TestCreditsCommands_RejectBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "zero grant", args: []string{"credits", "grant", "user-1", "0", "--entity-id", "x"}},
		{name: "negative refund", args: []string{"credits", "refund", "user-1", "--", "-3"}},
		{name: "non-numeric delta", args: []string{"credits", "adjust", "user-1", "ten"}},
		{name: "grant without entity", args: []string{"credits", "grant", "user-1", "5"}},
		{name: "missing user", args: []string{"credits", "balance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{granted: map[string]bool{}}
			_, err := execute(t, ledger, tt.args...)
			assert.Error(t, err)
			assert.Zero(t, ledger.balance)
		})
	}
}

func TestCreditsHistory(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{page: &credits.Page{
		Transactions: []domain.CreditTransaction{
			{ID: "tx-2", Type: domain.TransactionConsumption, Amount: 2, BalanceAfter: 8, Reason: "Photo restoration", CreatedAt: created},
			{ID: "tx-1", Type: domain.TransactionTopup, Amount: 10, BalanceAfter: 10, Reason: "Credit topup", CreatedAt: created},
		},
		NextCursor: "tx-1",
	}}

	out, err := execute(t, ledger, "credits", "history", "user-1", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "tx-2")
	assert.Contains(t, out, "-2")
	assert.Contains(t, out, "+10")
	assert.Contains(t, out, "next cursor: tx-1")

	ledger.page = &credits.Page{}
	out, err = execute(t, ledger, "credits", "history", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "No transactions found\n", out)
}
