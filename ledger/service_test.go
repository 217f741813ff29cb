//go:build unit

package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()

	repo := NewMemoryRepository()

	return NewService(repo, nil), repo
}

func TestCreditAndBalance(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	result, err := svc.Credit(ctx, "user-1", "asset-btc", decimal.RequireFromString("1.5"), "key-1", "deposit", "snap-1")
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, DirectionCredit, result.Entry.Direction)

	balance, err := svc.Balance(ctx, "user-1", "asset-btc")
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, balance.Total.Equal(decimal.RequireFromString("1.5")))
}

func TestApplyValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t)
	ctx := context.Background()
	one := decimal.NewFromInt(1)

	tests := []struct {
		name     string
		run      func() error
		expected error
	}{
		{
			name: "empty user id",
			run: func() error {
				_, err := svc.Credit(ctx, "", "asset", one, "key", "t", "r")
				return err
			},
			expected: ErrUserIDRequired,
		},
		{
			name: "empty asset id",
			run: func() error {
				_, err := svc.Credit(ctx, "user", " ", one, "key", "t", "r")
				return err
			},
			expected: ErrAssetIDRequired,
		},
		{
			name: "zero amount",
			run: func() error {
				_, err := svc.Credit(ctx, "user", "asset", decimal.Zero, "key", "t", "r")
				return err
			},
			expected: ErrAmountNotPositive,
		},
		{
			name: "negative amount",
			run: func() error {
				_, err := svc.Debit(ctx, "user", "asset", one.Neg(), "key", "t", "r")
				return err
			},
			expected: ErrAmountNotPositive,
		},
		{
			name: "empty idempotency key",
			run: func() error {
				_, err := svc.Credit(ctx, "user", "asset", one, "", "t", "r")
				return err
			},
			expected: ErrIdempotencyKeyRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, tt.run(), tt.expected)
		})
	}
}

func TestIdempotencyKeyReplay(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t)
	ctx := context.Background()
	amount := decimal.NewFromInt(10)

	first, err := svc.Credit(ctx, "user-1", "asset-btc", amount, "key-1", "deposit", "snap-1")
	require.NoError(t, err)
	require.False(t, first.Replayed)

	// Same key, even with a different amount: the prior entry stands and no
	// new money moves.
	replay, err := svc.Credit(ctx, "user-1", "asset-btc", decimal.NewFromInt(999), "key-1", "deposit", "snap-1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Entry.ID, replay.Entry.ID)
	assert.True(t, replay.Entry.Amount.Equal(amount))

	balance, err := svc.Balance(ctx, "user-1", "asset-btc")
	require.NoError(t, err)
	assert.True(t, balance.Total.Equal(amount))
}

func TestDebitInsufficientBalance(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "user-1", "asset-btc", decimal.NewFromInt(5), "key-credit", "deposit", "snap-1")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user-1", "asset-btc", decimal.NewFromInt(10), "key-debit", "withdrawal", "wd-1")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// The failed debit left no entry and no balance change behind.
	balance, err := svc.Balance(ctx, "user-1", "asset-btc")
	require.NoError(t, err)
	assert.True(t, balance.Total.Equal(decimal.NewFromInt(5)))

	require.NoError(t, svc.Reconcile(ctx, "user-1", "asset-btc"))
}

func TestDebitReducesBalance(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "user-1", "asset-btc", decimal.NewFromInt(10), "key-credit", "deposit", "snap-1")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user-1", "asset-btc", decimal.NewFromInt(4), "key-debit", "withdrawal", "wd-1")
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, "user-1", "asset-btc")
	require.NoError(t, err)
	assert.True(t, balance.Total.Equal(decimal.NewFromInt(6)))
}

func TestRebuildMatchesEntrySum(t *testing.T) {
	t.Parallel()

	svc, repo := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "user-1", "asset-btc", decimal.NewFromInt(10), "key-1", "deposit", "snap-1")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user-1", "asset-btc", decimal.NewFromInt(3), "key-2", "withdrawal", "wd-1")
	require.NoError(t, err)

	// Corrupt the read-model, then rebuild it from the entry log.
	require.NoError(t, repo.ReplaceBalance(ctx, &Balance{
		UserID:    "user-1",
		AssetID:   "asset-btc",
		Available: decimal.NewFromInt(999),
		Total:     decimal.NewFromInt(999),
	}))

	require.ErrorIs(t, svc.Reconcile(ctx, "user-1", "asset-btc"), ErrReconciliationMismatch)

	rebuilt, err := svc.Rebuild(ctx, "user-1", "asset-btc")
	require.NoError(t, err)
	assert.True(t, rebuilt.Total.Equal(decimal.NewFromInt(7)))

	require.NoError(t, svc.Reconcile(ctx, "user-1", "asset-btc"))
}

func TestReconcileMissingBalanceRow(t *testing.T) {
	t.Parallel()

	svc, _ := newTestLedger(t)

	// No entries and no balance row: reconciles against a zero sum.
	require.NoError(t, svc.Reconcile(context.Background(), "user-unknown", "asset-unknown"))
}

func TestEntrySigned(t *testing.T) {
	t.Parallel()

	credit := &Entry{Direction: DirectionCredit, Amount: decimal.NewFromInt(5)}
	debit := &Entry{Direction: DirectionDebit, Amount: decimal.NewFromInt(5)}

	assert.True(t, credit.Signed().Equal(decimal.NewFromInt(5)))
	assert.True(t, debit.Signed().Equal(decimal.NewFromInt(-5)))
}
