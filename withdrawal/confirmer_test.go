//go:build unit

package withdrawal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaflow/paycore/outbox"
)

type stubChecker struct {
	confirmations map[string]int
	err           error
}

func (s *stubChecker) Confirmations(_ context.Context, externalRef string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	return s.confirmations[externalRef], nil
}

func awaitingWithdrawal(t *testing.T, repo Repository, externalRef string, dispatchedAt time.Time) *Withdrawal {
	t.Helper()

	w := &Withdrawal{
		ID:          uuid.New(),
		UserID:      "user-1",
		AssetID:     "asset-btc",
		Amount:      decimal.NewFromInt(10),
		Destination: "dest-addr",
		Status:      StatusAwaitingConfirmation,
		ExternalRef: externalRef,
		CreatedAt:   dispatchedAt,
		UpdatedAt:   dispatchedAt,
	}

	require.NoError(t, repo.Create(context.Background(), w))

	return w
}

func TestConfirmOnceCompletesConfirmedWithdrawal(t *testing.T) {
	t.Parallel()

	outboxRepo := outbox.NewMemoryRepository()
	repo := NewMemoryRepository(outboxRepo)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	checker := &stubChecker{confirmations: map[string]int{"tx-1": 6}}
	confirmer := NewConfirmer(repo, checker, nil,
		WithConfirmerClock(func() time.Time { return now }))

	w := awaitingWithdrawal(t, repo, "tx-1", now.Add(-time.Minute))

	assert.Equal(t, 1, confirmer.ConfirmOnce(context.Background()))

	stored, err := repo.FindByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)

	events, err := outboxRepo.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompleted, events[0].EventType)
}

func TestConfirmOnceLeavesUnderConfirmedAlone(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository(nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	checker := &stubChecker{confirmations: map[string]int{"tx-1": 3}}
	confirmer := NewConfirmer(repo, checker, nil,
		WithMinConfirmations(6),
		WithConfirmerClock(func() time.Time { return now }))

	w := awaitingWithdrawal(t, repo, "tx-1", now.Add(-time.Minute))

	assert.Zero(t, confirmer.ConfirmOnce(context.Background()))

	stored, err := repo.FindByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirmation, stored.Status)
}

func TestConfirmOnceFailsAfterMaxWait(t *testing.T) {
	t.Parallel()

	outboxRepo := outbox.NewMemoryRepository()
	repo := NewMemoryRepository(outboxRepo)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	checker := &stubChecker{confirmations: map[string]int{"tx-1": 0}}
	confirmer := NewConfirmer(repo, checker, nil,
		WithMaxWait(time.Hour),
		WithConfirmerClock(func() time.Time { return now }))

	w := awaitingWithdrawal(t, repo, "tx-1", now.Add(-2*time.Hour))

	assert.Equal(t, 1, confirmer.ConfirmOnce(context.Background()))

	stored, err := repo.FindByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)

	events, err := outboxRepo.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].EventType)
}

func TestConfirmOnceToleratesCheckerErrors(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository(nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	checker := &stubChecker{err: errors.New("node unavailable")}
	confirmer := NewConfirmer(repo, checker, nil,
		WithConfirmerClock(func() time.Time { return now }))

	w := awaitingWithdrawal(t, repo, "tx-1", now.Add(-time.Minute))

	assert.Zero(t, confirmer.ConfirmOnce(context.Background()))

	stored, err := repo.FindByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirmation, stored.Status)
}

func TestWithdrawalStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusAwaitingConfirmation, false},
		{StatusProcessing, StatusAwaitingConfirmation, true},
		{StatusProcessing, StatusFailed, true},
		{StatusAwaitingConfirmation, StatusCompleted, true},
		{StatusAwaitingConfirmation, StatusFailed, true},
		{StatusAwaitingConfirmation, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestConfirmerStartStop(t *testing.T) {
	t.Parallel()

	confirmer := NewConfirmer(NewMemoryRepository(nil), &stubChecker{}, nil,
		WithConfirmInterval(10*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, confirmer.Start(ctx))

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	require.NoError(t, confirmer.Shutdown(shutdownCtx))
}
