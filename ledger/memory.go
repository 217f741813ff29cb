package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryRepository is an in-process Repository. The mutex gives the same
// atomicity the SQL implementation gets from its transaction.
type MemoryRepository struct {
	mu       sync.Mutex
	entries  []*Entry
	byKey    map[string]*Entry
	balances map[string]*Balance
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory ledger repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKey:    make(map[string]*Entry),
		balances: make(map[string]*Balance),
	}
}

func balanceKey(userID, assetID string) string {
	return userID + "\x00" + assetID
}

// Apply implements Repository.
func (r *MemoryRepository) Apply(_ context.Context, entry *Entry) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, exists := r.byKey[entry.IdempotencyKey]; exists {
		clone := *prior

		return &Result{Entry: &clone, Replayed: true}, nil
	}

	key := balanceKey(entry.UserID, entry.AssetID)

	balance, ok := r.balances[key]
	if !ok {
		balance = &Balance{
			UserID:    entry.UserID,
			AssetID:   entry.AssetID,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			Total:     decimal.Zero,
		}
	}

	if entry.Direction == DirectionDebit && balance.Available.LessThan(entry.Amount) {
		return nil, ErrInsufficientBalance
	}

	signed := entry.Signed()
	balance.Available = balance.Available.Add(signed)
	balance.Total = balance.Total.Add(signed)
	balance.UpdatedAt = time.Now().UTC()
	r.balances[key] = balance

	clone := *entry
	r.entries = append(r.entries, &clone)
	r.byKey[entry.IdempotencyKey] = &clone

	stored := clone

	return &Result{Entry: &stored, Replayed: false}, nil
}

// GetBalance implements Repository.
func (r *MemoryRepository) GetBalance(_ context.Context, userID, assetID string) (*Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance, ok := r.balances[balanceKey(userID, assetID)]
	if !ok {
		return nil, ErrBalanceNotFound
	}

	clone := *balance

	return &clone, nil
}

// ListEntries implements Repository.
func (r *MemoryRepository) ListEntries(_ context.Context, userID, assetID string) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Entry

	for _, entry := range r.entries {
		if entry.UserID == userID && entry.AssetID == assetID {
			clone := *entry
			out = append(out, &clone)
		}
	}

	return out, nil
}

// ReplaceBalance implements Repository.
func (r *MemoryRepository) ReplaceBalance(_ context.Context, balance *Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *balance
	r.balances[balanceKey(balance.UserID, balance.AssetID)] = &clone

	return nil
}
