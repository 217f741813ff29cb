package ledger

import "context"

// Repository is the persistence boundary of the ledger. The entry insert
// and the read-model update must be a single atomic unit; no code path may
// leave one written without the other.
type Repository interface {
	// Apply inserts the entry and updates the balance atomically.
	//
	// If an entry with the same idempotency key already exists, Apply
	// performs no mutation and returns the prior entry with Replayed=true.
	// A debit whose amount exceeds the available balance returns
	// ErrInsufficientBalance and performs no mutation.
	Apply(ctx context.Context, entry *Entry) (*Result, error)

	// GetBalance returns the read-model row, or ErrBalanceNotFound.
	GetBalance(ctx context.Context, userID, assetID string) (*Balance, error)

	// ListEntries returns all entries for the pair in creation order.
	ListEntries(ctx context.Context, userID, assetID string) ([]*Entry, error)

	// ReplaceBalance overwrites the read-model row. Used only by the
	// rebuild-from-entries audit operation.
	ReplaceBalance(ctx context.Context, balance *Balance) error
}
