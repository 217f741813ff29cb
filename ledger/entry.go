// Package ledger records every balance-affecting event exactly once in an
// append-only entry log and maintains a derived balance read-model that must
// always reconcile to the sum of entries.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the
	// available balance. Nothing is mutated.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrEntryNotFound is returned when no entry matches a lookup.
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrBalanceNotFound is returned when no balance row exists for a
	// (user, asset) pair.
	ErrBalanceNotFound = errors.New("balance not found")
	// ErrUserIDRequired is returned for an empty user id.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrAssetIDRequired is returned for an empty asset id.
	ErrAssetIDRequired = errors.New("asset id is required")
	// ErrAmountNotPositive is returned for a zero or negative amount.
	ErrAmountNotPositive = errors.New("amount must be positive")
	// ErrIdempotencyKeyRequired is returned for an empty idempotency key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrReconciliationMismatch is returned when the read-model disagrees
	// with the entry sum.
	ErrReconciliationMismatch = errors.New("balance read-model does not reconcile to entry sum")
)

// Direction is the sign of an entry.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// IsValid reports whether the direction is known.
func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Entry is one immutable ledger record. Entries are never mutated or
// deleted; the uniqueness constraint on IdempotencyKey is what makes
// duplicate submissions replay-safe.
type Entry struct {
	ID             uuid.UUID
	UserID         string
	AssetID        string
	Direction      Direction
	Amount         decimal.Decimal
	RefType        string
	RefID          string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Signed returns the entry amount with the direction's sign applied.
func (e *Entry) Signed() decimal.Decimal {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}

	return e.Amount
}

// Balance is the derived read-model for one (user, asset) pair. At rest,
// Total must equal the sum of signed entries for the pair.
type Balance struct {
	UserID    string
	AssetID   string
	Available decimal.Decimal
	Locked    decimal.Decimal
	Total     decimal.Decimal
	UpdatedAt time.Time
}

// Result is the outcome of applying an entry. An idempotency-key collision
// is not an error: Replayed is true and Entry holds the prior record.
type Result struct {
	Entry    *Entry
	Replayed bool
}
