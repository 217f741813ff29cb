// Package withdrawal implements the outbound settlement pipeline: debit the
// internal ledger, trigger external disbursement, and confirm completion by
// polling the external network.
package withdrawal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no withdrawal matches an id.
	ErrNotFound = errors.New("withdrawal not found")
	// ErrStatusInvalid is returned for a status outside the lifecycle.
	ErrStatusInvalid = errors.New("invalid withdrawal status")
	// ErrReschedule signals a transient condition: the caller should back
	// off and retry processing the same withdrawal.
	ErrReschedule = errors.New("withdrawal processing should be rescheduled")
	// ErrSourceInsufficient is returned when the external wallet cannot
	// cover the amount. The internal ledger is not touched.
	ErrSourceInsufficient = errors.New("insufficient source balance")
)

// Status is the lifecycle state of a withdrawal.
type Status string

const (
	StatusPending              Status = "pending"
	StatusProcessing           Status = "processing"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

// ParseStatus validates and converts a raw string status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether the status is part of the lifecycle.
func (status Status) IsValid() bool {
	switch status {
	case StatusPending, StatusProcessing, StatusAwaitingConfirmation, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status accepts no further transitions.
func (status Status) IsTerminal() bool {
	return status == StatusCompleted || status == StatusFailed
}

// CanTransitionTo reports whether a transition from status to next is allowed.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusAwaitingConfirmation || next == StatusFailed
	case StatusAwaitingConfirmation:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}

func (status Status) String() string {
	return string(status)
}

// Withdrawal is one outbound transfer request.
type Withdrawal struct {
	ID          uuid.UUID
	UserID      string
	AssetID     string
	Amount      decimal.Decimal
	Destination string
	Status      Status
	RetryCount  int
	ExternalRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DebitKey derives the ledger idempotency key for a withdrawal, so retried
// processing of the same withdrawal never debits twice.
func DebitKey(id uuid.UUID) string {
	return "withdrawal-debit:" + id.String()
}
