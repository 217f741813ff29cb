// Package intent tracks expected incoming payments: a business action that
// awaits funds registers an order intent, and the snapshot pipeline drives
// its monotonic lifecycle when the matching transfer arrives.
package intent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIntentNotFound is returned when no intent matches an order id.
	ErrIntentNotFound = errors.New("order intent not found")
	// ErrOrderIDTaken is returned when creating an intent for an order id
	// that already has one.
	ErrOrderIDTaken = errors.New("order id already has an intent")
	// ErrOrderIDRequired is returned for an empty order id.
	ErrOrderIDRequired = errors.New("order id is required")
	// ErrPairIDRequired is returned for an empty pair id.
	ErrPairIDRequired = errors.New("pair id is required")
	// ErrStatusInvalid is returned for a status outside the lifecycle.
	ErrStatusInvalid = errors.New("invalid intent status")
)

// Status is the lifecycle state of an intent. Transitions are monotonic:
// pending -> in_progress -> {completed, expired}; completed and expired are
// terminal and there are no backward edges.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
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
	case StatusPending, StatusInProgress, StatusCompleted, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status accepts no further transitions.
func (status Status) IsTerminal() bool {
	return status == StatusCompleted || status == StatusExpired
}

// CanTransitionTo reports whether a transition from status to next is allowed.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusPending:
		return next == StatusInProgress || next == StatusExpired
	case StatusInProgress:
		return next == StatusCompleted || next == StatusExpired
	case StatusCompleted, StatusExpired:
		return false
	default:
		return false
	}
}

func (status Status) String() string {
	return string(status)
}

// Intent is a pre-registered expectation of an incoming payment. Intents
// are never deleted; terminal states end their lifecycle.
type Intent struct {
	OrderID   string
	PairID    string
	UserID    string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}
