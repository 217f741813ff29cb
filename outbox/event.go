// Package outbox implements the transactional outbox pattern plus consumer
// receipts: state changes write an event row in the same transaction as the
// change, a relay publishes pending rows to the message transport, and
// consumers record receipts so at-least-once redelivery applies at most once.
package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxPayloadBytes caps event payload size (stored as JSONB).
const DefaultMaxPayloadBytes = 1 << 20

// Event is an event stored in the outbox for reliable delivery.
type Event struct {
	ID            uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte
	Status        Status
	Attempts      int
	PublishedAt   *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewEvent creates a valid outbox event initialized as pending.
func NewEvent(eventType, aggregateType, aggregateID string, payload []byte) (*Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("outbox event type: %w", ErrEventTypeRequired)
	}

	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, fmt.Errorf("outbox aggregate id: %w", ErrAggregateIDRequired)
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("outbox event payload: %w", ErrPayloadRequired)
	}

	if len(payload) > DefaultMaxPayloadBytes {
		return nil, fmt.Errorf("outbox event payload: %w", ErrPayloadTooLarge)
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("outbox event payload: %w", ErrPayloadNotJSON)
	}

	now := time.Now().UTC()

	return &Event{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: strings.TrimSpace(aggregateType),
		AggregateID:   aggregateID,
		Payload:       payload,
		Status:        StatusPending,
		Attempts:      0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// MustJSON marshals v for an event payload, panicking on marshal failure.
// Only for payload types the caller fully controls.
func MustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("outbox payload marshal: %v", err))
	}

	return raw
}
