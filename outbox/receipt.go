package outbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Receipt records that a consumer applied a message. The unique
// (consumer, idempotencyKey) pair turns at-least-once redelivery into
// at-most-once application.
type Receipt struct {
	ID             uuid.UUID
	Consumer       string
	IdempotencyKey string
	ProcessedAt    time.Time
}

// ReceiptStore persists consumer receipts.
type ReceiptStore interface {
	// Record inserts a receipt for (consumer, key). It returns true when
	// the receipt is new — the caller should apply the message — and false
	// when the pair already exists, meaning the message was applied before.
	Record(ctx context.Context, consumer, idempotencyKey string) (bool, error)
}

// MemoryReceiptStore is an in-process ReceiptStore for tests and
// single-process deployments.
type MemoryReceiptStore struct {
	mu       sync.Mutex
	receipts map[string]Receipt
}

var _ ReceiptStore = (*MemoryReceiptStore)(nil)

// NewMemoryReceiptStore creates an empty in-memory receipt store.
func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{receipts: make(map[string]Receipt)}
}

// Record implements ReceiptStore.
func (s *MemoryReceiptStore) Record(_ context.Context, consumer, idempotencyKey string) (bool, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return false, ErrConsumerNameRequired
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return false, ErrIdempotencyKeyRequired
	}

	key := consumer + "\x00" + idempotencyKey

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[key]; exists {
		return false, nil
	}

	s.receipts[key] = Receipt{
		ID:             uuid.New(),
		Consumer:       consumer,
		IdempotencyKey: idempotencyKey,
		ProcessedAt:    time.Now().UTC(),
	}

	return true, nil
}
