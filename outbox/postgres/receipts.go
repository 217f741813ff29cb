package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantaflow/paycore/outbox"
	libPostgres "github.com/quantaflow/paycore/postgres"
)

// ReceiptStore is the SQL implementation of outbox.ReceiptStore. The
// unique index on (consumer, idempotency_key) is the whole mechanism:
// a conflicting insert means the message was applied before.
type ReceiptStore struct {
	client *libPostgres.Client
}

var _ outbox.ReceiptStore = (*ReceiptStore)(nil)

// NewReceiptStore creates a SQL receipt store.
func NewReceiptStore(client *libPostgres.Client) (*ReceiptStore, error) {
	if client == nil {
		return nil, libPostgres.ErrNotConnected
	}

	return &ReceiptStore{client: client}, nil
}

// Record implements outbox.ReceiptStore.
func (s *ReceiptStore) Record(ctx context.Context, consumer, idempotencyKey string) (bool, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return false, outbox.ErrConsumerNameRequired
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return false, outbox.ErrIdempotencyKeyRequired
	}

	db, err := s.client.Primary()
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO consumer_receipts (id, consumer, idempotency_key, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consumer, idempotency_key) DO NOTHING`,
		uuid.New(), consumer, idempotencyKey, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record receipt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record receipt rows: %w", err)
	}

	return rows > 0, nil
}
