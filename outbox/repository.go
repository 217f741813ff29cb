package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Tx aliases *sql.Tx so callers orchestrating their own transactions can
// hand the same handle to the outbox write without an adapter layer.
type Tx = *sql.Tx

// ClaimStaleAfter is how long an event may sit in PROCESSING before another
// claim cycle may take it over.
const ClaimStaleAfter = time.Minute

// Repository defines persistence operations for outbox events.
type Repository interface {
	// Create persists a pending event outside any caller transaction.
	Create(ctx context.Context, event *Event) error

	// CreateWithTx persists a pending event inside the caller's transaction
	// so the event commits or rolls back with the state change it announces.
	CreateWithTx(ctx context.Context, tx Tx, event *Event) error

	// ClaimPending atomically moves up to limit unpublished events to
	// PROCESSING and returns them in creation order per aggregate. Events
	// stuck in PROCESSING longer than ClaimStaleAfter are reclaimable, so a
	// relay crash between claim and mark cannot strand them.
	ClaimPending(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished records transport acknowledgment.
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error

	// MarkFailed records a publish failure, keeping the event retryable
	// until attempts reach maxAttempts.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error
}

// Publisher delivers an event payload to the message transport. Publish must
// not return nil before the transport has acknowledged the message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}
