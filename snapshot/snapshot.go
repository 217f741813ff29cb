// Package snapshot consumes the external ledger's transfer feed: it polls
// for new snapshots, deduplicates them against a persisted cursor, validates
// each transfer and routes decoded sender intent to the trading handlers.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantaflow/paycore/memo"
)

var (
	// ErrFeedRequired is returned when a poller is built without a feed.
	ErrFeedRequired = errors.New("snapshot feed is required")
	// ErrCursorStoreRequired is returned when a poller is built without a
	// cursor store.
	ErrCursorStoreRequired = errors.New("cursor store is required")
	// ErrRefunderRequired is returned when a poller is built without a
	// refunder.
	ErrRefunderRequired = errors.New("refunder is required")
	// ErrHandlerRequired is returned when a poller is built without a
	// market-making handler.
	ErrHandlerRequired = errors.New("market-making handler is required")
	// ErrPollerRunning is returned when Start is called twice.
	ErrPollerRunning = errors.New("snapshot poller is already running")
)

// Snapshot is an immutable record of an asset transfer observed on the
// external ledger feed. Read-only input.
type Snapshot struct {
	SnapshotID string
	AssetID    string
	Amount     decimal.Decimal
	// Memo is the hex-encoded opaque payload attached by the sender.
	Memo      string
	SenderRef string
	CreatedAt time.Time
}

// Feed is the external snapshot source. Poll returns the full current feed
// window in feed order; the poller deduplicates via the cursor.
type Feed interface {
	Poll(ctx context.Context) ([]Snapshot, error)
}

// Refunder returns the originally received asset to the sender. It is
// invoked on every intake validation failure that has a valid sender
// intent behind it.
type Refunder interface {
	Refund(ctx context.Context, snap Snapshot) error
}

// MarketMakingHandler receives validated market-making create payloads.
// Implemented by the intent service.
type MarketMakingHandler interface {
	HandleCreate(ctx context.Context, snap Snapshot, payload memo.Payload) error
}
