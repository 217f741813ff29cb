package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantaflow/paycore/backoff"
	"github.com/quantaflow/paycore/queue"
)

const (
	// RefundJobType is the job kind consumed by the refund worker.
	RefundJobType = "snapshot_refund"

	// RefundJobIDPrefix derives the deterministic refund job identity from
	// the snapshot id, so observing the same snapshot twice never issues
	// two refunds.
	RefundJobIDPrefix = "mixin_refund_"

	refundMaxAttempts = 10
)

// RefundJobPayload is the queued representation of a refund.
type RefundJobPayload struct {
	SnapshotID string    `json:"snapshot_id"`
	AssetID    string    `json:"asset_id"`
	Amount     string    `json:"amount"`
	SenderRef  string    `json:"sender_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// RefundExecutor performs the actual outbound return of a received
// transfer. Implementations must treat the snapshot id as an idempotency
// key.
type RefundExecutor interface {
	ReturnTransfer(ctx context.Context, snapshotID, assetID, amount, senderRef string) error
}

// NewRefundHandler returns the queue handler that drains refund jobs
// through the executor.
func NewRefundHandler(executor RefundExecutor) queue.Handler {
	return func(ctx context.Context, raw []byte) error {
		var payload RefundJobPayload

		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decode refund payload: %w", err)
		}

		return executor.ReturnTransfer(ctx, payload.SnapshotID, payload.AssetID, payload.Amount, payload.SenderRef)
	}
}

// QueueRefunder makes refunds durable by enqueuing them instead of calling
// the disbursement side inline: a refund is money-moving work and must
// survive process crashes and transient failures.
type QueueRefunder struct {
	queue queue.Queue
}

var _ Refunder = (*QueueRefunder)(nil)

// NewQueueRefunder creates a queue-backed refunder.
func NewQueueRefunder(q queue.Queue) *QueueRefunder {
	return &QueueRefunder{queue: q}
}

// Refund implements Refunder. A duplicate job id is a successful no-op.
func (r *QueueRefunder) Refund(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(RefundJobPayload{
		SnapshotID: snap.SnapshotID,
		AssetID:    snap.AssetID,
		Amount:     snap.Amount.String(),
		SenderRef:  snap.SenderRef,
		CreatedAt:  snap.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal refund payload: %w", err)
	}

	err = r.queue.Enqueue(ctx, queue.Job{
		Type:        RefundJobType,
		ID:          RefundJobIDPrefix + snap.SnapshotID,
		Payload:     payload,
		MaxAttempts: refundMaxAttempts,
		Backoff:     backoff.DefaultPolicy,
	})
	if err != nil && !queue.IsDuplicate(err) {
		return fmt.Errorf("enqueue refund: %w", err)
	}

	return nil
}
