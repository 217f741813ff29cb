//go:build unit

package snapshot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaflow/paycore/queue"
)

type captureQueue struct {
	jobs []queue.Job
	seen map[string]struct{}
}

func newCaptureQueue() *captureQueue {
	return &captureQueue{seen: make(map[string]struct{})}
}

func (q *captureQueue) Enqueue(_ context.Context, job queue.Job) error {
	if _, dup := q.seen[job.ID]; dup {
		return queue.ErrDuplicateJob
	}

	q.seen[job.ID] = struct{}{}
	q.jobs = append(q.jobs, job)

	return nil
}

func (q *captureQueue) Consume(string, queue.Handler) error { return nil }

func TestQueueRefunderEnqueuesDurableJob(t *testing.T) {
	t.Parallel()

	q := newCaptureQueue()
	refunder := NewQueueRefunder(q)

	snap := Snapshot{
		SnapshotID: "snap-1",
		AssetID:    "asset-btc",
		Amount:     decimal.RequireFromString("0.75"),
		SenderRef:  "sender-9",
		CreatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, refunder.Refund(context.Background(), snap))

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, RefundJobType, job.Type)
	assert.Equal(t, RefundJobIDPrefix+"snap-1", job.ID)

	var payload RefundJobPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "snap-1", payload.SnapshotID)
	assert.Equal(t, "asset-btc", payload.AssetID)
	assert.Equal(t, "0.75", payload.Amount)
	assert.Equal(t, "sender-9", payload.SenderRef)
}

func TestQueueRefunderDuplicateIsNoOp(t *testing.T) {
	t.Parallel()

	q := newCaptureQueue()
	refunder := NewQueueRefunder(q)

	snap := Snapshot{SnapshotID: "snap-1", Amount: decimal.NewFromInt(1)}

	require.NoError(t, refunder.Refund(context.Background(), snap))
	require.NoError(t, refunder.Refund(context.Background(), snap))

	assert.Len(t, q.jobs, 1)
}

type captureExecutor struct {
	snapshotIDs []string
	assetIDs    []string
	amounts     []string
	senders     []string
}

func (e *captureExecutor) ReturnTransfer(_ context.Context, snapshotID, assetID, amount, senderRef string) error {
	e.snapshotIDs = append(e.snapshotIDs, snapshotID)
	e.assetIDs = append(e.assetIDs, assetID)
	e.amounts = append(e.amounts, amount)
	e.senders = append(e.senders, senderRef)

	return nil
}

func TestRefundHandlerDrainsQueuedPayload(t *testing.T) {
	t.Parallel()

	executor := &captureExecutor{}
	handler := NewRefundHandler(executor)

	payload, err := json.Marshal(RefundJobPayload{
		SnapshotID: "snap-1",
		AssetID:    "asset-btc",
		Amount:     "0.75",
		SenderRef:  "sender-9",
	})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), payload))
	assert.Equal(t, []string{"snap-1"}, executor.snapshotIDs)
	assert.Equal(t, []string{"asset-btc"}, executor.assetIDs)
	assert.Equal(t, []string{"0.75"}, executor.amounts)
	assert.Equal(t, []string{"sender-9"}, executor.senders)

	require.Error(t, handler(context.Background(), []byte("not json")))
}

func TestMemoryCursorStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryCursorStore()
	ctx := context.Background()

	cursor, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	at := time.Date(2026, 8, 1, 12, 0, 0, 123456789, time.UTC)
	require.NoError(t, store.Set(ctx, at))

	cursor, err = store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, cursor.Equal(at))
}
