//go:build unit

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantaflow/paycore/backoff"
)

func fastPolicy() backoff.Policy {
	return backoff.Policy{Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met before deadline")
}

func TestMemoryEnqueueValidation(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)

	err := q.Enqueue(context.Background(), Job{ID: "job-1"})
	require.ErrorIs(t, err, ErrJobTypeRequired)

	err = q.Enqueue(context.Background(), Job{Type: "work"})
	require.ErrorIs(t, err, ErrJobIDRequired)
}

func TestMemoryDuplicateJobID(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)

	job := Job{Type: "work", ID: "job-1", Payload: []byte(`{}`)}
	require.NoError(t, q.Enqueue(context.Background(), job))

	err := q.Enqueue(context.Background(), job)
	require.ErrorIs(t, err, ErrDuplicateJob)
	assert.True(t, IsDuplicate(err))
}

func TestMemoryDispatchesToHandler(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)

	var handled atomic.Int32

	require.NoError(t, q.Consume("work", func(_ context.Context, payload []byte) error {
		assert.Equal(t, []byte(`{"n":1}`), payload)
		handled.Add(1)

		return nil
	}))

	ctx := context.Background()
	q.Start(ctx, 2)

	defer func() { require.NoError(t, q.Shutdown(context.Background())) }()

	require.NoError(t, q.Enqueue(ctx, Job{Type: "work", ID: "job-1", Payload: []byte(`{"n":1}`)}))

	waitFor(t, func() bool { return handled.Load() == 1 })
}

func TestMemoryConsumeRejectsSecondHandler(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)

	handler := func(context.Context, []byte) error { return nil }

	require.NoError(t, q.Consume("work", handler))
	require.ErrorIs(t, q.Consume("work", handler), ErrHandlerAlreadyRegistered)
}

func TestMemoryRetriesThenRetains(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)

	var attempts atomic.Int32

	require.NoError(t, q.Consume("work", func(context.Context, []byte) error {
		attempts.Add(1)

		return errors.New("downstream unavailable")
	}))

	ctx := context.Background()
	q.Start(ctx, 1)

	defer func() { require.NoError(t, q.Shutdown(context.Background())) }()

	require.NoError(t, q.Enqueue(ctx, Job{
		Type:        "work",
		ID:          "job-1",
		MaxAttempts: 3,
		Backoff:     fastPolicy(),
	}))

	waitFor(t, func() bool { return len(q.DeadJobs()) == 1 })
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, "job-1", q.DeadJobs()[0].ID)
}

func TestMemoryRetainsJobWithoutHandler(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)

	ctx := context.Background()
	q.Start(ctx, 1)

	defer func() { require.NoError(t, q.Shutdown(context.Background())) }()

	require.NoError(t, q.Enqueue(ctx, Job{Type: "unknown", ID: "job-1"}))

	waitFor(t, func() bool { return len(q.DeadJobs()) == 1 })
}

func TestMemoryDropsLegacyTypeSilently(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)
	q.RegisterLegacyType("old_work")

	ctx := context.Background()
	q.Start(ctx, 1)

	defer func() { require.NoError(t, q.Shutdown(context.Background())) }()

	require.NoError(t, q.Enqueue(ctx, Job{Type: "old_work", ID: "job-1"}))

	// A retired kind is dropped, never retained as dead.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, q.DeadJobs())
}

func TestMemoryEnqueueAfterShutdown(t *testing.T) {
	t.Parallel()

	q := NewMemory(8, nil)
	q.Start(context.Background(), 1)
	require.NoError(t, q.Shutdown(context.Background()))

	err := q.Enqueue(context.Background(), Job{Type: "work", ID: "job-1"})
	require.ErrorIs(t, err, ErrQueueClosed)
}
