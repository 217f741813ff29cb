package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and single-process
// deployments. CreateWithTx ignores the transaction handle; memory writes
// are atomic under the internal mutex.
type MemoryRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory outbox repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[uuid.UUID]*Event)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, event *Event) error {
	if event == nil {
		return ErrEventRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *event
	r.events[event.ID] = &clone

	return nil
}

// CreateWithTx implements Repository. The tx handle is unused in memory.
func (r *MemoryRepository) CreateWithTx(ctx context.Context, _ Tx, event *Event) error {
	return r.Create(ctx, event)
}

// ClaimPending implements Repository: pending and retryable failed events
// (plus stale PROCESSING claims) move to PROCESSING and come back in
// creation order, then by aggregate for a stable order within one instant.
func (r *MemoryRepository) ClaimPending(_ context.Context, limit int) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	var claimable []*Event

	for _, event := range r.events {
		if event.Status == StatusPending || event.Status == StatusFailed {
			claimable = append(claimable, event)

			continue
		}

		if event.Status == StatusProcessing && now.Sub(event.UpdatedAt) > ClaimStaleAfter {
			claimable = append(claimable, event)
		}
	}

	sort.Slice(claimable, func(i, j int) bool {
		if !claimable[i].CreatedAt.Equal(claimable[j].CreatedAt) {
			return claimable[i].CreatedAt.Before(claimable[j].CreatedAt)
		}

		return claimable[i].AggregateID < claimable[j].AggregateID
	})

	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}

	claimed := make([]*Event, 0, len(claimable))

	for _, event := range claimable {
		event.Status = StatusProcessing
		event.UpdatedAt = now

		clone := *event
		claimed = append(claimed, &clone)
	}

	return claimed, nil
}

// MarkPublished implements Repository.
func (r *MemoryRepository) MarkPublished(_ context.Context, id uuid.UUID, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return ErrEventRequired
	}

	event.Status = StatusPublished
	event.PublishedAt = &publishedAt
	event.UpdatedAt = time.Now().UTC()

	return nil
}

// MarkFailed implements Repository. Events stay FAILED and retryable; the
// attempt count is informational for operators once maxAttempts is reached.
func (r *MemoryRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return ErrEventRequired
	}

	event.Status = StatusFailed
	event.Attempts++
	event.LastError = errMsg
	event.UpdatedAt = time.Now().UTC()

	return nil
}

// Get returns a copy of the stored event, for tests.
func (r *MemoryRepository) Get(id uuid.UUID) (*Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return nil, false
	}

	clone := *event

	return &clone, true
}
