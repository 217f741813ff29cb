package withdrawal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantaflow/paycore/outbox"
)

// Repository is the persistence boundary for withdrawals. All status
// transitions are conditional compare-and-set updates so concurrently
// retried processor instances cannot race each other into an inconsistent
// state. When an event is passed, it is written to the outbox in the same
// atomic unit as the transition.
type Repository interface {
	Create(ctx context.Context, w *Withdrawal) error
	FindByID(ctx context.Context, id uuid.UUID) (*Withdrawal, error)

	// UpdateStatusFrom applies from->to only while the stored status still
	// equals from, optionally recording an outbox event atomically.
	// Returns false without error when the precondition no longer holds.
	UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to Status, event *outbox.Event) (bool, error)

	// MarkDispatched performs the processing->awaiting_confirmation CAS
	// and persists the external transaction reference.
	MarkDispatched(ctx context.Context, id uuid.UUID, externalRef string, event *outbox.Event) (bool, error)

	// IncrementRetry bumps the retry counter and returns the new value.
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)

	ListByStatus(ctx context.Context, status Status, limit int) ([]*Withdrawal, error)
}

// MemoryRepository is an in-process Repository. Outbox events piggyback on
// the provided outbox repository under the same mutex hold.
type MemoryRepository struct {
	mu          sync.Mutex
	withdrawals map[uuid.UUID]*Withdrawal
	outbox      outbox.Repository
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an in-memory withdrawal repository. The
// outbox repository may be nil when no events are recorded.
func NewMemoryRepository(outboxRepo outbox.Repository) *MemoryRepository {
	return &MemoryRepository{
		withdrawals: make(map[uuid.UUID]*Withdrawal),
		outbox:      outboxRepo,
	}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, w *Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *w
	r.withdrawals[w.ID] = &clone

	return nil
}

// FindByID implements Repository.
func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *w

	return &clone, nil
}

// UpdateStatusFrom implements Repository.
func (r *MemoryRepository) UpdateStatusFrom(
	ctx context.Context,
	id uuid.UUID,
	from, to Status,
	event *outbox.Event,
) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, ErrStatusInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.withdrawals[id]
	if !ok {
		return false, ErrNotFound
	}

	if w.Status != from {
		return false, nil
	}

	w.Status = to
	w.UpdatedAt = time.Now().UTC()

	return true, r.recordEvent(ctx, event)
}

// MarkDispatched implements Repository.
func (r *MemoryRepository) MarkDispatched(
	ctx context.Context,
	id uuid.UUID,
	externalRef string,
	event *outbox.Event,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.withdrawals[id]
	if !ok {
		return false, ErrNotFound
	}

	if w.Status != StatusProcessing {
		return false, nil
	}

	w.Status = StatusAwaitingConfirmation
	w.ExternalRef = externalRef
	w.UpdatedAt = time.Now().UTC()

	return true, r.recordEvent(ctx, event)
}

// IncrementRetry implements Repository.
func (r *MemoryRepository) IncrementRetry(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.withdrawals[id]
	if !ok {
		return 0, ErrNotFound
	}

	w.RetryCount++
	w.UpdatedAt = time.Now().UTC()

	return w.RetryCount, nil
}

// ListByStatus implements Repository, ordered by UpdatedAt.
func (r *MemoryRepository) ListByStatus(_ context.Context, status Status, limit int) ([]*Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Withdrawal

	for _, w := range r.withdrawals {
		if w.Status == status {
			clone := *w
			out = append(out, &clone)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *MemoryRepository) recordEvent(ctx context.Context, event *outbox.Event) error {
	if event == nil || r.outbox == nil {
		return nil
	}

	return r.outbox.Create(ctx, event)
}
