package intent

import (
	"context"
	"sync"
	"time"
)

// Repository is the persistence boundary for order intents.
//
// UpdateStatusFrom is the conditional check-then-set that keeps the state
// machine correct under concurrent workers: the update applies only when
// the stored status still equals the expected prior status.
type Repository interface {
	Create(ctx context.Context, it *Intent) error
	FindByOrderID(ctx context.Context, orderID string) (*Intent, error)
	UpdateStatusFrom(ctx context.Context, orderID string, from, to Status) (bool, error)
}

// MemoryRepository is an in-process Repository for tests and single-process
// deployments.
type MemoryRepository struct {
	mu      sync.Mutex
	intents map[string]*Intent
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory intent repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{intents: make(map[string]*Intent)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, it *Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.intents[it.OrderID]; exists {
		return ErrOrderIDTaken
	}

	clone := *it
	r.intents[it.OrderID] = &clone

	return nil
}

// FindByOrderID implements Repository.
func (r *MemoryRepository) FindByOrderID(_ context.Context, orderID string) (*Intent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.intents[orderID]
	if !ok {
		return nil, ErrIntentNotFound
	}

	clone := *it

	return &clone, nil
}

// UpdateStatusFrom implements Repository. It returns false without error
// when the stored status no longer matches `from` — the caller lost the
// race and should re-read.
func (r *MemoryRepository) UpdateStatusFrom(_ context.Context, orderID string, from, to Status) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, ErrStatusInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.intents[orderID]
	if !ok {
		return false, ErrIntentNotFound
	}

	if it.Status != from {
		return false, nil
	}

	it.Status = to
	it.UpdatedAt = time.Now().UTC()

	return true, nil
}
