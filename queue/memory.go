package queue

import (
	"context"
	"sync"

	"github.com/quantaflow/paycore/backoff"
	"github.com/quantaflow/paycore/log"
)

const (
	defaultBuffer      = 256
	defaultMaxAttempts = 5
)

// Memory is an in-process Queue backed by a channel worker pool. It gives
// the same contract as a durable broker minus durability, which makes it
// the reference implementation for tests and single-process deployments.
type Memory struct {
	logger log.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	handlers map[string]Handler
	legacy   map[string]struct{}
	dead     []Job
	closed   bool

	jobs   chan Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an in-process queue with the given buffer size.
func NewMemory(buffer int, logger log.Logger) *Memory {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &Memory{
		logger:   logger,
		seen:     make(map[string]struct{}),
		handlers: make(map[string]Handler),
		legacy:   make(map[string]struct{}),
		jobs:     make(chan Job, buffer),
	}
}

// Enqueue implements Queue. Duplicate job IDs return ErrDuplicateJob.
func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return ErrQueueClosed
	}

	if _, dup := m.seen[job.ID]; dup {
		m.mu.Unlock()

		return ErrDuplicateJob
	}

	m.seen[job.ID] = struct{}{}
	m.mu.Unlock()

	select {
	case m.jobs <- job:
		return nil
	case <-ctx.Done():
		// Roll back the dedup mark so a retried enqueue is not refused.
		m.mu.Lock()
		delete(m.seen, job.ID)
		m.mu.Unlock()

		return ctx.Err()
	}
}

// Consume implements Queue.
func (m *Memory) Consume(jobType string, handler Handler) error {
	if jobType == "" {
		return ErrJobTypeRequired
	}

	if handler == nil {
		return ErrHandlerRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handlers[jobType]; exists {
		return ErrHandlerAlreadyRegistered
	}

	m.handlers[jobType] = handler

	return nil
}

// RegisterLegacyType marks a retired job kind. Jobs of a legacy kind that
// surface without a handler are logged at debug instead of error: they are
// expected leftovers of in-flight work enqueued under an old name.
func (m *Memory) RegisterLegacyType(jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.legacy[jobType] = struct{}{}
}

// Start launches the worker pool.
func (m *Memory) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i := 0; i < workers; i++ {
		m.wg.Add(1)

		go m.worker(ctx)
	}
}

// Shutdown stops intake and waits for in-flight jobs to finish.
func (m *Memory) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeadJobs returns jobs that exhausted their attempt budget. They are
// retained, never purged: money-moving work is replayed manually, not
// silently discarded.
func (m *Memory) DeadJobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, len(m.dead))
	copy(out, m.dead)

	return out
}

func (m *Memory) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			m.run(ctx, job)
		}
	}
}

func (m *Memory) run(ctx context.Context, job Job) {
	m.mu.Lock()
	handler, ok := m.handlers[job.Type]
	_, isLegacy := m.legacy[job.Type]
	m.mu.Unlock()

	if !ok {
		if isLegacy {
			m.logger.Log(ctx, log.LevelDebug, "dropping job of retired kind",
				log.String("job_type", job.Type),
				log.String("job_id", job.ID))

			return
		}

		m.logger.Log(ctx, log.LevelError, "no handler registered for job type",
			log.String("job_type", job.Type),
			log.String("job_id", job.ID))
		m.retain(job)

		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	policy := job.Backoff
	if policy.Base <= 0 {
		policy = backoff.DefaultPolicy
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.SleepWithContext(ctx, policy.Delay(attempt-1)); err != nil {
				m.retain(job)

				return
			}
		}

		lastErr = handler(ctx, job.Payload)
		if lastErr == nil {
			return
		}

		m.logger.Log(ctx, log.LevelWarn, "job attempt failed",
			log.String("job_type", job.Type),
			log.String("job_id", job.ID),
			log.Int("attempt", attempt+1),
			log.Err(lastErr))
	}

	m.logger.Log(ctx, log.LevelError, "job exhausted attempts; retained for manual replay",
		log.String("job_type", job.Type),
		log.String("job_id", job.ID),
		log.Int("max_attempts", maxAttempts),
		log.Err(lastErr))
	m.retain(job)
}

func (m *Memory) retain(job Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dead = append(m.dead, job)
}
