package withdrawal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantaflow/paycore/log"
	"github.com/quantaflow/paycore/outbox"
)

const (
	defaultConfirmInterval    = 30 * time.Second
	defaultMinConfirmations   = 6
	defaultMaxConfirmWait     = 24 * time.Hour
	defaultConfirmerBatchSize = 100
)

// StatusChecker reports how many confirmations an external transaction has
// accumulated.
type StatusChecker interface {
	Confirmations(ctx context.Context, externalRef string) (int, error)
}

// Confirmer periodically polls the external network for withdrawals in
// awaiting_confirmation and promotes them to completed, or force-fails them
// after the maximum wait window instead of polling indefinitely.
type Confirmer struct {
	repo             Repository
	checker          StatusChecker
	logger           log.Logger
	interval         time.Duration
	minConfirmations int
	maxWait          time.Duration
	batchSize        int
	now              func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ConfirmerOption configures a Confirmer.
type ConfirmerOption func(*Confirmer)

// WithConfirmInterval sets the polling interval.
func WithConfirmInterval(interval time.Duration) ConfirmerOption {
	return func(c *Confirmer) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithMinConfirmations sets the threshold for completion.
func WithMinConfirmations(n int) ConfirmerOption {
	return func(c *Confirmer) {
		if n > 0 {
			c.minConfirmations = n
		}
	}
}

// WithMaxWait bounds how long a withdrawal may stay unconfirmed.
func WithMaxWait(d time.Duration) ConfirmerOption {
	return func(c *Confirmer) {
		if d > 0 {
			c.maxWait = d
		}
	}
}

// WithConfirmerClock overrides the clock for testing.
func WithConfirmerClock(now func() time.Time) ConfirmerOption {
	return func(c *Confirmer) {
		if now != nil {
			c.now = now
		}
	}
}

// NewConfirmer creates a confirmation worker.
func NewConfirmer(repo Repository, checker StatusChecker, logger log.Logger, opts ...ConfirmerOption) *Confirmer {
	if logger == nil {
		logger = log.NewNop()
	}

	confirmer := &Confirmer{
		repo:             repo,
		checker:          checker,
		logger:           logger,
		interval:         defaultConfirmInterval,
		minConfirmations: defaultMinConfirmations,
		maxWait:          defaultMaxConfirmWait,
		batchSize:        defaultConfirmerBatchSize,
		now:              time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(confirmer)
		}
	}

	return confirmer
}

// Start launches the confirmation loop.
func (c *Confirmer) Start(ctx context.Context) error {
	c.mu.Lock()

	if c.running {
		c.mu.Unlock()

		return fmt.Errorf("confirmer: %w", ErrReschedule)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)

	go c.loop(ctx)

	return nil
}

// Stop signals the loop to stop.
func (c *Confirmer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
}

// Shutdown stops the confirmer and waits for the in-flight pass to drain.
func (c *Confirmer) Shutdown(ctx context.Context) error {
	c.Stop()

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Confirmer) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ConfirmOnce(ctx)
		}
	}
}

// ConfirmOnce runs one confirmation pass and returns how many withdrawals
// reached a terminal state.
func (c *Confirmer) ConfirmOnce(ctx context.Context) int {
	awaiting, err := c.repo.ListByStatus(ctx, StatusAwaitingConfirmation, c.batchSize)
	if err != nil {
		c.logger.Log(ctx, log.LevelError, "list awaiting withdrawals failed", log.Err(err))

		return 0
	}

	settled := 0

	for _, w := range awaiting {
		if ctx.Err() != nil {
			break
		}

		if c.confirmOne(ctx, w) {
			settled++
		}
	}

	return settled
}

func (c *Confirmer) confirmOne(ctx context.Context, w *Withdrawal) bool {
	// UpdatedAt was set by the processing->awaiting_confirmation CAS, so it
	// marks when the external transaction was dispatched.
	if c.now().Sub(w.UpdatedAt) > c.maxWait {
		return c.finish(ctx, w, StatusFailed, EventFailed, "confirmation wait window exceeded")
	}

	confirmations, err := c.checker.Confirmations(ctx, w.ExternalRef)
	if err != nil {
		c.logger.Log(ctx, log.LevelWarn, "confirmation check failed",
			log.String("withdrawal_id", w.ID.String()),
			log.String("external_ref", w.ExternalRef),
			log.Err(err))

		return false
	}

	if confirmations < c.minConfirmations {
		return false
	}

	return c.finish(ctx, w, StatusCompleted, EventCompleted,
		fmt.Sprintf("%d confirmations", confirmations))
}

func (c *Confirmer) finish(ctx context.Context, w *Withdrawal, to Status, eventType, detail string) bool {
	event, err := outbox.NewEvent(eventType, aggregateType, w.ID.String(),
		outbox.MustJSON(map[string]string{
			"withdrawal_id": w.ID.String(),
			"external_ref":  w.ExternalRef,
			"detail":        detail,
		}))
	if err != nil {
		c.logger.Log(ctx, log.LevelError, "build confirmation event failed",
			log.String("withdrawal_id", w.ID.String()),
			log.Err(err))

		return false
	}

	ok, err := c.repo.UpdateStatusFrom(ctx, w.ID, StatusAwaitingConfirmation, to, event)
	if err != nil {
		c.logger.Log(ctx, log.LevelError, "confirmation state update failed",
			log.String("withdrawal_id", w.ID.String()),
			log.Err(err))

		return false
	}

	if !ok {
		// A concurrent confirmer settled it first.
		return false
	}

	c.logger.Log(ctx, log.LevelInfo, "withdrawal settled",
		log.String("withdrawal_id", w.ID.String()),
		log.String("status", to.String()),
		log.String("detail", detail))

	return true
}
