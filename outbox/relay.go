package outbox

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/quantaflow/paycore/log"
)

const (
	defaultRelayInterval  = 2 * time.Second
	defaultRelayBatchSize = 100
	defaultRelayAttempts  = 10
)

// Relay moves pending outbox events to the message transport. Each cycle
// claims a batch into PROCESSING, publishes, then marks PUBLISHED or FAILED.
// Delivery is at-least-once: the event is published before it is marked
// PUBLISHED, so a crash between the two redelivers once the claim goes
// stale, and consumers must be idempotent (see ReceiptStore).
type Relay struct {
	repo      Repository
	publisher Publisher
	logger    log.Logger
	tracer    trace.Tracer

	interval    time.Duration
	batchSize   int
	maxAttempts int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RelayResult captures one relay cycle outcome.
type RelayResult struct {
	Processed int
	Published int
	Failed    int
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithInterval sets the polling interval.
func WithInterval(interval time.Duration) RelayOption {
	return func(relay *Relay) {
		if interval > 0 {
			relay.interval = interval
		}
	}
}

// WithBatchSize caps events fetched per cycle.
func WithBatchSize(size int) RelayOption {
	return func(relay *Relay) {
		if size > 0 {
			relay.batchSize = size
		}
	}
}

// WithMaxAttempts sets the attempt count reported to MarkFailed.
func WithMaxAttempts(attempts int) RelayOption {
	return func(relay *Relay) {
		if attempts > 0 {
			relay.maxAttempts = attempts
		}
	}
}

// WithTracer sets the tracer used for relay cycle spans.
func WithTracer(tracer trace.Tracer) RelayOption {
	return func(relay *Relay) {
		if tracer != nil {
			relay.tracer = tracer
		}
	}
}

// NewRelay creates an outbox relay.
func NewRelay(repo Repository, publisher Publisher, logger log.Logger, opts ...RelayOption) (*Relay, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}

	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	if logger == nil {
		logger = log.NewNop()
	}

	relay := &Relay{
		repo:        repo,
		publisher:   publisher,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("paycore.outbox"),
		interval:    defaultRelayInterval,
		batchSize:   defaultRelayBatchSize,
		maxAttempts: defaultRelayAttempts,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(relay)
		}
	}

	return relay, nil
}

// Start launches the relay loop. It returns ErrRelayRunning when already
// started.
func (relay *Relay) Start(ctx context.Context) error {
	relay.mu.Lock()

	if relay.running {
		relay.mu.Unlock()

		return ErrRelayRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	relay.running = true
	relay.cancel = cancel
	relay.mu.Unlock()

	relay.wg.Add(1)

	go relay.loop(ctx)

	return nil
}

// Stop signals the relay loop to stop.
func (relay *Relay) Stop() {
	relay.mu.Lock()
	defer relay.mu.Unlock()

	if relay.cancel != nil {
		relay.cancel()
	}

	relay.running = false
}

// Shutdown stops the relay and waits for the in-flight cycle to drain.
func (relay *Relay) Shutdown(ctx context.Context) error {
	relay.Stop()

	done := make(chan struct{})

	go func() {
		relay.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (relay *Relay) loop(ctx context.Context) {
	defer relay.wg.Done()

	ticker := time.NewTicker(relay.interval)
	defer ticker.Stop()

	relay.RelayOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			relay.RelayOnce(ctx)
		}
	}
}

// RelayOnce processes one relay cycle and returns counters. It is exported
// so tests and operators can drive the relay without the loop.
func (relay *Relay) RelayOnce(ctx context.Context) RelayResult {
	ctx, span := relay.tracer.Start(ctx, "outbox.relay_once")
	defer span.End()

	var result RelayResult

	events, err := relay.repo.ClaimPending(ctx, relay.batchSize)
	if err != nil {
		relay.logger.Log(ctx, log.LevelError, "outbox claim pending failed", log.Err(err))

		return result
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		if event == nil {
			continue
		}

		result.Processed++

		if err := relay.publisher.Publish(ctx, event.EventType, event.Payload); err != nil {
			result.Failed++

			relay.logger.Log(ctx, log.LevelWarn, "outbox publish failed",
				log.String("event_id", event.ID.String()),
				log.String("event_type", event.EventType),
				log.Int("attempts", event.Attempts+1),
				log.Err(err))

			if markErr := relay.repo.MarkFailed(ctx, event.ID, err.Error(), relay.maxAttempts); markErr != nil {
				relay.logger.Log(ctx, log.LevelError, "outbox mark failed errored",
					log.String("event_id", event.ID.String()),
					log.Err(markErr))
			}

			continue
		}

		result.Published++

		if err := relay.repo.MarkPublished(ctx, event.ID, time.Now().UTC()); err != nil {
			// Published to the broker but the PUBLISHED state did not
			// persist: the event will be republished and consumers must
			// dedupe via receipts.
			relay.logger.Log(ctx, log.LevelError, "outbox event published but state update failed",
				log.String("event_id", event.ID.String()),
				log.Err(err))
		}
	}

	return result
}
