package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/quantaflow/paycore/backoff"
	"github.com/quantaflow/paycore/log"
	"github.com/quantaflow/paycore/outbox"
)

// AMQP channel errors.
var (
	ErrAMQPChannelRequired  = errors.New("amqp channel is required")
	ErrReceiptStoreRequired = errors.New("receipt store is required")
)

const (
	amqpConfirmTimeout = 5 * time.Second
	deadQueueSuffix    = ".dead"
	defaultPrefetch    = 4
)

// AMQP is a Queue backed by RabbitMQ. The broker gives at-least-once
// delivery; at-most-once business effect comes from consumer receipts
// keyed by the deterministic job id, since a broker cannot deduplicate
// publishes on its own. Jobs that exhaust their attempt budget are moved
// to a `<type>.dead` queue and retained for manual replay.
type AMQP struct {
	channel  *amqp.Channel
	receipts outbox.ReceiptStore
	logger   log.Logger
	prefetch int

	mu       sync.Mutex
	declared map[string]bool
}

var _ Queue = (*AMQP)(nil)

// AMQPOption configures an AMQP queue.
type AMQPOption func(*AMQP)

// WithPrefetch caps unacked deliveries per consumer, bounding how many jobs
// one process works on at a time.
func WithPrefetch(count int) AMQPOption {
	return func(q *AMQP) {
		if count > 0 {
			q.prefetch = count
		}
	}
}

// NewAMQP wraps an AMQP channel in the Queue contract, switching it into
// confirm mode so Enqueue returns only after the broker acks.
func NewAMQP(channel *amqp.Channel, receipts outbox.ReceiptStore, logger log.Logger, opts ...AMQPOption) (*AMQP, error) {
	if channel == nil {
		return nil, ErrAMQPChannelRequired
	}

	if receipts == nil {
		return nil, ErrReceiptStoreRequired
	}

	if logger == nil {
		logger = log.NewNop()
	}

	if err := channel.Confirm(false); err != nil {
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}

	q := &AMQP{
		channel:  channel,
		receipts: receipts,
		logger:   logger,
		prefetch: defaultPrefetch,
		declared: make(map[string]bool),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}

	if err := channel.Qos(q.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("amqp qos: %w", err)
	}

	return q, nil
}

func (q *AMQP) declareQueue(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.declared[name] {
		return nil
	}

	if _, err := q.channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}

	q.declared[name] = true

	return nil
}

// Enqueue implements Queue. Duplicate suppression happens at consume time
// through the receipt store, so a re-published job id is delivered but
// never applied twice.
func (q *AMQP) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if err := q.declareQueue(job.Type); err != nil {
		return err
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	confirmation, err := q.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",
		job.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Timestamp:    time.Now().UTC(),
			Headers: amqp.Table{
				"x-max-attempts": int32(maxAttempts),
				"x-backoff-base": job.Backoff.Base.Milliseconds(),
			},
			Body: job.Payload,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp publish job: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, amqpConfirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(confirmCtx)
	if err != nil {
		return fmt.Errorf("amqp confirm job: %w", err)
	}

	if !acked {
		return fmt.Errorf("amqp job nacked: %s", job.ID)
	}

	return nil
}

// Consume implements Queue.
func (q *AMQP) Consume(jobType string, handler Handler) error {
	if jobType == "" {
		return ErrJobTypeRequired
	}

	if handler == nil {
		return ErrHandlerRequired
	}

	if err := q.declareQueue(jobType); err != nil {
		return err
	}

	if err := q.declareQueue(jobType + deadQueueSuffix); err != nil {
		return err
	}

	deliveries, err := q.channel.Consume(jobType, "paycore."+jobType, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", jobType, err)
	}

	go q.consumeLoop(jobType, handler, deliveries)

	return nil
}

func (q *AMQP) consumeLoop(jobType string, handler Handler, deliveries <-chan amqp.Delivery) {
	ctx := context.Background()

	for delivery := range deliveries {
		q.handleDelivery(ctx, jobType, handler, delivery)
	}
}

func (q *AMQP) handleDelivery(ctx context.Context, jobType string, handler Handler, delivery amqp.Delivery) {
	applied, err := q.receipts.Record(ctx, "queue:"+jobType, delivery.MessageId)
	if err != nil {
		q.logger.Log(ctx, log.LevelError, "receipt check failed; requeueing",
			log.String("job_type", jobType),
			log.String("job_id", delivery.MessageId),
			log.Err(err))
		_ = delivery.Nack(false, true)

		return
	}

	if !applied {
		// Redelivery of an already-applied job: the no-op path.
		q.logger.Log(ctx, log.LevelDebug, "skipping already-applied job",
			log.String("job_type", jobType),
			log.String("job_id", delivery.MessageId))
		_ = delivery.Ack(false)

		return
	}

	maxAttempts := defaultMaxAttempts
	if raw, ok := delivery.Headers["x-max-attempts"].(int32); ok && raw > 0 {
		maxAttempts = int(raw)
	}

	policy := backoff.DefaultPolicy
	if raw, ok := delivery.Headers["x-backoff-base"].(int64); ok && raw > 0 {
		policy.Base = time.Duration(raw) * time.Millisecond
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.SleepWithContext(ctx, policy.Delay(attempt-1)); err != nil {
				break
			}
		}

		lastErr = handler(ctx, delivery.Body)
		if lastErr == nil {
			_ = delivery.Ack(false)

			return
		}

		q.logger.Log(ctx, log.LevelWarn, "job attempt failed",
			log.String("job_type", jobType),
			log.String("job_id", delivery.MessageId),
			log.Int("attempt", attempt+1),
			log.Err(lastErr))
	}

	q.retainDead(ctx, jobType, delivery, lastErr)
}

// retainDead parks an exhausted job on the dead queue so it survives for
// manual replay, then acks the original delivery.
func (q *AMQP) retainDead(ctx context.Context, jobType string, delivery amqp.Delivery, cause error) {
	q.logger.Log(ctx, log.LevelError, "job exhausted attempts; parked on dead queue",
		log.String("job_type", jobType),
		log.String("job_id", delivery.MessageId),
		log.Err(cause))

	err := q.channel.PublishWithContext(
		ctx,
		"",
		jobType+deadQueueSuffix,
		false,
		false,
		amqp.Publishing{
			ContentType:  delivery.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    delivery.MessageId,
			Timestamp:    time.Now().UTC(),
			Headers:      delivery.Headers,
			Body:         delivery.Body,
		},
	)
	if err != nil {
		// Keep the message on the source queue rather than lose it.
		q.logger.Log(ctx, log.LevelError, "dead queue publish failed; requeueing original",
			log.String("job_id", delivery.MessageId),
			log.Err(err))
		_ = delivery.Nack(false, true)

		return
	}

	_ = delivery.Ack(false)
}
