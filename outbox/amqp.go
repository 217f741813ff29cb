package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP publisher errors.
var (
	ErrChannelRequired        = errors.New("amqp channel is required")
	ErrConfirmModeUnavailable = errors.New("amqp channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("broker confirmation timed out")
)

// DefaultConfirmTimeout bounds the wait for broker confirmation.
const DefaultConfirmTimeout = 5 * time.Second

// AMQPChannel is the subset of *amqp091.Channel the publisher needs.
type AMQPChannel interface {
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) (*amqp.DeferredConfirmation, error)
}

// AMQPPublisher publishes outbox events to a RabbitMQ exchange in confirm
// mode: Publish returns nil only after the broker acks the message, which is
// what lets the relay mark events PUBLISHED safely.
type AMQPPublisher struct {
	mu             sync.Mutex
	channel        AMQPChannel
	exchange       string
	confirmTimeout time.Duration
}

var _ Publisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher wraps an AMQP channel, switching it into confirm mode.
func NewAMQPPublisher(channel AMQPChannel, exchange string) (*AMQPPublisher, error) {
	if channel == nil {
		return nil, ErrChannelRequired
	}

	if err := channel.Confirm(false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	return &AMQPPublisher{
		channel:        channel,
		exchange:       exchange,
		confirmTimeout: DefaultConfirmTimeout,
	}, nil
}

// Publish implements Publisher. The event type is used as the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	acked, err := confirmation.WaitContext(confirmCtx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfirmTimeout, err)
	}

	if !acked {
		return ErrPublishNacked
	}

	return nil
}
