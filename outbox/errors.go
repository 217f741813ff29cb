package outbox

import "errors"

var (
	ErrEventRequired          = errors.New("outbox event is required")
	ErrEventTypeRequired      = errors.New("outbox event type is required")
	ErrAggregateIDRequired    = errors.New("outbox aggregate id is required")
	ErrPayloadRequired        = errors.New("outbox event payload is required")
	ErrPayloadNotJSON         = errors.New("outbox event payload must be valid JSON")
	ErrPayloadTooLarge        = errors.New("outbox event payload exceeds maximum allowed size")
	ErrRepositoryRequired     = errors.New("outbox repository is required")
	ErrPublisherRequired      = errors.New("outbox publisher is required")
	ErrRelayRunning           = errors.New("outbox relay is already running")
	ErrStatusInvalid          = errors.New("invalid outbox status")
	ErrTransitionInvalid      = errors.New("invalid outbox status transition")
	ErrConsumerNameRequired   = errors.New("consumer name is required")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
)
