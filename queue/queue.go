// Package queue defines the asynchronous job dispatch contract: at-least-once
// delivery with deterministic job identities so repeated enqueues of the same
// logical work collapse into a single business effect.
package queue

import (
	"context"
	"errors"
	"strings"

	"github.com/quantaflow/paycore/backoff"
)

var (
	// ErrDuplicateJob is returned by Enqueue when the job ID has been seen
	// before. Callers treat it as a successful no-op.
	ErrDuplicateJob = errors.New("duplicate job id")
	// ErrJobTypeRequired is returned for an empty job type.
	ErrJobTypeRequired = errors.New("job type is required")
	// ErrJobIDRequired is returned for an empty job id.
	ErrJobIDRequired = errors.New("job id is required")
	// ErrHandlerRequired is returned when Consume is given a nil handler.
	ErrHandlerRequired = errors.New("job handler is required")
	// ErrHandlerAlreadyRegistered is returned when a job type already has
	// a consumer.
	ErrHandlerAlreadyRegistered = errors.New("job handler already registered")
	// ErrQueueClosed is returned when enqueuing into a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler processes one job payload. Returning an error triggers a retry
// until the job's attempt budget is exhausted.
type Handler func(ctx context.Context, payload []byte) error

// Job is one unit of asynchronous work.
type Job struct {
	// Type routes the job to its registered handler.
	Type string

	// ID is the deterministic identity of the work. Enqueuing the same ID
	// twice is a no-op, which is what makes snapshot replay safe.
	ID string

	Payload     []byte
	MaxAttempts int
	Backoff     backoff.Policy
}

// Validate checks the job's required fields.
func (job Job) Validate() error {
	if strings.TrimSpace(job.Type) == "" {
		return ErrJobTypeRequired
	}

	if strings.TrimSpace(job.ID) == "" {
		return ErrJobIDRequired
	}

	return nil
}

// Queue hands validated work to asynchronous workers.
type Queue interface {
	// Enqueue submits a job. A job whose ID was already submitted returns
	// ErrDuplicateJob without queueing anything.
	Enqueue(ctx context.Context, job Job) error

	// Consume registers the handler for a job type. Delivery is
	// at-least-once; handlers must be idempotent.
	Consume(jobType string, handler Handler) error
}

// IsDuplicate reports whether err is the idempotent-replay outcome.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateJob)
}
