// Package postgres persists outbox events and consumer receipts in
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantaflow/paycore/outbox"
	libPostgres "github.com/quantaflow/paycore/postgres"
)

const eventColumns = "id, event_type, aggregate_type, aggregate_id, payload, status, attempts, published_at, last_error, created_at, updated_at"

// ErrEventNotFound is returned when a state update matches no row.
var ErrEventNotFound = errors.New("outbox event not found")

// Repository is the SQL implementation of outbox.Repository.
type Repository struct {
	client *libPostgres.Client
}

var _ outbox.Repository = (*Repository)(nil)

// NewRepository creates a SQL outbox repository.
func NewRepository(client *libPostgres.Client) (*Repository, error) {
	if client == nil {
		return nil, libPostgres.ErrNotConnected
	}

	return &Repository{client: client}, nil
}

// Create implements outbox.Repository.
func (r *Repository) Create(ctx context.Context, event *outbox.Event) error {
	if event == nil {
		return outbox.ErrEventRequired
	}

	db, err := r.client.Primary()
	if err != nil {
		return err
	}

	return insertEvent(ctx, db, event)
}

// CreateWithTx implements outbox.Repository: the event commits or rolls
// back with the caller's state change.
func (r *Repository) CreateWithTx(ctx context.Context, tx outbox.Tx, event *outbox.Event) error {
	if event == nil {
		return outbox.ErrEventRequired
	}

	if tx == nil {
		return fmt.Errorf("create with tx: %w", libPostgres.ErrNotConnected)
	}

	return insertEvent(ctx, tx, event)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event *outbox.Event) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO outbox_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, event.EventType, event.AggregateType, event.AggregateID,
		event.Payload, string(event.Status), event.Attempts,
		event.PublishedAt, event.LastError, event.CreatedAt, event.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// ClaimPending implements outbox.Repository: pending plus retryable failed
// events (and stale PROCESSING claims) move to PROCESSING and come back in
// creation order per aggregate. SKIP LOCKED keeps concurrent relays from
// claiming the same rows.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	db, err := r.client.Primary()
	if err != nil {
		return nil, err
	}

	staleBefore := time.Now().UTC().Add(-outbox.ClaimStaleAfter)

	rows, err := db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE outbox_events
			SET status = $1, updated_at = $2
			WHERE id IN (
				SELECT id
				FROM outbox_events
				WHERE status IN ($3, $4)
				   OR (status = $1 AND updated_at < $5)
				ORDER BY aggregate_id, created_at, id
				LIMIT $6
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+eventColumns+`
		)
		SELECT `+eventColumns+`
		FROM claimed
		ORDER BY aggregate_id, created_at, id`,
		string(outbox.StatusProcessing), time.Now().UTC(),
		string(outbox.StatusPending), string(outbox.StatusFailed),
		staleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var events []*outbox.Event

	for rows.Next() {
		var (
			event  outbox.Event
			status string
		)

		if err := rows.Scan(
			&event.ID, &event.EventType, &event.AggregateType, &event.AggregateID,
			&event.Payload, &status, &event.Attempts,
			&event.PublishedAt, &event.LastError, &event.CreatedAt, &event.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}

		event.Status = outbox.Status(status)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}

	return events, nil
}

// MarkPublished implements outbox.Repository.
func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	db, err := r.client.Primary()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, published_at = $3, updated_at = $4
		WHERE id = $1 AND status <> $2`,
		id, string(outbox.StatusPublished), publishedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark published rows: %w", err)
	}

	if rows == 0 {
		return ErrEventNotFound
	}

	return nil
}

// MarkFailed implements outbox.Repository. The event stays retryable; the
// attempts column surfaces exhaustion to operators.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, _ int) error {
	db, err := r.client.Primary()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = $4
		WHERE id = $1 AND status <> $5`,
		id, string(outbox.StatusFailed), errMsg, time.Now().UTC(),
		string(outbox.StatusPublished),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed rows: %w", err)
	}

	if rows == 0 {
		return ErrEventNotFound
	}

	return nil
}
