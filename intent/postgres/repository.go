// Package postgres persists order intents in PostgreSQL. The conditional
// status update (`WHERE status = expected`) is what keeps the state machine
// correct under concurrent snapshot workers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quantaflow/paycore/intent"
	libPostgres "github.com/quantaflow/paycore/postgres"
)

const intentColumns = "order_id, pair_id, user_id, status, created_at, updated_at, expires_at"

// Repository is the SQL implementation of intent.Repository.
type Repository struct {
	client *libPostgres.Client
}

var _ intent.Repository = (*Repository)(nil)

// NewRepository creates a SQL intent repository.
func NewRepository(client *libPostgres.Client) (*Repository, error) {
	if client == nil {
		return nil, libPostgres.ErrNotConnected
	}

	return &Repository{client: client}, nil
}

// Create implements intent.Repository.
func (r *Repository) Create(ctx context.Context, it *intent.Intent) error {
	db, err := r.client.Primary()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO order_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING`,
		it.OrderID, it.PairID, it.UserID, string(it.Status),
		it.CreatedAt, it.UpdatedAt, it.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert intent rows: %w", err)
	}

	if rows == 0 {
		return intent.ErrOrderIDTaken
	}

	return nil
}

// FindByOrderID implements intent.Repository.
func (r *Repository) FindByOrderID(ctx context.Context, orderID string) (*intent.Intent, error) {
	db, err := r.client.DB()
	if err != nil {
		return nil, err
	}

	var (
		it     intent.Intent
		status string
	)

	err = db.QueryRowContext(ctx, `
		SELECT `+intentColumns+`
		FROM order_intents
		WHERE order_id = $1`, orderID,
	).Scan(&it.OrderID, &it.PairID, &it.UserID, &status, &it.CreatedAt, &it.UpdatedAt, &it.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, intent.ErrIntentNotFound
		}

		return nil, fmt.Errorf("find intent: %w", err)
	}

	parsed, err := intent.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored intent status: %w", err)
	}

	it.Status = parsed

	return &it, nil
}

// UpdateStatusFrom implements intent.Repository.
func (r *Repository) UpdateStatusFrom(ctx context.Context, orderID string, from, to intent.Status) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, intent.ErrStatusInvalid
	}

	db, err := r.client.Primary()
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE order_intents
		SET status = $3, updated_at = $4
		WHERE order_id = $1 AND status = $2`,
		orderID, string(from), string(to), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("update intent status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update intent status rows: %w", err)
	}

	return rows > 0, nil
}
