// Package postgres persists withdrawals in PostgreSQL. Status transitions
// are conditional updates, and outbox events passed alongside a transition
// are inserted in the same transaction so the notification cannot outlive a
// rolled-back state change.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantaflow/paycore/outbox"
	libPostgres "github.com/quantaflow/paycore/postgres"
	"github.com/quantaflow/paycore/withdrawal"
)

const withdrawalColumns = "id, user_id, asset_id, amount, destination, status, retry_count, external_ref, created_at, updated_at"

// Repository is the SQL implementation of withdrawal.Repository.
type Repository struct {
	client *libPostgres.Client
	outbox outbox.Repository
}

var _ withdrawal.Repository = (*Repository)(nil)

// NewRepository creates a SQL withdrawal repository. The outbox repository
// may be nil when no events are recorded.
func NewRepository(client *libPostgres.Client, outboxRepo outbox.Repository) (*Repository, error) {
	if client == nil {
		return nil, libPostgres.ErrNotConnected
	}

	return &Repository{client: client, outbox: outboxRepo}, nil
}

// Create implements withdrawal.Repository.
func (r *Repository) Create(ctx context.Context, w *withdrawal.Withdrawal) error {
	db, err := r.client.Primary()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.AssetID, w.Amount.String(), w.Destination,
		string(w.Status), w.RetryCount, w.ExternalRef, w.CreatedAt, w.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}

	return nil
}

// FindByID implements withdrawal.Repository.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*withdrawal.Withdrawal, error) {
	db, err := r.client.DB()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE id = $1`, id)

	w, err := scanWithdrawal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withdrawal.ErrNotFound
		}

		return nil, fmt.Errorf("find withdrawal: %w", err)
	}

	return w, nil
}

// UpdateStatusFrom implements withdrawal.Repository.
func (r *Repository) UpdateStatusFrom(
	ctx context.Context,
	id uuid.UUID,
	from, to withdrawal.Status,
	event *outbox.Event,
) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, withdrawal.ErrStatusInvalid
	}

	return r.transition(ctx, event, `
		UPDATE withdrawals
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), time.Now().UTC())
}

// MarkDispatched implements withdrawal.Repository.
func (r *Repository) MarkDispatched(
	ctx context.Context,
	id uuid.UUID,
	externalRef string,
	event *outbox.Event,
) (bool, error) {
	return r.transition(ctx, event, `
		UPDATE withdrawals
		SET status = $3, external_ref = $4, updated_at = $5
		WHERE id = $1 AND status = $2`,
		id, string(withdrawal.StatusProcessing),
		string(withdrawal.StatusAwaitingConfirmation), externalRef, time.Now().UTC())
}

// transition runs a conditional update and, when the CAS applies and an
// event is present, inserts the outbox event in the same transaction.
func (r *Repository) transition(ctx context.Context, event *outbox.Event, query string, args ...any) (bool, error) {
	db, err := r.client.Primary()
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update withdrawal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update withdrawal rows: %w", err)
	}

	if rows == 0 {
		return false, nil
	}

	if event != nil && r.outbox != nil {
		if err := r.outbox.CreateWithTx(ctx, tx, event); err != nil {
			return false, fmt.Errorf("record outbox event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}

	return true, nil
}

// IncrementRetry implements withdrawal.Repository.
func (r *Repository) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	db, err := r.client.Primary()
	if err != nil {
		return 0, err
	}

	var retries int

	err = db.QueryRowContext(ctx, `
		UPDATE withdrawals
		SET retry_count = retry_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING retry_count`,
		id, time.Now().UTC(),
	).Scan(&retries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, withdrawal.ErrNotFound
		}

		return 0, fmt.Errorf("increment retry: %w", err)
	}

	return retries, nil
}

// ListByStatus implements withdrawal.Repository.
func (r *Repository) ListByStatus(
	ctx context.Context,
	status withdrawal.Status,
	limit int,
) ([]*withdrawal.Withdrawal, error) {
	db, err := r.client.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []*withdrawal.Withdrawal

	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}

		out = append(out, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (*withdrawal.Withdrawal, error) {
	var (
		w      withdrawal.Withdrawal
		amount string
		status string
	)

	if err := row.Scan(
		&w.ID, &w.UserID, &w.AssetID, &amount, &w.Destination,
		&status, &w.RetryCount, &w.ExternalRef, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	w.Amount = parsedAmount

	parsedStatus, err := withdrawal.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored withdrawal status: %w", err)
	}

	w.Status = parsedStatus

	return &w, nil
}
