// Package postgres persists ledger entries and balances in PostgreSQL.
// The entry insert and the balance update run inside one transaction; the
// unique index on idempotency_key is what makes replays no-ops.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantaflow/paycore/ledger"
	libPostgres "github.com/quantaflow/paycore/postgres"
)

const entryColumns = "id, user_id, asset_id, direction, amount, ref_type, ref_id, idempotency_key, created_at"

// Repository is the SQL implementation of ledger.Repository.
type Repository struct {
	client *libPostgres.Client
}

var _ ledger.Repository = (*Repository)(nil)

// NewRepository creates a SQL ledger repository.
func NewRepository(client *libPostgres.Client) (*Repository, error) {
	if client == nil {
		return nil, libPostgres.ErrNotConnected
	}

	return &Repository{client: client}, nil
}

// Apply implements ledger.Repository.
func (r *Repository) Apply(ctx context.Context, entry *ledger.Entry) (*ledger.Result, error) {
	db, err := r.client.Primary()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin apply: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	result, err := r.applyInTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit apply: %w", err)
	}

	return result, nil
}

func (r *Repository) applyInTx(ctx context.Context, tx *sql.Tx, entry *ledger.Entry) (*ledger.Result, error) {
	inserted, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		entry.ID, entry.UserID, entry.AssetID, string(entry.Direction),
		entry.Amount.String(), entry.RefType, entry.RefID,
		entry.IdempotencyKey, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	rows, err := inserted.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert entry rows: %w", err)
	}

	if rows == 0 {
		prior, err := r.findByKeyTx(ctx, tx, entry.IdempotencyKey)
		if err != nil {
			return nil, err
		}

		return &ledger.Result{Entry: prior, Replayed: true}, nil
	}

	signed := entry.Signed()

	if entry.Direction == ledger.DirectionDebit {
		// The balance decrement carries the sufficiency check: zero rows
		// affected means the available balance cannot cover the debit.
		updated, err := tx.ExecContext(ctx, `
			UPDATE balances
			SET available = available + $3, total = total + $3, updated_at = $4
			WHERE user_id = $1 AND asset_id = $2 AND available >= $5`,
			entry.UserID, entry.AssetID, signed.String(), time.Now().UTC(), entry.Amount.String(),
		)
		if err != nil {
			return nil, fmt.Errorf("debit balance: %w", err)
		}

		rows, err := updated.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("debit balance rows: %w", err)
		}

		if rows == 0 {
			return nil, ledger.ErrInsufficientBalance
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (user_id, asset_id, available, locked, total, updated_at)
			VALUES ($1, $2, $3, 0, $3, $4)
			ON CONFLICT (user_id, asset_id) DO UPDATE
			SET available = balances.available + EXCLUDED.available,
			    total = balances.total + EXCLUDED.total,
			    updated_at = EXCLUDED.updated_at`,
			entry.UserID, entry.AssetID, signed.String(), time.Now().UTC(),
		); err != nil {
			return nil, fmt.Errorf("credit balance: %w", err)
		}
	}

	stored := *entry

	return &ledger.Result{Entry: &stored, Replayed: false}, nil
}

func (r *Repository) findByKeyTx(ctx context.Context, tx *sql.Tx, key string) (*ledger.Entry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE idempotency_key = $1`, key)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrEntryNotFound
		}

		return nil, fmt.Errorf("find entry by key: %w", err)
	}

	return entry, nil
}

// GetBalance implements ledger.Repository.
func (r *Repository) GetBalance(ctx context.Context, userID, assetID string) (*ledger.Balance, error) {
	db, err := r.client.DB()
	if err != nil {
		return nil, err
	}

	var (
		balance                  ledger.Balance
		available, locked, total string
	)

	err = db.QueryRowContext(ctx, `
		SELECT user_id, asset_id, available, locked, total, updated_at
		FROM balances
		WHERE user_id = $1 AND asset_id = $2`,
		userID, assetID,
	).Scan(&balance.UserID, &balance.AssetID, &available, &locked, &total, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrBalanceNotFound
		}

		return nil, fmt.Errorf("get balance: %w", err)
	}

	if balance.Available, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("parse available: %w", err)
	}

	if balance.Locked, err = decimal.NewFromString(locked); err != nil {
		return nil, fmt.Errorf("parse locked: %w", err)
	}

	if balance.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}

	return &balance, nil
}

// ListEntries implements ledger.Repository.
func (r *Repository) ListEntries(ctx context.Context, userID, assetID string) ([]*ledger.Entry, error) {
	db, err := r.client.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE user_id = $1 AND asset_id = $2
		ORDER BY created_at, id`,
		userID, assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var entries []*ledger.Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return entries, nil
}

// ReplaceBalance implements ledger.Repository.
func (r *Repository) ReplaceBalance(ctx context.Context, balance *ledger.Balance) error {
	db, err := r.client.Primary()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO balances (user_id, asset_id, available, locked, total, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, asset_id) DO UPDATE
		SET available = EXCLUDED.available,
		    locked = EXCLUDED.locked,
		    total = EXCLUDED.total,
		    updated_at = EXCLUDED.updated_at`,
		balance.UserID, balance.AssetID,
		balance.Available.String(), balance.Locked.String(), balance.Total.String(),
		balance.UpdatedAt,
	); err != nil {
		return fmt.Errorf("replace balance: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var (
		entry     ledger.Entry
		direction string
		amount    string
	)

	if err := row.Scan(
		&entry.ID, &entry.UserID, &entry.AssetID, &direction, &amount,
		&entry.RefType, &entry.RefID, &entry.IdempotencyKey, &entry.CreatedAt,
	); err != nil {
		return nil, err
	}

	entry.Direction = ledger.Direction(direction)

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	entry.Amount = parsed

	return &entry, nil
}
