// Package postgres bootstraps the relational store that is the single
// source of truth for intents, ledger entries, balances, outbox events,
// consumer receipts and withdrawals.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quantaflow/paycore/log"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// ErrNotConnected is returned when DB is called before Connect.
var ErrNotConnected = errors.New("postgres client is not connected")

// Client keeps a singleton primary/replica connection with postgres.
type Client struct {
	ConnectionStringPrimary string
	ConnectionStringReplica string
	MigrationsPath          string
	Logger                  log.Logger
	MaxOpenConnections      int
	MaxIdleConnections      int

	mu        sync.RWMutex
	primary   *sql.DB
	resolver  dbresolver.DB
	connected bool
}

func (c *Client) initDefaults() {
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}

	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = defaultMaxOpenConns
	}

	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = defaultMaxIdleConns
	}
}

// Connect opens the primary (and optional replica) connections, applies
// pending migrations and verifies connectivity.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initDefaults()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	primary, err := sql.Open("pgx", c.ConnectionStringPrimary)
	if err != nil {
		return fmt.Errorf("open primary database: %w", err)
	}

	replicaDSN := c.ConnectionStringReplica
	if replicaDSN == "" {
		replicaDSN = c.ConnectionStringPrimary
	}

	replica, err := sql.Open("pgx", replicaDSN)
	if err != nil {
		_ = primary.Close()

		return fmt.Errorf("open replica database: %w", err)
	}

	for _, db := range []*sql.DB{primary, replica} {
		db.SetMaxOpenConns(c.MaxOpenConnections)
		db.SetMaxIdleConns(c.MaxIdleConnections)
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
		db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	}

	if err := primary.PingContext(ctx); err != nil {
		_ = primary.Close()
		_ = replica.Close()

		return fmt.Errorf("ping primary database: %w", err)
	}

	if c.MigrationsPath != "" {
		if err := c.runMigrations(primary); err != nil {
			_ = primary.Close()
			_ = replica.Close()

			return err
		}
	}

	c.resolver = dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)
	c.primary = primary
	c.connected = true

	c.Logger.Log(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (c *Client) runMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	migration, err := migrate.NewWithDatabaseInstance("file://"+c.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// DB returns the primary/replica resolver for queries.
func (c *Client) DB() (dbresolver.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	return c.resolver, nil
}

// Primary returns the primary *sql.DB for transactional writes.
func (c *Client) Primary() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	return c.primary, nil
}

// Close releases both connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	c.connected = false

	if c.resolver != nil {
		return c.resolver.Close()
	}

	return nil
}
