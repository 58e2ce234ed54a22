package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config configures the connection to the metadata store's Postgres
// backend. Single-writer discipline is enforced at the application level
// in Store (see store.go), not by this connection pool: Postgres's own WAL
// already gives the durability the original SQLite "PRAGMA journal_mode=WAL"
// setup was after.
type Config struct {
	Name        string
	Environment string
	DSN         string `env:"STORE_DSN,required"`
	Metrics     *prometheus.Registry
}

func (cfg Config) validate() error {
	var errs []error
	if cfg.Name == "" {
		errs = append(errs, fmt.Errorf("store: Name is required"))
	}
	if cfg.Environment == "" {
		errs = append(errs, fmt.Errorf("store: Environment is required"))
	}
	if cfg.DSN == "" {
		errs = append(errs, fmt.Errorf("store: DSN is required"))
	}
	return errors.Join(errs...)
}

// Connection wraps a pgxpool.Pool behind the narrow db interface Store
// depends on, the same split the teacher's internal/db/connection.go uses
// to keep Store testable against a fake.
type Connection struct {
	name        string
	environment string
	pool        *pgxpool.Pool
}

// NewConnection opens (lazily, pgxpool dials on first use) a pool against
// cfg.DSN.
func NewConnection(cfg Config) (*Connection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create connection pool: %w", err)
	}

	return &Connection{name: cfg.Name, environment: cfg.Environment, pool: pool}, nil
}

// Start pings the pool so startup fails fast on a bad DSN, skipped in tests.
func (c *Connection) Start() error {
	if c.environment == "test" {
		return nil
	}
	if err := c.pool.Ping(context.Background()); err != nil {
		zap.L().Error("store connection failed", zap.String("name", c.name), zap.Error(err))
		return err
	}
	zap.L().Info("store connection established", zap.String("name", c.name))
	return nil
}

// Stop closes the pool.
func (c *Connection) Stop() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.pool.Query(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.pool.Exec(ctx, sql, args...)
}

func (c *Connection) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return c.pool.BeginTx(ctx, opts)
}
