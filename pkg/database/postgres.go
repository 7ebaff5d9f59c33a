package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Querier is the subset of pgx used by the duplicate index
type Querier interface {
	Execer
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SchemaStatements create the duplicate-detection side index. The spreadsheet
// stays the system of record; these tables only mirror its identity columns.
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS checkin_index (
		round      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		value      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (round, kind, value)
	)`,
	`CREATE TABLE IF NOT EXISTS checkin_index_state (
		round     TEXT PRIMARY KEY,
		warmed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// DropStatements remove the side index tables
var DropStatements = []string{
	`DROP TABLE IF EXISTS checkin_index_state`,
	`DROP TABLE IF EXISTS checkin_index`,
}

type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB creates a new PostgreSQL connection pool
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute
	config.ConnConfig.ConnectTimeout = time.Second * 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks the database connection
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// EnsureSchema creates the side index tables if they are missing
func EnsureSchema(ctx context.Context, db Execer) error {
	return execAll(ctx, db, SchemaStatements)
}

// DropSchema removes the side index tables
func DropSchema(ctx context.Context, db Execer) error {
	return execAll(ctx, db, DropStatements)
}

func execAll(ctx context.Context, db Execer, statements []string) error {
	for i, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
	}
	return nil
}
