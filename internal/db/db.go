package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer runs a statement. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the delivery service writes to.
const Schema = `
CREATE SCHEMA IF NOT EXISTS grpc_deliver;
CREATE TABLE IF NOT EXISTS grpc_deliver.messages (
	receipt_id     UUID PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	rfc822         BYTEA NOT NULL,
	size_bytes     INTEGER NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_transaction_id ON grpc_deliver.messages (transaction_id);
`

// Connect establishes a connection pool to the database and returns the pool
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	// Parse config from DSN
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Ping the database to verify connection
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema applies Schema. It is safe to run on every start.
func EnsureSchema(ctx context.Context, db Execer) error {
	_, err := db.Exec(ctx, Schema)
	return err
}
