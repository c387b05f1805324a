// Package storage provides the PostgreSQL persistence layer for driftwatch.
//
// It manages connection pooling via pgxpool, a simple forward-only migration
// runner, COPY-based batch ingestion for quality metrics, and query methods
// for the anomaly, trend, and summary tables. DB satisfies
// driftwatch.MetricsStore.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castplan/driftwatch"
)

// DB wraps a pgxpool.Pool with the driftwatch table accessors.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ driftwatch.MetricsStore = (*DB)(nil)

// New creates a DB with a connection pool and verifies connectivity.
// dsn may point at PgBouncer or directly at Postgres.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
