// Package pgpool builds the single pgx connection pool shared by the entry
// store and the vector store. Connection loss surfaces as ErrUnavailable so
// the orchestrator can halt the tick and wait.
package pgpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnavailable marks failures caused by the backing store being
// unreachable. Matched with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// New opens a pool against dsn with the shared sizing (min 2, max 10).
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MinConns = 2
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w (%w)", err, ErrUnavailable)
	}
	return pool, nil
}

// Unavailable wraps a database error so both the original error and
// ErrUnavailable match with errors.Is.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w (%w)", op, err, ErrUnavailable)
}
