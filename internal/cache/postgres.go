package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"blogwatch/internal/pgpool"
)

// Postgres stores entries in the shared database's cache_entries table.
// Expiry is lazy: reads filter on expires_at, and an optional background
// sweep reaps dead rows.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	stopSweep context.CancelFunc
	sweepDone chan struct{}
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    expires_at TIMESTAMPTZ NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cache_entries_expires_at_idx ON cache_entries (expires_at);
`

// NewPostgres ensures the schema and returns a store over pool. The pool
// is shared with the vector store; Close does not close it.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) (*Postgres, error) {
	if _, err := pool.Exec(ctx, cacheSchema); err != nil {
		return nil, pgpool.Unavailable("create cache schema", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM cache_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pgpool.Unavailable("cache get", err)
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, created_at = now()`,
		key, value, expiresAt)
	if err != nil {
		return pgpool.Unavailable("cache set", err)
	}
	return nil
}

func (p *Postgres) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM cache_entries
		   WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
		 )`, key).Scan(&exists)
	if err != nil {
		return false, pgpool.Unavailable("cache has", err)
	}
	return exists, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return pgpool.Unavailable("cache delete", err)
	}
	return nil
}

func (p *Postgres) Clear(ctx context.Context, prefix string) error {
	pattern := escapeLike(prefix) + "%"
	if _, err := p.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key LIKE $1`, pattern); err != nil {
		return pgpool.Unavailable("cache clear", err)
	}
	return nil
}

// Close stops the sweep goroutine. The shared pool is closed by its owner.
func (p *Postgres) Close() error {
	if p.stopSweep != nil {
		p.stopSweep()
		<-p.sweepDone
		p.stopSweep = nil
	}
	return nil
}

// StartSweep launches a background loop deleting expired rows every
// interval. Stopped by Close or by ctx.
func (p *Postgres) StartSweep(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	p.stopSweep = cancel
	p.sweepDone = make(chan struct{})

	go func() {
		defer close(p.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := p.sweepExpired(ctx); err != nil {
					p.log.Warn("cache sweep failed", zap.Error(err))
				} else if n > 0 {
					p.log.Debug("cache sweep", zap.Int64("deleted", n))
				}
			}
		}
	}()
}

func (p *Postgres) sweepExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, pgpool.Unavailable("cache sweep", err)
	}
	return tag.RowsAffected(), nil
}

// escapeLike protects literal LIKE metacharacters in a key prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
