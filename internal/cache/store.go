// Package cache implements the TTL-bounded entry store backing
// deduplication, feed fingerprints and scheduler state. Three backends
// share one contract: memory for tests and single runs, filesystem for
// local persistence, postgres for the shared production database.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("cache: entry not found")

// Store is a persistent mapping from string keys to opaque byte values
// with optional expiry. A ttl of zero means the entry never expires.
// Reads see all prior writes from the same process.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// Clear removes all keys matching prefix; an empty prefix removes
	// everything.
	Clear(ctx context.Context, prefix string) error

	Close() error
}

// Well-known key namespaces.
const (
	KeyPrefixFingerprint = "fp:"      // per-post dedupe marks
	KeyPrefixArticle     = "article:" // cached article HTML by canonical URL
	KeyPrefixTick        = "tick:"    // per-source LastTickAt, RFC3339
	KeyPrefixFeed        = "feed:"    // per-feed content fingerprints
)
