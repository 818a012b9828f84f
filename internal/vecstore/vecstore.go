// Package vecstore persists post embeddings in a pgvector collection.
// Similarity is cosine distance (the <=> operator); Search returns results
// ascending by distance with ties broken by id.
package vecstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"blogwatch/internal/pgpool"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("vecstore: record not found")

// ErrDimensionMismatch is returned when a vector's length differs from the
// collection's stored dimension.
var ErrDimensionMismatch = errors.New("vecstore: vector dimension mismatch")

var collectionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Record is one persisted embedding. ID is the post fingerprint.
type Record struct {
	ID          string
	URL         string
	Title       string
	Source      string
	Author      string
	PublishedAt *time.Time
	Summary     string
	Vector      []float32
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SearchResult pairs a record with its distance from the query vector.
type SearchResult struct {
	Record
	Distance float64
}

// Filter narrows Search and Count to one source. The zero value matches
// everything.
type Filter struct {
	Source string
}

// Store is a fixed-dimension collection over the shared pool.
type Store struct {
	pool  *pgxpool.Pool
	table string
	dim   int
	log   *zap.Logger
}

// New validates the collection name, ensures the table and HNSW index
// exist with the configured dimension, and returns the store. The pool is
// shared with the entry store and closed by its owner.
func New(ctx context.Context, pool *pgxpool.Pool, collection string, dim int, log *zap.Logger) (*Store, error) {
	if !collectionNameRe.MatchString(collection) {
		return nil, fmt.Errorf("vecstore: invalid collection name %q", collection)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vecstore: dimension must be positive, got %d", dim)
	}

	s := &Store{pool: pool, table: "posts_" + collection, dim: dim, log: log}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %s (
    id           TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    title        TEXT NOT NULL,
    source       TEXT NOT NULL,
    author       TEXT NULL,
    published_at TIMESTAMPTZ NULL,
    summary      TEXT NULL,
    vector       VECTOR(%d) NOT NULL,
    metadata     JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %s_vector_idx ON %s
    USING hnsw (vector vector_cosine_ops) WITH (m = 16, ef_construction = 64);
`, s.table, dim, s.table, s.table)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, pgpool.Unavailable("create collection "+collection, err)
	}
	return s, nil
}

// Dimension returns the collection's stored vector length.
func (s *Store) Dimension() int { return s.dim }

// Upsert inserts or replaces one record by id.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	return s.UpsertBatch(ctx, []Record{rec})
}

// UpsertBatch writes records in one multi-row INSERT ... ON CONFLICT
// statement. All vectors must match the collection dimension.
func (s *Store) UpsertBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	fmt.Fprintf(&sb, `INSERT INTO %s
  (id, url, title, source, author, published_at, summary, vector, metadata)
VALUES `, s.table)

	for i, rec := range recs {
		if len(rec.Vector) != s.dim {
			return fmt.Errorf("%w: record %s has %d components, collection stores %d",
				ErrDimensionMismatch, rec.ID, len(rec.Vector), s.dim)
		}
		meta := rec.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("vecstore: marshal metadata for %s: %w", rec.ID, err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::vector, $%d::jsonb)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			rec.ID, rec.URL, rec.Title, rec.Source,
			nullable(rec.Author), rec.PublishedAt, nullable(rec.Summary),
			EncodeVector(rec.Vector), string(metaJSON))
	}

	sb.WriteString(`
ON CONFLICT (id) DO UPDATE SET
  url = EXCLUDED.url,
  title = EXCLUDED.title,
  source = EXCLUDED.source,
  author = EXCLUDED.author,
  published_at = EXCLUDED.published_at,
  summary = EXCLUDED.summary,
  vector = EXCLUDED.vector,
  metadata = EXCLUDED.metadata,
  updated_at = now()`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return pgpool.Unavailable("upsert batch", err)
	}
	return nil
}

// Get returns the record for id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT id, url, title, source, author, published_at, summary,
       vector::text, metadata, created_at, updated_at
FROM %s WHERE id = $1`, s.table), id)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, pgpool.Unavailable("get "+id, err)
	}
	return rec, nil
}

// Delete removes the record for id. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id); err != nil {
		return pgpool.Unavailable("delete "+id, err)
	}
	return nil
}

// Search returns the k nearest records to query by cosine distance.
func (s *Store) Search(ctx context.Context, query []float32, k int, filter Filter) ([]SearchResult, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d components, collection stores %d",
			ErrDimensionMismatch, len(query), s.dim)
	}

	where, args := filter.clause(2)
	sql := fmt.Sprintf(`
SELECT id, url, title, source, author, published_at, summary,
       vector::text, metadata, created_at, updated_at,
       vector <=> $1::vector AS distance
FROM %s
%s
ORDER BY vector <=> $1::vector, id
LIMIT %d`, s.table, where, k)

	rows, err := s.pool.Query(ctx, sql, append([]any{EncodeVector(query)}, args...)...)
	if err != nil {
		return nil, pgpool.Unavailable("search", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		rec, dist, err := scanRecordWithDistance(rows)
		if err != nil {
			return nil, fmt.Errorf("vecstore: scan search row: %w", err)
		}
		out = append(out, SearchResult{Record: rec, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, pgpool.Unavailable("search rows", err)
	}
	return out, nil
}

// Count returns the number of records matching filter.
func (s *Store) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := filter.clause(1)
	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s %s`, s.table, where), args...).Scan(&n)
	if err != nil {
		return 0, pgpool.Unavailable("count", err)
	}
	return n, nil
}

func (f Filter) clause(firstArg int) (string, []any) {
	if f.Source == "" {
		return "", nil
	}
	return fmt.Sprintf("WHERE source = $%d", firstArg), []any{f.Source}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		author     *string
		summary    *string
		vectorText string
	)
	err := row.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Source, &author,
		&rec.PublishedAt, &summary, &vectorText, &rec.Metadata,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	finishRecord(&rec, author, summary)
	rec.Vector, err = ParseVector(vectorText)
	return rec, err
}

func scanRecordWithDistance(row rowScanner) (Record, float64, error) {
	var (
		rec        Record
		author     *string
		summary    *string
		vectorText string
		distance   float64
	)
	err := row.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Source, &author,
		&rec.PublishedAt, &summary, &vectorText, &rec.Metadata,
		&rec.CreatedAt, &rec.UpdatedAt, &distance)
	if err != nil {
		return Record{}, 0, err
	}
	finishRecord(&rec, author, summary)
	rec.Vector, err = ParseVector(vectorText)
	return rec, distance, err
}

func finishRecord(rec *Record, author, summary *string) {
	if author != nil {
		rec.Author = *author
	}
	if summary != nil {
		rec.Summary = *summary
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
