package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Filesystem stores each entry as two files under a directory: a payload
// file and a JSON sidecar carrying the original key and expiry. Filenames
// are sha256(key) so arbitrary keys stay path-safe.
type Filesystem struct {
	dir string
	now func() time.Time
}

type fileMeta struct {
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewFilesystem creates dir if needed and returns a store over it.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Filesystem{dir: dir, now: time.Now}, nil
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	meta, err := f.readMeta(key)
	if err != nil {
		return nil, err
	}
	if f.expired(meta) {
		f.remove(key)
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(f.valuePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cache value: %w", err)
	}
	return data, nil
}

func (f *Filesystem) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	meta := fileMeta{Key: key, CreatedAt: f.now()}
	if ttl > 0 {
		exp := f.now().Add(ttl)
		meta.ExpiresAt = &exp
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal cache meta: %w", err)
	}
	if err := os.WriteFile(f.valuePath(key), value, 0o644); err != nil {
		return fmt.Errorf("write cache value: %w", err)
	}
	if err := os.WriteFile(f.metaPath(key), raw, 0o644); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

func (f *Filesystem) Has(ctx context.Context, key string) (bool, error) {
	meta, err := f.readMeta(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if f.expired(meta) {
		f.remove(key)
		return false, nil
	}
	return true, nil
}

func (f *Filesystem) Delete(_ context.Context, key string) error {
	f.remove(key)
	return nil
}

func (f *Filesystem) Clear(_ context.Context, prefix string) error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		var meta fileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if strings.HasPrefix(meta.Key, prefix) {
			f.remove(meta.Key)
		}
	}
	return nil
}

func (f *Filesystem) Close() error { return nil }

func (f *Filesystem) readMeta(key string) (fileMeta, error) {
	raw, err := os.ReadFile(f.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return fileMeta{}, ErrNotFound
		}
		return fileMeta{}, fmt.Errorf("read cache meta: %w", err)
	}
	var meta fileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fileMeta{}, fmt.Errorf("parse cache meta: %w", err)
	}
	return meta, nil
}

func (f *Filesystem) expired(meta fileMeta) bool {
	return meta.ExpiresAt != nil && !f.now().Before(*meta.ExpiresAt)
}

func (f *Filesystem) remove(key string) {
	os.Remove(f.valuePath(key))
	os.Remove(f.metaPath(key))
}

func (f *Filesystem) valuePath(key string) string {
	return filepath.Join(f.dir, hashKey(key)+".bin")
}

func (f *Filesystem) metaPath(key string) string {
	return filepath.Join(f.dir, hashKey(key)+".json")
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
