// Package cache keeps recently resolved metadata in a bounded LRU, optionally
// backed by a shared second level (SQLite or Redis).
package cache

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"vidgrab/internal/media"
)

// DefaultCapacity is the number of entries held in memory.
const DefaultCapacity = 50

// Backend is a second-level store. Implementations must be safe for
// concurrent use.
type Backend interface {
	Load(ctx context.Context, key string) (*media.VideoMetadata, bool, error)
	Save(ctx context.Context, key string, md *media.VideoMetadata) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Cache is safe for concurrent use. Stored values are shared between callers
// and must be treated as read-only.
type Cache struct {
	l1      *lru.Cache[string, *media.VideoMetadata]
	backend Backend
	log     *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithBackend adds a second level.
func WithBackend(b Backend) Option { return func(c *Cache) { c.backend = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.log = l } }

// New creates a cache holding at most capacity entries in memory.
func New(capacity int, opts ...Option) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l1, err := lru.New[string, *media.VideoMetadata](capacity)
	if err != nil {
		return nil, err
	}
	c := &Cache{l1: l1, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get returns the metadata for ref. A hit counts as a use.
func (c *Cache) Get(ctx context.Context, ref media.ContentRef) (*media.VideoMetadata, bool) {
	key := ref.Key()
	if md, ok := c.l1.Get(key); ok {
		return md, true
	}
	if c.backend == nil {
		return nil, false
	}

	md, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		c.log.Warn("cache: backend load failed", slog.String("ref", key), slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c.l1.Add(key, md)
	return md, true
}

// Put stores md for ref, evicting the least recently used entry if full.
func (c *Cache) Put(ctx context.Context, ref media.ContentRef, md *media.VideoMetadata) {
	if md == nil {
		return
	}
	key := ref.Key()
	c.l1.Add(key, md)
	if c.backend != nil {
		if err := c.backend.Save(ctx, key, md); err != nil {
			c.log.Warn("cache: backend save failed", slog.String("ref", key), slog.Any("error", err))
		}
	}
}

// Invalidate drops ref from every level.
func (c *Cache) Invalidate(ctx context.Context, ref media.ContentRef) {
	key := ref.Key()
	c.l1.Remove(key)
	if c.backend != nil {
		if err := c.backend.Delete(ctx, key); err != nil {
			c.log.Warn("cache: backend delete failed", slog.String("ref", key), slog.Any("error", err))
		}
	}
}

// Len reports the number of in-memory entries.
func (c *Cache) Len() int { return c.l1.Len() }

// Close releases the backend.
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

// OpenBackend opens the second level named by kind: "", "none", "sqlite"
// (dsn is a file path) or "redis" (dsn is a redis:// URL).
func OpenBackend(ctx context.Context, kind, dsn string) (Backend, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "sqlite":
		b, err := OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		b, err := OpenRedis(ctx, dsn, DefaultRedisTTL)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", kind)
}
