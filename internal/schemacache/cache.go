// Package schemacache holds the discovered SchemaMap shared by all requests,
// with a TTL and an explicit invalidation hook.
package schemacache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/schemamap"
)

// ErrNotCached is returned by Store.Load when no entry exists.
var ErrNotCached = errors.New("schemacache: not cached")

// Entry is a cached map and the time it was discovered.
type Entry struct {
	Map          *schemamap.SchemaMap `json:"map"`
	DiscoveredAt time.Time            `json:"discoveredAt"`
}

// Store persists the cache entry.
type Store interface {
	Load(ctx context.Context) (*Entry, error)
	Save(ctx context.Context, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context) error
	Name() string
}

// Config controls the cache.
type Config struct {
	Discoverer schemamap.Discoverer
	// Store defaults to an in-process MemoryStore.
	Store Store
	// TTL of 0 keeps an entry until Invalidate.
	TTL     time.Duration
	Logger  *logging.Logger
	Metrics *observability.SchemaMetrics
	Now     func() time.Time
}

// Cache lazily discovers and caches the SchemaMap. Concurrent first lookups
// may each run discovery; the last one stored wins.
type Cache struct {
	discoverer schemamap.Discoverer
	store      Store
	ttl        time.Duration
	logger     *logging.Logger
	metrics    *observability.SchemaMetrics
	now        func() time.Time
}

// New returns a cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Discoverer == nil {
		return nil, fmt.Errorf("schema cache requires a discoverer")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	return &Cache{
		discoverer: cfg.Discoverer,
		store:      cfg.Store,
		ttl:        cfg.TTL,
		logger:     cfg.Logger.WithFields(slog.String("component", "schema_cache"), slog.String("backend", cfg.Store.Name())),
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}, nil
}

// Get returns the cached map, discovering it when missing or expired.
// Discovery errors are returned and nothing is cached.
func (c *Cache) Get(ctx context.Context) (*schemamap.SchemaMap, error) {
	entry, err := c.store.Load(ctx)
	switch {
	case err == nil && c.fresh(entry):
		c.metrics.RecordCacheLookup(ctx, "hit", c.store.Name())
		return entry.Map, nil
	case err != nil && !errors.Is(err, ErrNotCached):
		c.logger.Warn("schema cache load failed; rediscovering", slog.String("error", err.Error()))
	}
	c.metrics.RecordCacheLookup(ctx, "miss", c.store.Name())

	m, err := c.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, &Entry{Map: m, DiscoveredAt: c.now()}, c.ttl); err != nil {
		c.logger.Warn("schema cache save failed", slog.String("error", err.Error()))
	}
	return m, nil
}

// Refresh discards the cached map and discovers it again.
func (c *Cache) Refresh(ctx context.Context) (*schemamap.SchemaMap, error) {
	if err := c.Invalidate(ctx); err != nil {
		return nil, err
	}
	return c.Get(ctx)
}

// Invalidate drops the cached map; the next Get rediscovers it.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.metrics.RecordCacheLookup(ctx, "invalidate", c.store.Name())
	if err := c.store.Delete(ctx); err != nil {
		return fmt.Errorf("invalidate schema cache: %w", err)
	}
	c.logger.Info("schema cache invalidated")
	return nil
}

// Peek returns the cached entry without discovering.
func (c *Cache) Peek(ctx context.Context) (*Entry, bool) {
	entry, err := c.store.Load(ctx)
	if err != nil || !c.fresh(entry) {
		return nil, false
	}
	return entry, true
}

func (c *Cache) fresh(entry *Entry) bool {
	if entry == nil || entry.Map == nil {
		return false
	}
	if c.ttl == 0 {
		return true
	}
	return c.now().Sub(entry.DiscoveredAt) < c.ttl
}
