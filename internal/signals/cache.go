package signals

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LoadHook observes every load attempt made by a Cache.
type LoadHook func(definitions int, duration time.Duration, err error)

// Cache serves the definition table to concurrent readers. The first read
// loads from the Source; later reads are served from memory without
// locking until Invalidate is called. There is no time-based expiry.
type Cache struct {
	source Source
	logger *zap.Logger
	onLoad LoadHook

	table      atomic.Pointer[Table]
	generation atomic.Uint64
	loadMu     sync.Mutex
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger.
func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLoadHook registers a callback invoked after each load.
func WithLoadHook(h LoadHook) CacheOption {
	return func(c *Cache) {
		c.onLoad = h
	}
}

// NewCache creates a cache backed by source.
func NewCache(source Source, opts ...CacheOption) *Cache {
	c := &Cache{
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Table returns the cached table, loading it on first use.
func (c *Cache) Table(ctx context.Context) (*Table, error) {
	if t := c.table.Load(); t != nil {
		return t, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if t := c.table.Load(); t != nil {
		return t, nil
	}

	gen := c.generation.Load()
	start := time.Now()
	defs, err := c.source.Load(ctx)
	if err == nil {
		err = ValidateDefinitions(defs)
	}
	if c.onLoad != nil {
		c.onLoad(len(defs), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading status definitions: %w", err)
	}

	t := NewTable(defs)
	// An Invalidate that raced with this load wins; the next reader reloads.
	if c.generation.Load() == gen {
		c.table.Store(t)
	}
	c.logger.Debug("status definitions loaded", zap.Int("count", t.Len()))
	return t, nil
}

// Invalidate drops the cached table. Callers that change definitions must
// call it before reporting success.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.table.Store(nil)
	c.logger.Debug("status definition cache invalidated")
}
