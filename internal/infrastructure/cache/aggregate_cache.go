package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/domain/billing"
)

// DefaultTTL is how long a cached aggregate is served as fresh
const DefaultTTL = 5 * time.Minute

// entry wraps a cached aggregate with its write time. Staleness never
// evicts: a stale entry is still returned, tagged, so the UI is not
// blocked on a refetch.
type entry struct {
	aggregate *billing.BillAggregate
	writtenAt time.Time
	stale     bool
}

// AggregateCache is the session-owned in-memory store of bill aggregates
// keyed by (tenant, month, year). It also tracks a per-key write
// generation so a slow background fetch can detect that a newer write
// landed while it was in flight and decline to overwrite it.
type AggregateCache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	generations map[string]uint64
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time

	hits   int64
	misses int64
}

// AggregateCacheOption is a functional option for configuring the cache
type AggregateCacheOption func(*AggregateCache)

// WithTTL sets the staleness threshold
func WithTTL(ttl time.Duration) AggregateCacheOption {
	return func(c *AggregateCache) {
		c.ttl = ttl
	}
}

// WithLogger sets the logger for the cache
func WithLogger(logger *zap.Logger) AggregateCacheOption {
	return func(c *AggregateCache) {
		c.logger = logger
	}
}

// WithClock overrides the time source, used by staleness tests
func WithClock(now func() time.Time) AggregateCacheOption {
	return func(c *AggregateCache) {
		c.now = now
	}
}

// NewAggregateCache creates an empty cache. There is no background
// expiry sweep; staleness is evaluated lazily on read.
func NewAggregateCache(opts ...AggregateCacheOption) *AggregateCache {
	c := &AggregateCache{
		entries:     make(map[string]*entry),
		generations: make(map[string]uint64),
		ttl:         DefaultTTL,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached aggregate for the key along with its staleness.
// An entry past its TTL is marked stale in place but still returned.
func (c *AggregateCache) Get(key billing.AggregateKey) (*billing.BillAggregate, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		c.logger.Debug("Cache miss", zap.String("key", key.String()))
		return nil, false, false
	}

	if !e.stale && c.now().Sub(e.writtenAt) > c.ttl {
		e.stale = true
	}

	atomic.AddInt64(&c.hits, 1)
	c.logger.Debug("Cache hit",
		zap.String("key", key.String()),
		zap.Bool("stale", e.stale))
	return e.aggregate, e.stale, true
}

// Set stores the aggregate and returns the key's new write generation
func (c *AggregateCache) Set(key billing.AggregateKey, aggregate *billing.BillAggregate) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(key, aggregate)
}

// SetIfUnchanged stores the aggregate only when the key's generation
// still matches the one observed before the caller went remote. It
// returns false when a newer write (or an invalidation) landed in the
// meantime, in which case the cache is left untouched.
func (c *AggregateCache) SetIfUnchanged(key billing.AggregateKey, aggregate *billing.BillAggregate, observed uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[key.String()] != observed {
		c.logger.Debug("Discarding outdated cache write",
			zap.String("key", key.String()),
			zap.Uint64("observed_generation", observed),
			zap.Uint64("current_generation", c.generations[key.String()]))
		return false
	}
	c.setLocked(key, aggregate)
	return true
}

// Generation returns the current write generation for the key.
// Generations survive invalidation so an in-flight fetch started before
// the invalidate cannot resurrect the removed entry.
func (c *AggregateCache) Generation(key billing.AggregateKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key.String()]
}

// Invalidate removes the entry for the key
func (c *AggregateCache) Invalidate(key billing.AggregateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key.String())
	c.generations[key.String()]++
	c.logger.Debug("Invalidated cache entry", zap.String("key", key.String()))
}

// IsStale reports whether the key is cached and past its TTL
func (c *AggregateCache) IsStale(key billing.AggregateKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return false
	}
	return e.stale || c.now().Sub(e.writtenAt) > c.ttl
}

// Contains reports whether the key is cached, regardless of staleness
func (c *AggregateCache) Contains(key billing.AggregateKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key.String()]
	return ok
}

// Len returns the number of cached aggregates
func (c *AggregateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache hit/miss counters
func (c *AggregateCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

func (c *AggregateCache) setLocked(key billing.AggregateKey, aggregate *billing.BillAggregate) uint64 {
	c.entries[key.String()] = &entry{
		aggregate: aggregate,
		writtenAt: c.now(),
	}
	c.generations[key.String()]++
	c.logger.Debug("Cached aggregate",
		zap.String("key", key.String()),
		zap.Uint64("generation", c.generations[key.String()]))
	return c.generations[key.String()]
}
