package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a missing key.
type ComputeFunc func(ctx context.Context) (any, error)

// Stats counters since the cache was created.
// Misses counts computations, callers sharing one computation count once.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Cache is a TTL- and size-bounded response cache.
// Concurrent misses for the same key share a single computation, and no lock is held
// while a computation runs, so unrelated keys never wait on each other.
type Cache struct {
	name string
	ttl  time.Duration

	// entries least-recently-used order of the cached values
	entries *lru.Cache[string, entry]

	// flights de-duplicates concurrent computations per key
	flights singleflight.Group

	now    func() time.Time
	logger log.Logger

	// generation is bumped by Clear, results computed under an older one are not stored
	generation atomic.Uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry struct {
	value      any
	insertedAt time.Time
	expiresAt  time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New constructs a Cache holding at most maxEntries values, each for ttl by default.
func New(name string, maxEntries int, ttl time.Duration, opts ...Option) (*Cache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache [%v]: ttl must be positive, got %v", name, ttl)
	}
	c := &Cache{
		name:   name,
		ttl:    ttl,
		now:    time.Now,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache [%v]: %w", name, err)
	}
	c.entries = entries
	return c, nil
}

// Name the name the cache is registered under
func (c *Cache) Name() string {
	return c.name
}

// TTL the default time to live of an entry
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// GetOrCompute returns the live value for key, or runs compute to produce it.
// At most one compute per key runs at a time; concurrent callers wait for it and
// get its result. Successful results are kept for ttl (the cache default when ttl
// is not positive), failures are never kept.
//
// compute runs detached from the caller's cancellation: a caller that gives up early
// gets ctx.Err() while the computation carries on for the others waiting on it.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		// a flight for this key may have finished between our lookup and now
		if v, ok := c.lookup(key); ok {
			c.hits.Add(1)
			return v, nil
		}
		c.misses.Add(1)
		level.Debug(c.logger).Log("msg", "cache miss", "cache", c.name, "key", key)

		gen := c.generation.Load()
		v, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		c.store(key, v, ttl, gen)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh unconditionally recomputes key and stores the result, sharing the
// computation with any concurrent GetOrCompute miss on the same key.
func (c *Cache) Refresh(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	ch := c.flights.DoChan(key, func() (any, error) {
		gen := c.generation.Load()
		v, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(key, v, ttl, gen)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup returns a live value, dropping the entry if it has expired.
func (c *Cache) lookup(key string) (any, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

// store keeps v unless the cache was cleared since gen was read.
func (c *Cache) store(key string, v any, ttl time.Duration, gen uint64) {
	if c.generation.Load() != gen {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	evicted := c.entries.Add(key, entry{
		value:      v,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	})
	if evicted {
		c.evictions.Add(1)
	}
	// Clear ran between the check above and Add
	if c.generation.Load() != gen {
		c.entries.Remove(key)
	}
}

// Remove drops a single key.
func (c *Cache) Remove(key string) {
	c.entries.Remove(key)
}

// Clear drops every entry. Computations in flight still deliver to their waiters
// but their results are not stored.
func (c *Cache) Clear() {
	c.generation.Add(1)
	n := c.entries.Len()
	c.entries.Purge()
	level.Info(c.logger).Log("msg", "cache cleared", "cache", c.name, "entries", n)
}

// Len the number of entries, expired ones included until they are next looked up
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Stats a snapshot of the counters
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.entries.Len(),
	}
}
