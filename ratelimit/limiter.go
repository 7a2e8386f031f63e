package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Result of an admission decision.
type Result struct {
	Allowed bool

	// Limit the bucket capacity
	Limit int64

	// Remaining whole tokens left after this decision
	Remaining int64

	// RetryAfter how long until the next refill, only set when denied
	RetryAfter time.Duration
}

// Limiter admits or denies requests per client using lazily refilled token buckets.
// Each client has its own bucket and lock, so clients never contend with each other.
type Limiter struct {
	capacity       int64
	refillInterval time.Duration

	// buckets maps a client identifier to *bucket
	buckets sync.Map

	now    func() time.Time
	logger log.Logger
}

// bucket is the per-client token state. mu guards every field.
type bucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefillAt time.Time
	lastSeenAt   time.Time

	// removed is set by the sweeper once the bucket has left the map
	removed bool
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(logger log.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New constructs a Limiter. capacity tokens are regenerated every refillInterval.
func New(capacity int64, refillInterval time.Duration, opts ...Option) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillInterval <= 0 {
		refillInterval = time.Minute
	}
	l := &Limiter{
		capacity:       capacity,
		refillInterval: refillInterval,
		now:            time.Now,
		logger:         log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Capacity the maximum number of tokens per client
func (l *Limiter) Capacity() int64 {
	return l.capacity
}

// RefillInterval the time it takes to regenerate a full bucket
func (l *Limiter) RefillInterval() time.Duration {
	return l.refillInterval
}

// Allow reports whether clientID may make a request now, consuming a token if so.
func (l *Limiter) Allow(clientID string) bool {
	return l.Take(clientID).Allowed
}

// Take is Allow with the details needed for rate limit response headers.
func (l *Limiter) Take(clientID string) Result {
	for {
		b := l.bucket(clientID)

		b.mu.Lock()
		if b.removed {
			// swept between lookup and lock, go again with a fresh bucket
			b.mu.Unlock()
			continue
		}
		result := l.take(b, l.now())
		b.mu.Unlock()
		return result
	}
}

// bucket finds or atomically creates the bucket for clientID, initially full.
func (l *Limiter) bucket(clientID string) *bucket {
	if b, ok := l.buckets.Load(clientID); ok {
		return b.(*bucket)
	}
	now := l.now()
	actual, _ := l.buckets.LoadOrStore(clientID, &bucket{
		tokens:       float64(l.capacity),
		lastRefillAt: now,
		lastSeenAt:   now,
	})
	return actual.(*bucket)
}

// take refills and consumes. Must be called with b.mu held.
func (l *Limiter) take(b *bucket, now time.Time) Result {
	elapsed := now.Sub(b.lastRefillAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= l.refillInterval {
		intervals := elapsed / l.refillInterval
		b.tokens = math.Min(b.tokens+float64(intervals)*float64(l.capacity), float64(l.capacity))
		b.lastRefillAt = b.lastRefillAt.Add(intervals * l.refillInterval)
	}
	if now.After(b.lastSeenAt) {
		b.lastSeenAt = now
	}

	if b.tokens > 0 {
		b.tokens--
		return Result{
			Allowed:   true,
			Limit:     l.capacity,
			Remaining: int64(b.tokens),
		}
	}

	retryAfter := b.lastRefillAt.Add(l.refillInterval).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    false,
		Limit:      l.capacity,
		Remaining:  0,
		RetryAfter: retryAfter,
	}
}

// Len the number of tracked clients
func (l *Limiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep drops buckets that have not been used for idleAfter and returns how many went.
// A bucket idle for at least one refill interval is full again, so forgetting it
// changes nothing for the client.
func (l *Limiter) Sweep(idleAfter time.Duration) int {
	if idleAfter < l.refillInterval {
		idleAfter = l.refillInterval
	}
	now := l.now()
	removed := 0
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastSeenAt) >= idleAfter {
			b.removed = true
			l.buckets.Delete(key)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// RunSweeper sweeps idle buckets every interval until ctx is done.
// This is expected to be called from a go-routine.
func (l *Limiter) RunSweeper(ctx context.Context, interval, idleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(idleAfter); n > 0 {
				level.Debug(l.logger).Log("msg", "swept idle buckets", "removed", n, "remaining", l.Len())
			}
		case <-ctx.Done():
			level.Debug(l.logger).Log("msg", "shutting down bucket sweeper")
			return
		}
	}
}
