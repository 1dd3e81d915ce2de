package demand

import (
	"context"
	"sync"
	"time"

	"github.com/venue-app/pricingservice/internal/cache"
	"github.com/venue-app/pricingservice/internal/circuitbreaker"
)

// DefaultThrottleWindow bounds emissions per bucket.
const DefaultThrottleWindow = 5 * time.Minute

// Throttle decides whether a bucket may emit now. Allow claims the window
// when it returns true; it never blocks waiting for one. Release gives a
// claimed window back when the emission did not go out.
type Throttle interface {
	Allow(ctx context.Context, key Key, now time.Time) (bool, error)
	Release(ctx context.Context, key Key) error
}

// MemoryThrottle is a per-process cooldown table.
type MemoryThrottle struct {
	mu     sync.Mutex
	window time.Duration
	last   map[Key]time.Time
}

var _ Throttle = (*MemoryThrottle)(nil)

func NewMemoryThrottle(window time.Duration) *MemoryThrottle {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &MemoryThrottle{
		window: window,
		last:   make(map[Key]time.Time),
	}
}

func (t *MemoryThrottle) Allow(_ context.Context, key Key, now time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[key]; ok && now.Sub(last) < t.window {
		return false, nil
	}
	t.last[key] = now
	return true, nil
}

func (t *MemoryThrottle) Release(_ context.Context, key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
	return nil
}

// Forget drops cooldown entries older than the window.
func (t *MemoryThrottle) Forget(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, last := range t.last {
		if now.Sub(last) >= t.window {
			delete(t.last, key)
		}
	}
}

// RedisThrottle shares the cooldown across replicas with SET NX + TTL. The
// window is measured by Redis, not by the caller's clock.
type RedisThrottle struct {
	cache   *cache.Cache
	window  time.Duration
	prefix  string
	breaker *circuitbreaker.CircuitBreaker
}

var _ Throttle = (*RedisThrottle)(nil)

func NewRedisThrottle(c *cache.Cache, window time.Duration) *RedisThrottle {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &RedisThrottle{cache: c, window: window, prefix: "demand:throttle:"}
}

// WithBreaker guards Redis calls with b. While the circuit is open Allow
// returns circuitbreaker.ErrCircuitOpen without touching Redis.
func (t *RedisThrottle) WithBreaker(b *circuitbreaker.CircuitBreaker) *RedisThrottle {
	t.breaker = b
	return t
}

func (t *RedisThrottle) Allow(ctx context.Context, key Key, now time.Time) (bool, error) {
	if t.breaker == nil {
		return t.setNX(ctx, key, now)
	}
	var allowed bool
	err := t.breaker.Execute(ctx, func() error {
		var err error
		allowed, err = t.setNX(ctx, key, now)
		return err
	})
	return allowed, err
}

func (t *RedisThrottle) Release(ctx context.Context, key Key) error {
	if t.breaker == nil {
		return t.cache.Delete(ctx, t.prefix+key.String())
	}
	return t.breaker.Execute(ctx, func() error {
		return t.cache.Delete(ctx, t.prefix+key.String())
	})
}

func (t *RedisThrottle) setNX(ctx context.Context, key Key, now time.Time) (bool, error) {
	return t.cache.SetNX(ctx, t.prefix+key.String(), now.UTC().Format(time.RFC3339), t.window)
}
