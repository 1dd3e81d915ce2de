package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/cache"
	"github.com/venue-app/pricingservice/internal/log"
	"github.com/venue-app/pricingservice/internal/metrics"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds rate limiting configuration
type Config struct {
	// RequestsPerMinute is the budget per client and route
	RequestsPerMinute int
	Enabled           bool
}

// DefaultConfig returns a default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 600,
		Enabled:           true,
	}
}

// RedisRateLimiter counts requests in fixed one-minute windows shared by
// every replica.
type RedisRateLimiter struct {
	cache  *cache.Cache
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter creates a new Redis-based rate limiter
func NewRedisRateLimiter(c *cache.Cache, requestsPerMinute int) *RedisRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	return &RedisRateLimiter{
		cache:  c,
		limit:  requestsPerMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow checks if a request is allowed based on the rate limit
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := r.now().Unix() / int64(r.window/time.Second)
	count, err := r.cache.IncrWithExpiry(ctx, fmt.Sprintf("ratelimit:%s:%d", key, slot), r.window)
	if err != nil {
		return false, fmt.Errorf("rate limit error: %w", err)
	}
	return count <= int64(r.limit), nil
}

// Middleware rejects clients over budget with 429. Limiter failures let the
// request through.
func Middleware(limiter RateLimiter, config Config, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		if !config.Enabled || limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeOf(r)
			key := clientIP(r) + ":" + r.Method + " " + route

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("Rate limit check failed, allowing request",
					zap.Error(err),
					zap.String("route", route),
					zap.String("request_id", log.RequestID(r.Context())))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.RecordRateLimited(route)
				w.Header().Set("Retry-After", strconv.Itoa(60-time.Now().Second()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]map[string]string{
					"error": {"code": "RATE_LIMITED", "message": "rate limit exceeded"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// routeOf returns the chi route pattern when routing has already matched,
// so every id under one route shares a budget.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
