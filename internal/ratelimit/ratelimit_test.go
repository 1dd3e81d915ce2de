package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venue-app/pricingservice/internal/cache"
)

func newLimiter(t *testing.T, limit int) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	l := NewRedisRateLimiter(cache.NewFromClient(client), limit)
	l.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC) }
	return l, mr
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	l, _ := newLimiter(t, 2)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		allowed, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, want, allowed, "request %d", i+1)
	}

	allowed, err := l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed, "budgets are per key")

	l.now = func() time.Time { return time.Date(2025, 3, 10, 12, 1, 0, 0, time.UTC) }
	allowed, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed, "next window starts fresh")
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func router(limiter RateLimiter, cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(Middleware(limiter, cfg, nil))
		r.Post("/v1/rules/{id}/submit", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	return r
}

func post(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware(t *testing.T) {
	l, _ := newLimiter(t, 1)
	h := router(l, Config{RequestsPerMinute: 1, Enabled: true})

	assert.Equal(t, http.StatusOK, post(h, "/v1/rules/a/submit", "10.0.0.1:5000").Code)

	rr := post(h, "/v1/rules/b/submit", "10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "ids under one route share the budget")
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":{"code":"RATE_LIMITED","message":"rate limit exceeded"}}`, rr.Body.String())

	assert.Equal(t, http.StatusOK, post(h, "/v1/rules/a/submit", "10.0.0.2:5000").Code)
}

func TestMiddleware_FailsOpenAndDisabled(t *testing.T) {
	h := router(failingLimiter{}, Config{Enabled: true})
	assert.Equal(t, http.StatusOK, post(h, "/v1/rules/a/submit", "10.0.0.1:5000").Code)

	l, _ := newLimiter(t, 1)
	h = router(l, Config{Enabled: false})
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(h, "/v1/rules/a/submit", "10.0.0.1:5000").Code)
	}
}
