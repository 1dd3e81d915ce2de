package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/venue-app/pricingservice/internal/metrics"
)

// Cache wraps the Redis client used for cross-replica coordination
type Cache struct {
	client *redis.Client
}

// NewCache creates a new Redis cache instance
func NewCache(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping checks connectivity
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// SetNX sets key to value only if the key doesn't exist. It reports whether
// the key was set.
func (c *Cache) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	start := time.Now()
	result, err := c.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		metrics.RecordRedisOperation("setnx", "error", time.Since(start))
		return false, fmt.Errorf("failed to set key: %w", err)
	}
	metrics.RecordRedisOperation("setnx", "ok", time.Since(start))
	return result, nil
}

// TTL returns the remaining time to live of key, or zero if it has none
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Delete removes a key from the cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.client.Del(ctx, key).Err()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordRedisOperation("del", status, time.Since(start))
	return err
}

// IncrWithExpiry increments key and starts its expiry when the increment
// created it. It returns the new count.
func (c *Cache) IncrWithExpiry(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	start := time.Now()
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		metrics.RecordRedisOperation("incr", "error", time.Since(start))
		return 0, fmt.Errorf("failed to increment key: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, expiration).Err(); err != nil {
			metrics.RecordRedisOperation("incr", "error", time.Since(start))
			return count, fmt.Errorf("failed to set expiry: %w", err)
		}
	}
	metrics.RecordRedisOperation("incr", "ok", time.Since(start))
	return count, nil
}
