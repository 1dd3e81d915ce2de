package demand

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Evictor drops buckets for hours that ended before cutoff.
type Evictor interface {
	Evict(cutoff time.Time) int
}

// JanitorConfig holds janitor configuration
type JanitorConfig struct {
	Interval time.Duration // Interval between sweeps
	// Retention keeps buckets this long after their hour ends, so late
	// updates and deletes still land in a live bucket.
	Retention time.Duration
}

// DefaultJanitorConfig returns a default janitor configuration
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:  time.Minute,
		Retention: 24 * time.Hour,
	}
}

// Janitor periodically evicts stale buckets from the aggregation buffer and
// expired entries from an in-memory throttle.
type Janitor struct {
	buffer   Evictor
	throttle *MemoryThrottle
	logger   *zap.Logger
	config   JanitorConfig
	now      func() time.Time
}

// NewJanitor creates a janitor. throttle may be nil.
func NewJanitor(buffer Evictor, throttle *MemoryThrottle, logger *zap.Logger, config JanitorConfig) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultJanitorConfig().Interval
	}
	return &Janitor{
		buffer:   buffer,
		throttle: throttle,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start runs sweeps until ctx is cancelled
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.Info("Starting demand buffer janitor",
		zap.Duration("interval", j.config.Interval),
		zap.Duration("retention", j.config.Retention))

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Demand buffer janitor stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one eviction pass
func (j *Janitor) Sweep() int {
	now := j.now().UTC()
	evicted := j.buffer.Evict(now.Add(-j.config.Retention))
	if j.throttle != nil {
		j.throttle.Forget(now)
	}
	if evicted > 0 {
		j.logger.Info("Evicted stale demand buckets", zap.Int("count", evicted))
	}
	return evicted
}
