package demand

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/metrics"
	"github.com/venue-app/pricingservice/internal/repository"
)

// ErrMalformedEvent marks booking events that cannot be aggregated. They are
// skipped, never retried.
var ErrMalformedEvent = errors.New("malformed booking event")

// Publisher ships emitted observations downstream.
type Publisher interface {
	PublishObservation(ctx context.Context, obs domain.DemandObservation) error
}

// Config tunes the aggregator
type Config struct {
	DefaultCapacity int
	HistoryDays     int
}

// DefaultConfig returns the aggregator defaults
func DefaultConfig() Config {
	return Config{
		DefaultCapacity: 100,
		HistoryDays:     30,
	}
}

const (
	lockStripes    = 64
	releaseTimeout = 2 * time.Second
)

// Aggregator folds booking lifecycle events into per-hour demand
// observations. Read-modify-emit is atomic per sub-location.
type Aggregator struct {
	buffer    Buffer
	throttle  Throttle
	directory repository.EntityDirectory
	history   repository.ObservationRepository
	publisher Publisher
	config    Config
	logger    *zap.Logger
	now       func() time.Time
	stripes   [lockStripes]sync.Mutex
}

// NewAggregator creates a demand aggregator. publisher may be nil when
// observations only go to history.
func NewAggregator(
	buffer Buffer,
	throttle Throttle,
	directory repository.EntityDirectory,
	history repository.ObservationRepository,
	publisher Publisher,
	logger *zap.Logger,
	config Config,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultCapacity <= 0 {
		config.DefaultCapacity = DefaultConfig().DefaultCapacity
	}
	if config.HistoryDays <= 0 {
		config.HistoryDays = DefaultConfig().HistoryDays
	}
	return &Aggregator{
		buffer:    buffer,
		throttle:  throttle,
		directory: directory,
		history:   history,
		publisher: publisher,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

func stripeOf(subLocationID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subLocationID))
	return int(h.Sum32() % lockStripes)
}

// lockEvent holds the stripes of ev's sub-location and of the bucket the
// booking currently sits in, taken in index order. If the booking moved to
// another stripe while waiting, it starts over.
func (a *Aggregator) lockEvent(ev domain.BookingEvent) (unlock func()) {
	for {
		held := []int{stripeOf(ev.SubLocationID)}
		if prev, ok := a.buffer.Locate(ev.EventID); ok {
			if s := stripeOf(prev.SubLocationID); s != held[0] {
				held = append(held, s)
			}
		}
		slices.Sort(held)
		for _, s := range held {
			a.stripes[s].Lock()
		}
		unlock = func() {
			for i := len(held) - 1; i >= 0; i-- {
				a.stripes[held[i]].Unlock()
			}
		}

		prev, ok := a.buffer.Locate(ev.EventID)
		if !ok || slices.Contains(held, stripeOf(prev.SubLocationID)) {
			return unlock
		}
		unlock()
	}
}

// Process applies one booking event and returns the observations it emitted.
// A throttled bucket returns no observations and no error.
func (a *Aggregator) Process(ctx context.Context, ev domain.BookingEvent) ([]domain.DemandObservation, error) {
	if err := ev.Validate(); err != nil {
		metrics.RecordDemandEvent(string(ev.Action), "malformed")
		a.logger.Warn("Skipping malformed booking event",
			zap.String("event_id", ev.EventID),
			zap.String("action", string(ev.Action)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	unlock := a.lockEvent(ev)
	defer unlock()

	var keys []Key
	switch ev.Action {
	case domain.ActionCreated, domain.ActionUpdated:
		key := KeyOf(ev)
		keys = append(keys, key)
		if moved := a.buffer.Upsert(ev); moved != nil {
			keys = append(keys, *moved)
		}
	case domain.ActionDeleted:
		key, ok := a.buffer.Remove(ev.EventID)
		if !ok {
			key = KeyOf(ev)
		}
		keys = append(keys, key)
	}

	var emitted []domain.DemandObservation
	for _, key := range keys {
		obs, ok, err := a.emit(ctx, key, ev.LocationID)
		if err != nil {
			metrics.RecordDemandEvent(string(ev.Action), "error")
			return emitted, err
		}
		if ok {
			emitted = append(emitted, obs)
		}
	}
	metrics.RecordDemandEvent(string(ev.Action), "processed")
	return emitted, nil
}

// emit claims the bucket's throttle window and emits one observation. The
// claim is released when the observation does not reach the publisher, so a
// redelivery of the same event emits again.
func (a *Aggregator) emit(ctx context.Context, key Key, locationID string) (obs domain.DemandObservation, ok bool, err error) {
	now := a.now().UTC()

	allowed, claimErr := a.throttle.Allow(ctx, key, now)
	if claimErr != nil {
		// A throttle outage must not silence demand; emission stays bounded
		// by the event rate.
		a.logger.Warn("Throttle unavailable, emitting anyway",
			zap.String("bucket", key.String()),
			zap.Error(claimErr))
		metrics.RecordError("throttle", "demand")
		allowed = true
	}
	if !allowed {
		metrics.RecordObservation(false)
		return domain.DemandObservation{}, false, nil
	}
	if claimErr == nil {
		defer func() {
			if err != nil {
				a.release(key)
			}
		}()
	}

	totals := a.buffer.Totals(key)
	capacity, profileLocation := a.capacity(ctx, key.SubLocationID)
	if locationID == "" {
		locationID = profileLocation
	}
	pressure := float64(totals.BookingsCount) / (float64(capacity) / 100)

	historical, err := a.historicalAverage(ctx, key)
	if err != nil {
		return domain.DemandObservation{}, false, err
	}

	obs = domain.DemandObservation{
		ID:                    uuid.NewString(),
		SubLocationID:         key.SubLocationID,
		LocationID:            locationID,
		HourStart:             key.HourStart,
		HourEnd:               key.HourStart.Add(time.Hour),
		BookingsCount:         totals.BookingsCount,
		TotalAttendees:        totals.TotalAttendees,
		AvailableCapacity:     capacity,
		DemandPressure:        pressure,
		HistoricalAvgPressure: historical,
		PressureDelta:         pressure - historical,
		EmittedAt:             now,
	}

	if err := a.history.Append(ctx, obs); err != nil {
		return domain.DemandObservation{}, false, fmt.Errorf("failed to append observation: %w", err)
	}
	metrics.RecordObservation(true)

	if a.publisher != nil {
		if err := a.publisher.PublishObservation(ctx, obs); err != nil {
			return obs, true, fmt.Errorf("failed to publish observation: %w", err)
		}
	}

	a.logger.Debug("Emitted demand observation",
		zap.String("sub_location_id", obs.SubLocationID),
		zap.Time("hour_start", obs.HourStart),
		zap.Int("bookings", obs.BookingsCount),
		zap.Float64("pressure", obs.DemandPressure))
	return obs, true, nil
}

func (a *Aggregator) release(key Key) {
	// The caller's context may be what failed the emission.
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := a.throttle.Release(ctx, key); err != nil {
		a.logger.Warn("Failed to release throttle window",
			zap.String("bucket", key.String()),
			zap.Error(err))
	}
}

// capacity returns the sub-location's capacity, or the configured default
// when the lookup fails or reports none.
func (a *Aggregator) capacity(ctx context.Context, subLocationID string) (int, string) {
	profile, err := a.directory.SubLocation(ctx, subLocationID)
	if err != nil {
		a.logger.Warn("Capacity lookup failed, using default",
			zap.String("sub_location_id", subLocationID),
			zap.Int("default_capacity", a.config.DefaultCapacity),
			zap.Error(err))
		return a.config.DefaultCapacity, ""
	}
	if profile.Capacity <= 0 {
		return a.config.DefaultCapacity, profile.Chain.LocationID
	}
	return profile.Capacity, profile.Chain.LocationID
}

// historicalAverage is the mean pressure of past observations for the same
// UTC weekday and hour within the history window, or 1.0 without history.
func (a *Aggregator) historicalAverage(ctx context.Context, key Key) (float64, error) {
	past, err := a.history.Find(ctx, repository.ObservationFilter{
		SubLocationID: key.SubLocationID,
		Since:         key.HourStart.AddDate(0, 0, -a.config.HistoryDays),
		Until:         key.HourStart,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load demand history: %w", err)
	}

	weekday, hour := key.HourStart.Weekday(), key.HourStart.Hour()
	var sum float64
	var n int
	for _, o := range past {
		start := o.HourStart.UTC()
		if start.Weekday() != weekday || start.Hour() != hour {
			continue
		}
		sum += o.DemandPressure
		n++
	}
	if n == 0 {
		return 1.0, nil
	}
	return sum / float64(n), nil
}
