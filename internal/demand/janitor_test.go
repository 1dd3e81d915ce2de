package demand

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venue-app/pricingservice/internal/domain"
)

func TestJanitor_Sweep(t *testing.T) {
	buffer := NewMemoryBuffer()
	buffer.Upsert(booking("b-old", domain.ActionCreated, "sub-1", hour, 2))
	buffer.Upsert(booking("b-new", domain.ActionCreated, "sub-1", hour.Add(24*time.Hour), 2))

	throttle := NewMemoryThrottle(5 * time.Minute)
	allowed, err := throttle.Allow(context.Background(), Key{SubLocationID: "sub-1", HourStart: hour}, hour)
	require.NoError(t, err)
	require.True(t, allowed)

	j := NewJanitor(buffer, throttle, nil, DefaultJanitorConfig())
	j.now = func() time.Time { return hour.Add(25*time.Hour + time.Minute) }

	assert.Equal(t, 1, j.Sweep())
	assert.Equal(t, []Key{{SubLocationID: "sub-1", HourStart: hour.Add(24 * time.Hour)}}, buffer.Keys())
	assert.Empty(t, throttle.last, "expired cooldowns are forgotten")

	_, ok := buffer.Remove("b-old")
	assert.False(t, ok, "evicted bookings leave the index")
}

func TestJanitor_StartStopsOnCancel(t *testing.T) {
	j := NewJanitor(NewMemoryBuffer(), nil, nil, JanitorConfig{Interval: time.Millisecond, Retention: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- j.Start(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
