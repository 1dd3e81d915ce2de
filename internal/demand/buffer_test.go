package demand

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venue-app/pricingservice/internal/domain"
)

func TestMemoryBuffer_UpsertByEventID(t *testing.T) {
	b := NewMemoryBuffer()
	key := Key{SubLocationID: "sub-1", HourStart: hour}

	assert.Nil(t, b.Upsert(booking("b-1", domain.ActionCreated, "sub-1", hour, 3)))
	assert.Nil(t, b.Upsert(booking("b-1", domain.ActionCreated, "sub-1", hour.Add(20*time.Minute), 5)))
	assert.Nil(t, b.Upsert(booking("b-2", domain.ActionCreated, "sub-1", hour.Add(40*time.Minute), 2)))

	assert.Equal(t, Totals{BookingsCount: 2, TotalAttendees: 7}, b.Totals(key))

	removed, ok := b.Remove("b-1")
	require.True(t, ok)
	assert.Equal(t, key, removed)
	assert.Equal(t, Totals{BookingsCount: 1, TotalAttendees: 2}, b.Totals(key))

	_, ok = b.Remove("b-1")
	assert.False(t, ok)
}

func TestMemoryBuffer_MoveBetweenBuckets(t *testing.T) {
	b := NewMemoryBuffer()
	b.Upsert(booking("b-1", domain.ActionCreated, "sub-1", hour, 3))

	moved := b.Upsert(booking("b-1", domain.ActionUpdated, "sub-1", hour.Add(time.Hour), 3))
	require.NotNil(t, moved)
	assert.Equal(t, Key{SubLocationID: "sub-1", HourStart: hour}, *moved)
	assert.Equal(t, []Key{{SubLocationID: "sub-1", HourStart: hour.Add(time.Hour)}}, b.Keys())
}

func TestJanitor_SweepEvictsEndedHours(t *testing.T) {
	b := NewMemoryBuffer()
	b.Upsert(booking("old", domain.ActionCreated, "sub-1", hour.Add(-3*time.Hour), 1))
	b.Upsert(booking("recent", domain.ActionCreated, "sub-1", hour.Add(-time.Hour), 1))
	b.Upsert(booking("live", domain.ActionCreated, "sub-2", hour, 1))

	th := NewMemoryThrottle(time.Minute)
	_, _ = th.Allow(context.Background(), Key{SubLocationID: "sub-1", HourStart: hour}, hour.Add(-time.Hour))

	j := NewJanitor(b, th, nil, JanitorConfig{Interval: time.Minute, Retention: time.Hour})
	j.now = func() time.Time { return hour.Add(30 * time.Minute) }

	assert.Equal(t, 1, j.Sweep())
	assert.Len(t, b.Keys(), 2)
	_, ok := b.Remove("old")
	assert.False(t, ok, "index entry evicted with the bucket")
	assert.Empty(t, th.last)
}
