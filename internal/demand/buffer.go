package demand

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/venue-app/pricingservice/internal/domain"
)

// Key identifies one demand bucket.
type Key struct {
	SubLocationID string
	HourStart     time.Time
}

// KeyOf returns the bucket a booking event belongs to.
func KeyOf(ev domain.BookingEvent) Key {
	return Key{SubLocationID: ev.SubLocationID, HourStart: ev.HourStart()}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.SubLocationID, k.HourStart.Unix())
}

// Totals summarizes the live events of a bucket.
type Totals struct {
	BookingsCount  int
	TotalAttendees int
}

// Buffer holds the live booking events per bucket. Callers serialize access
// per key; implementations must still be safe across keys.
type Buffer interface {
	// Upsert inserts or replaces ev by event id. If the event previously lived
	// in another bucket it is moved and the old key is returned.
	Upsert(ev domain.BookingEvent) (moved *Key)
	// Remove drops the event by id from whichever bucket holds it and
	// returns that bucket.
	Remove(eventID string) (Key, bool)
	// Locate returns the bucket currently holding the event.
	Locate(eventID string) (Key, bool)
	Totals(key Key) Totals
	// Keys lists the buckets currently holding events.
	Keys() []Key
}

// MemoryBuffer is the in-process Buffer.
type MemoryBuffer struct {
	mu      sync.RWMutex
	buckets map[Key]map[string]domain.BookingEvent
	index   map[string]Key
}

var _ Buffer = (*MemoryBuffer)(nil)

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{
		buckets: make(map[Key]map[string]domain.BookingEvent),
		index:   make(map[string]Key),
	}
}

func (b *MemoryBuffer) Upsert(ev domain.BookingEvent) *Key {
	key := KeyOf(ev)

	b.mu.Lock()
	defer b.mu.Unlock()

	var moved *Key
	if prev, ok := b.index[ev.EventID]; ok && prev != key {
		b.dropLocked(prev, ev.EventID)
		moved = &prev
	}

	bucket, ok := b.buckets[key]
	if !ok {
		bucket = make(map[string]domain.BookingEvent)
		b.buckets[key] = bucket
	}
	bucket[ev.EventID] = ev
	b.index[ev.EventID] = key
	return moved
}

func (b *MemoryBuffer) Remove(eventID string) (Key, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.index[eventID]
	if !ok {
		return Key{}, false
	}
	b.dropLocked(key, eventID)
	return key, true
}

func (b *MemoryBuffer) Locate(eventID string) (Key, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key, ok := b.index[eventID]
	return key, ok
}

func (b *MemoryBuffer) dropLocked(key Key, eventID string) {
	delete(b.index, eventID)
	bucket := b.buckets[key]
	delete(bucket, eventID)
	if len(bucket) == 0 {
		delete(b.buckets, key)
	}
}

func (b *MemoryBuffer) Totals(key Key) Totals {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var t Totals
	for _, ev := range b.buckets[key] {
		t.BookingsCount++
		t.TotalAttendees += ev.Attendees
	}
	return t
}

func (b *MemoryBuffer) Keys() []Key {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]Key, 0, len(b.buckets))
	for k := range b.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SubLocationID != keys[j].SubLocationID {
			return keys[i].SubLocationID < keys[j].SubLocationID
		}
		return keys[i].HourStart.Before(keys[j].HourStart)
	})
	return keys
}

// Evict drops every bucket whose hour ended before cutoff.
func (b *MemoryBuffer) Evict(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for key, bucket := range b.buckets {
		if !key.HourStart.Add(time.Hour).Before(cutoff) {
			continue
		}
		for id := range bucket {
			delete(b.index, id)
		}
		delete(b.buckets, key)
		evicted++
	}
	return evicted
}
