package memory

import (
	"context"
	"sync"
	"time"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// Directory is an in-memory entity directory seeded by tests and local runs.
type Directory struct {
	mu           sync.RWMutex
	subLocations map[string]domain.SubLocationProfile
	events       map[string][]domain.EventWindow
}

var _ repository.EntityDirectory = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		subLocations: make(map[string]domain.SubLocationProfile),
		events:       make(map[string][]domain.EventWindow),
	}
}

// PutSubLocation registers or replaces a sub-location profile.
func (d *Directory) PutSubLocation(profile domain.SubLocationProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subLocations[profile.Chain.SubLocationID] = profile
}

// PutEvent registers an event hosted at the sub-location.
func (d *Directory) PutEvent(subLocationID string, event domain.EventWindow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[subLocationID] = append(d.events[subLocationID], event)
}

func (d *Directory) SubLocation(ctx context.Context, id string) (domain.SubLocationProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.subLocations[id]
	if !ok {
		return domain.SubLocationProfile{}, repository.ErrNotFound
	}
	return p, nil
}

func (d *Directory) Events(ctx context.Context, subLocationID string, start, end time.Time) ([]domain.EventWindow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.EventWindow, 0)
	for _, e := range d.events[subLocationID] {
		if e.EffectiveStart().Before(end) && e.EffectiveEnd().After(start) {
			out = append(out, e)
		}
	}
	return out, nil
}
