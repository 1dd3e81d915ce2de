package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// ObservationStore is an append-only in-memory demand history.
type ObservationStore struct {
	mu           sync.RWMutex
	observations []domain.DemandObservation
}

var _ repository.ObservationRepository = (*ObservationStore)(nil)

func NewObservationStore() *ObservationStore {
	return &ObservationStore{}
}

func (s *ObservationStore) Append(ctx context.Context, obs domain.DemandObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs)
	return nil
}

// Find returns matching observations ordered by hourStart.
func (s *ObservationStore) Find(ctx context.Context, filter repository.ObservationFilter) ([]domain.DemandObservation, error) {
	s.mu.RLock()
	out := make([]domain.DemandObservation, 0)
	for _, o := range s.observations {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].HourStart.Before(out[j].HourStart) })
	return out, nil
}
