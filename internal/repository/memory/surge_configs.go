package memory

import (
	"context"
	"sync"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// SurgeConfigStore is an in-memory implementation of
// repository.SurgeConfigRepository.
type SurgeConfigStore struct {
	mu      sync.RWMutex
	configs map[string]domain.SurgeConfig
	order   []string
}

var _ repository.SurgeConfigRepository = (*SurgeConfigStore)(nil)

func NewSurgeConfigStore(seed ...domain.SurgeConfig) *SurgeConfigStore {
	s := &SurgeConfigStore{configs: make(map[string]domain.SurgeConfig)}
	for _, c := range seed {
		s.configs[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return s
}

func (s *SurgeConfigStore) Find(ctx context.Context, filter repository.SurgeConfigFilter) ([]domain.SurgeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SurgeConfig, 0)
	for _, id := range s.order {
		if c := s.configs[id]; filter.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *SurgeConfigStore) Get(ctx context.Context, id string) (domain.SurgeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[id]
	if !ok {
		return domain.SurgeConfig{}, repository.ErrNotFound
	}
	return c, nil
}

func (s *SurgeConfigStore) InsertOne(ctx context.Context, cfg domain.SurgeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[cfg.ID]; exists {
		return repository.ErrAlreadyExists
	}
	s.configs[cfg.ID] = cfg
	s.order = append(s.order, cfg.ID)
	return nil
}

func (s *SurgeConfigStore) UpdateOne(ctx context.Context, id string, update repository.SurgeConfigUpdate) (domain.SurgeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return domain.SurgeConfig{}, repository.ErrNotFound
	}
	update.Apply(&c)
	s.configs[id] = c
	return c, nil
}
