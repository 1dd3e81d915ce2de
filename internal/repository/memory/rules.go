package memory

import (
	"context"
	"sync"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// RuleStore is an in-memory implementation of repository.RuleRepository.
// Find results keep insertion order.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]domain.PricingRule
	order []string
}

var _ repository.RuleRepository = (*RuleStore)(nil)

func NewRuleStore(seed ...domain.PricingRule) *RuleStore {
	s := &RuleStore{rules: make(map[string]domain.PricingRule)}
	for _, r := range seed {
		s.rules[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	return s
}

func (s *RuleStore) Find(ctx context.Context, filter repository.RuleFilter) ([]domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PricingRule, 0)
	for _, id := range s.order {
		if r := s.rules[id]; filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return domain.PricingRule{}, repository.ErrNotFound
	}
	return r, nil
}

func (s *RuleStore) InsertOne(ctx context.Context, rule domain.PricingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return repository.ErrAlreadyExists
	}
	s.rules[rule.ID] = rule
	s.order = append(s.order, rule.ID)
	return nil
}

func (s *RuleStore) UpdateOne(ctx context.Context, id string, update repository.RuleUpdate) (domain.PricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return domain.PricingRule{}, repository.ErrNotFound
	}
	if err := update.Apply(&r); err != nil {
		return domain.PricingRule{}, err
	}
	s.rules[id] = r
	return r, nil
}
