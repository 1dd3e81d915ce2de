package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venue-app/pricingservice/internal/audit"
	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
	"github.com/venue-app/pricingservice/internal/repository/memory"
)

type auditRecorder struct {
	events []audit.Event
}

func (r *auditRecorder) Log(_ context.Context, event audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

var created = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func draft(id string) domain.PricingRule {
	return domain.PricingRule{
		ID:             id,
		Name:           "Evening rate",
		AppliesTo:      domain.AppliesTo{Level: domain.LevelSubLocation, EntityID: "sub-1"},
		Priority:       10,
		EffectiveFrom:  created,
		ApprovalStatus: domain.StatusDraft,
		CreatedAt:      created,
		UpdatedAt:      created,
		Spec: domain.TimingSpec{Windows: []domain.TimeWindow{
			{StartTime: "18:00", EndTime: "22:00", Value: 120},
		}},
	}
}

func newService(seed ...domain.PricingRule) (*Service, *memory.RuleStore, *auditRecorder) {
	store := memory.NewRuleStore(seed...)
	rec := &auditRecorder{}
	svc := NewService(store, audit.NewManager(rec), nil)
	svc.now = func() time.Time { return created.Add(time.Hour) }
	return svc, store, rec
}

func TestService_ApprovalFlow(t *testing.T) {
	svc, store, rec := newService(draft("rule-1"))
	ctx := context.Background()

	submitted, err := svc.Submit(ctx, "rule-1", "author", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, submitted.ApprovalStatus)
	assert.False(t, submitted.IsActive)

	approved, err := svc.Approve(ctx, "rule-1", "reviewer", "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.ApprovalStatus)
	assert.True(t, approved.IsActive)
	assert.True(t, approved.IsEligible())
	assert.Equal(t, created.Add(time.Hour), approved.UpdatedAt)

	stored, err := store.Get(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, approved, stored)

	require.Len(t, rec.events, 2)
	assert.Equal(t, "approve", rec.events[1].Action)
	assert.Equal(t, "reviewer", rec.events[1].Actor)
	assert.Equal(t, audit.ResultSuccess, rec.events[1].Result)
}

func TestService_RejectThenResubmit(t *testing.T) {
	svc, _, _ := newService(draft("rule-1"))
	ctx := context.Background()

	_, err := svc.Submit(ctx, "rule-1", "author", "")
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, "rule-1", "reviewer", "price too high")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.ApprovalStatus)
	assert.False(t, rejected.IsActive)

	resubmitted, err := svc.Submit(ctx, "rule-1", "author", "lowered")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, resubmitted.ApprovalStatus)
}

func TestService_SupersedeDeactivates(t *testing.T) {
	live := draft("rule-1")
	live.ApprovalStatus = domain.StatusApproved
	live.IsActive = true
	svc, _, _ := newService(live)

	superseded, err := svc.Supersede(context.Background(), "rule-1", "surge-materializer")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, superseded.ApprovalStatus)
	assert.False(t, superseded.IsActive)
}

func TestService_InvalidTransitionLeavesRuleUntouched(t *testing.T) {
	svc, store, rec := newService(draft("rule-1"))
	ctx := context.Background()

	_, err := svc.Approve(ctx, "rule-1", "reviewer", "")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeInvalidState))

	stored, err := store.Get(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, draft("rule-1"), stored)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ResultFailure, rec.events[0].Result)
}

func TestService_UnknownRule(t *testing.T) {
	svc, _, _ := newService()

	_, err := svc.Submit(context.Background(), "missing", "author", "")
	assert.True(t, domain.IsCode(err, domain.ErrCodeNotFound))
}

// racingStore flips the stored status between Get and UpdateOne.
type racingStore struct {
	*memory.RuleStore
}

func (s racingStore) UpdateOne(ctx context.Context, id string, update repository.RuleUpdate) (domain.PricingRule, error) {
	rejected := domain.StatusRejected
	if _, err := s.RuleStore.UpdateOne(ctx, id, repository.RuleUpdate{ApprovalStatus: &rejected}); err != nil {
		return domain.PricingRule{}, err
	}
	return s.RuleStore.UpdateOne(ctx, id, update)
}

func TestService_ConcurrentChangeIsInvalidState(t *testing.T) {
	pending := draft("rule-1")
	pending.ApprovalStatus = domain.StatusPendingApproval
	store := racingStore{memory.NewRuleStore(pending)}
	svc := NewService(store, nil, nil)

	_, err := svc.Approve(context.Background(), "rule-1", "reviewer", "")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeInvalidState))

	stored, err := store.Get(context.Background(), "rule-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.ApprovalStatus)
}
