package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/venue-app/pricingservice/internal/domain"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned by InsertOne when the id is taken
var ErrAlreadyExists = errors.New("record already exists")

// ErrConflict is returned by UpdateOne when the stored record no longer
// matches the update's precondition
var ErrConflict = errors.New("record changed concurrently")

// RuleFilter selects pricing rules. Zero-valued fields do not restrict.
type RuleFilter struct {
	// Targets matches rules bound to any of the listed entities.
	Targets []domain.AppliesTo
	// From and To keep rules whose effective range touches [From, To].
	From time.Time
	To   time.Time
	// EligibleOnly keeps active, approved rules.
	EligibleOnly  bool
	SurgeConfigID string
	Statuses      []domain.ApprovalStatus
	// EndsAfter keeps rules that are open-ended or end after the instant.
	EndsAfter time.Time
}

// Matches reports whether r satisfies the filter.
func (f RuleFilter) Matches(r domain.PricingRule) bool {
	if len(f.Targets) > 0 && !containsTarget(f.Targets, r.AppliesTo) {
		return false
	}
	if !f.From.IsZero() && !f.To.IsZero() && !r.Overlaps(f.From, f.To) {
		return false
	}
	if f.EligibleOnly && !r.IsEligible() {
		return false
	}
	if f.SurgeConfigID != "" && r.SurgeConfigID != f.SurgeConfigID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.ApprovalStatus) {
		return false
	}
	if !f.EndsAfter.IsZero() && r.EffectiveTo != nil && !r.EffectiveTo.After(f.EndsAfter) {
		return false
	}
	return true
}

func containsTarget(targets []domain.AppliesTo, t domain.AppliesTo) bool {
	for _, candidate := range targets {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []domain.ApprovalStatus, s domain.ApprovalStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// RuleUpdate is a partial update of a rule's lifecycle fields.
type RuleUpdate struct {
	// ExpectStatus fails the update with ErrConflict when the stored status differs.
	ExpectStatus   *domain.ApprovalStatus
	ApprovalStatus *domain.ApprovalStatus
	IsActive       *bool
	EffectiveTo    *time.Time
	UpdatedAt      time.Time
}

// Apply mutates r according to the update.
func (u RuleUpdate) Apply(r *domain.PricingRule) error {
	if u.ExpectStatus != nil && r.ApprovalStatus != *u.ExpectStatus {
		return fmt.Errorf("rule %s is %s, expected %s: %w", r.ID, r.ApprovalStatus, *u.ExpectStatus, ErrConflict)
	}
	if u.ApprovalStatus != nil {
		r.ApprovalStatus = *u.ApprovalStatus
	}
	if u.IsActive != nil {
		r.IsActive = *u.IsActive
	}
	if u.EffectiveTo != nil {
		end := *u.EffectiveTo
		r.EffectiveTo = &end
	}
	if !u.UpdatedAt.IsZero() {
		r.UpdatedAt = u.UpdatedAt
	}
	return nil
}

// RuleRepository is the document store for pricing rules
type RuleRepository interface {
	Find(ctx context.Context, filter RuleFilter) ([]domain.PricingRule, error)
	Get(ctx context.Context, id string) (domain.PricingRule, error)
	InsertOne(ctx context.Context, rule domain.PricingRule) error
	UpdateOne(ctx context.Context, id string, update RuleUpdate) (domain.PricingRule, error)
}

// SurgeConfigFilter selects surge configs.
type SurgeConfigFilter struct {
	Targets    []domain.AppliesTo
	ActiveOnly bool
	// At keeps configs in effect at the instant.
	At time.Time
}

// Matches reports whether c satisfies the filter.
func (f SurgeConfigFilter) Matches(c domain.SurgeConfig) bool {
	if len(f.Targets) > 0 && !containsTarget(f.Targets, c.AppliesTo) {
		return false
	}
	if f.ActiveOnly && !c.IsActive {
		return false
	}
	if !f.At.IsZero() {
		if c.EffectiveFrom.After(f.At) {
			return false
		}
		if c.EffectiveTo != nil && !c.EffectiveTo.After(f.At) {
			return false
		}
	}
	return true
}

// SurgeConfigUpdate carries the fields the surge loop writes back.
type SurgeConfigUpdate struct {
	DemandSupplyParams      *domain.DemandSupplyParams
	MaterializedRatesheetID *string
	LastSmoothedPressure    *float64
	UpdatedAt               time.Time
}

// Apply mutates c according to the update.
func (u SurgeConfigUpdate) Apply(c *domain.SurgeConfig) {
	if u.DemandSupplyParams != nil {
		c.DemandSupplyParams = *u.DemandSupplyParams
	}
	if u.MaterializedRatesheetID != nil {
		c.MaterializedRatesheetID = *u.MaterializedRatesheetID
	}
	if u.LastSmoothedPressure != nil {
		v := *u.LastSmoothedPressure
		c.LastSmoothedPressure = &v
	}
	if !u.UpdatedAt.IsZero() {
		c.UpdatedAt = u.UpdatedAt
	}
}

// SurgeConfigRepository is the document store for surge configs
type SurgeConfigRepository interface {
	Find(ctx context.Context, filter SurgeConfigFilter) ([]domain.SurgeConfig, error)
	Get(ctx context.Context, id string) (domain.SurgeConfig, error)
	InsertOne(ctx context.Context, cfg domain.SurgeConfig) error
	UpdateOne(ctx context.Context, id string, update SurgeConfigUpdate) (domain.SurgeConfig, error)
}

// ObservationFilter selects demand observations for one sub-location whose
// hourStart lies in [Since, Until). A zero Until is unbounded.
type ObservationFilter struct {
	SubLocationID string
	Since         time.Time
	Until         time.Time
}

// Matches reports whether o satisfies the filter.
func (f ObservationFilter) Matches(o domain.DemandObservation) bool {
	if f.SubLocationID != "" && o.SubLocationID != f.SubLocationID {
		return false
	}
	if !f.Since.IsZero() && o.HourStart.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !o.HourStart.Before(f.Until) {
		return false
	}
	return true
}

// ObservationRepository is the append-only demand history
type ObservationRepository interface {
	Append(ctx context.Context, obs domain.DemandObservation) error
	Find(ctx context.Context, filter ObservationFilter) ([]domain.DemandObservation, error)
}

// EntityDirectory is the read-only view of customers, locations,
// sub-locations and events
type EntityDirectory interface {
	SubLocation(ctx context.Context, id string) (domain.SubLocationProfile, error)
	// Events lists events at the sub-location whose effective window
	// overlaps [start, end).
	Events(ctx context.Context, subLocationID string, start, end time.Time) ([]domain.EventWindow, error)
}
