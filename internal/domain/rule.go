package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleKind identifies which variant a pricing rule carries.
type RuleKind string

const (
	RuleKindTiming   RuleKind = "TIMING_BASED"
	RuleKindDuration RuleKind = "DURATION_BASED"
	RuleKindSurge    RuleKind = "SURGE_MULTIPLIER"
)

// Level is the hierarchy tier a rule targets.
type Level string

const (
	LevelCustomer    Level = "CUSTOMER"
	LevelLocation    Level = "LOCATION"
	LevelSubLocation Level = "SUBLOCATION"
	LevelEvent       Level = "EVENT"
)

// Rank orders levels so that a more specific level always wins.
func (l Level) Rank() int {
	switch l {
	case LevelEvent:
		return 4
	case LevelSubLocation:
		return 3
	case LevelLocation:
		return 2
	case LevelCustomer:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether the level is one of the known hierarchy tiers.
func (l Level) IsValid() bool {
	return l.Rank() > 0
}

// ConflictResolution selects how same-level, same-priority candidates are settled.
type ConflictResolution string

const (
	ConflictPriority     ConflictResolution = "PRIORITY"
	ConflictHighestPrice ConflictResolution = "HIGHEST_PRICE"
	ConflictLowestPrice  ConflictResolution = "LOWEST_PRICE"
)

// ApprovalStatus is the lifecycle state of a rule.
type ApprovalStatus string

const (
	StatusDraft           ApprovalStatus = "DRAFT"
	StatusPendingApproval ApprovalStatus = "PENDING_APPROVAL"
	StatusApproved        ApprovalStatus = "APPROVED"
	StatusRejected        ApprovalStatus = "REJECTED"
	StatusSuperseded      ApprovalStatus = "SUPERSEDED"
)

// AppliesTo binds a rule or surge config to one entity in the hierarchy.
type AppliesTo struct {
	Level    Level  `json:"level"`
	EntityID string `json:"entityId"`
}

// TimeWindow is a recurring daily window. Value is a price per hour for
// timing and duration rules and a multiplier for surge rules.
type TimeWindow struct {
	StartTime  string         `json:"startTime"`
	EndTime    string         `json:"endTime"`
	Value      float64        `json:"value"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty"`
}

// DurationTier prices every hour of a booking whose length falls in
// [MinHours, MaxHours]. A zero MaxHours is unbounded.
type DurationTier struct {
	MinHours     float64 `json:"minHours"`
	MaxHours     float64 `json:"maxHours,omitempty"`
	PricePerHour float64 `json:"pricePerHour"`
}

// RuleSpec is the kind-specific body of a pricing rule. The set of
// implementations is closed: TimingSpec, DurationSpec and SurgeSpec.
type RuleSpec interface {
	Kind() RuleKind
	isRuleSpec()
}

// TimingSpec prices hours by time of day.
type TimingSpec struct {
	Windows []TimeWindow `json:"timeWindows"`
}

// DurationSpec prices hours by total booking length. Windows optionally
// restrict which hours the tiers cover.
type DurationSpec struct {
	Tiers   []DurationTier `json:"tiers"`
	Windows []TimeWindow   `json:"timeWindows,omitempty"`
}

// SurgeSpec multiplies the base price during its windows.
type SurgeSpec struct {
	Windows []TimeWindow `json:"timeWindows"`
}

func (TimingSpec) Kind() RuleKind   { return RuleKindTiming }
func (DurationSpec) Kind() RuleKind { return RuleKindDuration }
func (SurgeSpec) Kind() RuleKind    { return RuleKindSurge }

func (TimingSpec) isRuleSpec()   {}
func (DurationSpec) isRuleSpec() {}
func (SurgeSpec) isRuleSpec()    {}

// PricingRule is a ratesheet: the shared envelope plus a kind-specific Spec.
type PricingRule struct {
	ID                 string
	Name               string
	AppliesTo          AppliesTo
	Priority           int
	ConflictResolution ConflictResolution
	EffectiveFrom      time.Time
	EffectiveTo        *time.Time
	ApprovalStatus     ApprovalStatus
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	// SurgeConfigID is set on rules produced by the surge materializer.
	SurgeConfigID string
	Spec          RuleSpec
}

// Kind returns the kind of the rule's spec, or "" if it has none.
func (r PricingRule) Kind() RuleKind {
	if r.Spec == nil {
		return ""
	}
	return r.Spec.Kind()
}

// IsEligible reports whether the rule may affect live pricing.
func (r PricingRule) IsEligible() bool {
	return r.IsActive && r.ApprovalStatus == StatusApproved
}

// Overlaps reports whether the rule's effective range touches [start, end].
func (r PricingRule) Overlaps(start, end time.Time) bool {
	if r.EffectiveFrom.After(end) {
		return false
	}
	return r.EffectiveTo == nil || !r.EffectiveTo.Before(start)
}

// ActiveDuring reports whether the rule is in effect at any point of the
// half-open slot [start, end).
func (r PricingRule) ActiveDuring(start, end time.Time) bool {
	if !r.EffectiveFrom.Before(end) {
		return false
	}
	return r.EffectiveTo == nil || r.EffectiveTo.After(start)
}

// Validate checks the structural integrity of a rule. Rules failing
// validation are excluded from pricing rather than failing a request.
func (r PricingRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if !r.AppliesTo.Level.IsValid() {
		return fmt.Errorf("unknown level %q", r.AppliesTo.Level)
	}
	if r.EffectiveTo != nil && r.EffectiveTo.Before(r.EffectiveFrom) {
		return fmt.Errorf("effective range inverted: %s > %s",
			r.EffectiveFrom.Format(time.RFC3339), r.EffectiveTo.Format(time.RFC3339))
	}

	switch spec := r.Spec.(type) {
	case TimingSpec:
		return validateWindows(spec.Windows, true)
	case DurationSpec:
		if len(spec.Tiers) == 0 {
			return fmt.Errorf("duration rule has no tiers")
		}
		for i, tier := range spec.Tiers {
			if tier.MinHours < 0 || (tier.MaxHours != 0 && tier.MaxHours < tier.MinHours) {
				return fmt.Errorf("tier %d has invalid bounds", i)
			}
		}
		return validateWindows(spec.Windows, false)
	case SurgeSpec:
		return validateWindows(spec.Windows, true)
	case nil:
		return fmt.Errorf("rule has no spec")
	default:
		return fmt.Errorf("unsupported spec %T", spec)
	}
}

func validateWindows(windows []TimeWindow, required bool) error {
	if required && len(windows) == 0 {
		return fmt.Errorf("rule has no time windows")
	}
	for i, w := range windows {
		if _, err := ParseClock(w.StartTime); err != nil {
			return fmt.Errorf("window %d start: %w", i, err)
		}
		if _, err := ParseClock(w.EndTime); err != nil {
			return fmt.Errorf("window %d end: %w", i, err)
		}
	}
	return nil
}

// ruleDocument is the persisted/JSON shape of a rule.
type ruleDocument struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Kind               RuleKind           `json:"kind"`
	AppliesTo          AppliesTo          `json:"appliesTo"`
	Priority           int                `json:"priority"`
	ConflictResolution ConflictResolution `json:"conflictResolution,omitempty"`
	EffectiveFrom      time.Time          `json:"effectiveFrom"`
	EffectiveTo        *time.Time         `json:"effectiveTo,omitempty"`
	ApprovalStatus     ApprovalStatus     `json:"approvalStatus"`
	IsActive           bool               `json:"isActive"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	SurgeConfigID      string             `json:"surgeConfigId,omitempty"`
	Spec               json.RawMessage    `json:"spec"`
}

// MarshalJSON encodes the rule with a kind discriminator.
func (r PricingRule) MarshalJSON() ([]byte, error) {
	var spec json.RawMessage
	if r.Spec != nil {
		raw, err := json.Marshal(r.Spec)
		if err != nil {
			return nil, err
		}
		spec = raw
	}
	return json.Marshal(ruleDocument{
		ID:                 r.ID,
		Name:               r.Name,
		Kind:               r.Kind(),
		AppliesTo:          r.AppliesTo,
		Priority:           r.Priority,
		ConflictResolution: r.ConflictResolution,
		EffectiveFrom:      r.EffectiveFrom,
		EffectiveTo:        r.EffectiveTo,
		ApprovalStatus:     r.ApprovalStatus,
		IsActive:           r.IsActive,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		SurgeConfigID:      r.SurgeConfigID,
		Spec:               spec,
	})
}

// UnmarshalJSON decodes the spec according to the kind discriminator.
func (r *PricingRule) UnmarshalJSON(data []byte) error {
	var doc ruleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var spec RuleSpec
	switch doc.Kind {
	case RuleKindTiming:
		var s TimingSpec
		if err := unmarshalSpec(doc.Spec, &s); err != nil {
			return err
		}
		spec = s
	case RuleKindDuration:
		var s DurationSpec
		if err := unmarshalSpec(doc.Spec, &s); err != nil {
			return err
		}
		spec = s
	case RuleKindSurge:
		var s SurgeSpec
		if err := unmarshalSpec(doc.Spec, &s); err != nil {
			return err
		}
		spec = s
	default:
		return fmt.Errorf("unknown rule kind %q", doc.Kind)
	}

	*r = PricingRule{
		ID:                 doc.ID,
		Name:               doc.Name,
		AppliesTo:          doc.AppliesTo,
		Priority:           doc.Priority,
		ConflictResolution: doc.ConflictResolution,
		EffectiveFrom:      doc.EffectiveFrom,
		EffectiveTo:        doc.EffectiveTo,
		ApprovalStatus:     doc.ApprovalStatus,
		IsActive:           doc.IsActive,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
		SurgeConfigID:      doc.SurgeConfigID,
		Spec:               spec,
	}
	return nil
}

func unmarshalSpec(raw json.RawMessage, dest any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode rule spec: %w", err)
	}
	return nil
}
