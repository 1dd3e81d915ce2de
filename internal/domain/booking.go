package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityChain identifies a booking's position in the hierarchy.
type EntityChain struct {
	CustomerID    string `json:"customerId"`
	LocationID    string `json:"locationId"`
	SubLocationID string `json:"subLocationId"`
	EventID       string `json:"eventId,omitempty"`
}

// EntityFor returns the chain's entity id at the given level.
func (c EntityChain) EntityFor(level Level) string {
	switch level {
	case LevelCustomer:
		return c.CustomerID
	case LevelLocation:
		return c.LocationID
	case LevelSubLocation:
		return c.SubLocationID
	case LevelEvent:
		return c.EventID
	default:
		return ""
	}
}

// EventWindow is an event's core window plus grace periods.
type EventWindow struct {
	EventID                  string    `json:"eventId"`
	Start                    time.Time `json:"start"`
	End                      time.Time `json:"end"`
	GracePeriodBeforeMinutes int       `json:"gracePeriodBeforeMinutes"`
	GracePeriodAfterMinutes  int       `json:"gracePeriodAfterMinutes"`
}

// EffectiveStart is the start of the event including its leading grace period.
func (e EventWindow) EffectiveStart() time.Time {
	return e.Start.Add(-time.Duration(e.GracePeriodBeforeMinutes) * time.Minute)
}

// EffectiveEnd is the end of the event including its trailing grace period.
func (e EventWindow) EffectiveEnd() time.Time {
	return e.End.Add(time.Duration(e.GracePeriodAfterMinutes) * time.Minute)
}

// Contains reports whether t falls in the effective window.
func (e EventWindow) Contains(t time.Time) bool {
	return !t.Before(e.EffectiveStart()) && t.Before(e.EffectiveEnd())
}

// InGrace reports whether t falls in a grace period but outside the core window.
func (e EventWindow) InGrace(t time.Time) bool {
	if !e.Contains(t) {
		return false
	}
	return t.Before(e.Start) || !t.Before(e.End)
}

// DefaultRates are the ancestors' configured hourly fallbacks.
type DefaultRates struct {
	SubLocation *decimal.Decimal `json:"subLocation,omitempty"`
	Location    *decimal.Decimal `json:"location,omitempty"`
	Customer    *decimal.Decimal `json:"customer,omitempty"`
}

// BookingContext is the input to hourly resolution. The interval is half-open.
type BookingContext struct {
	Start          time.Time
	End            time.Time
	Timezone       string
	Chain          EntityChain
	IsEventBooking bool
	IncludeSurge   bool
	// Events lists events at the sub-location that overlap the booking.
	Events   []EventWindow
	Defaults DefaultRates
}

// Candidates groups candidate rules by the level they were fetched for.
type Candidates struct {
	Customer    []PricingRule
	Location    []PricingRule
	SubLocation []PricingRule
	Event       []PricingRule
}

// All flattens the candidates in hierarchy order, preserving input order.
func (c Candidates) All() []PricingRule {
	out := make([]PricingRule, 0, len(c.Customer)+len(c.Location)+len(c.SubLocation)+len(c.Event))
	out = append(out, c.Event...)
	out = append(out, c.SubLocation...)
	out = append(out, c.Location...)
	out = append(out, c.Customer...)
	return out
}

// GroupCandidates buckets rules by their target level. Rules with an unknown
// level are dropped.
func GroupCandidates(rules []PricingRule) Candidates {
	var c Candidates
	for _, r := range rules {
		switch r.AppliesTo.Level {
		case LevelCustomer:
			c.Customer = append(c.Customer, r)
		case LevelLocation:
			c.Location = append(c.Location, r)
		case LevelSubLocation:
			c.SubLocation = append(c.SubLocation, r)
		case LevelEvent:
			c.Event = append(c.Event, r)
		}
	}
	return c
}

// Segment is one priced hour slot.
type Segment struct {
	HourStart     time.Time       `json:"hourStart"`
	HourEnd       time.Time       `json:"hourEnd"`
	PricePerHour  decimal.Decimal `json:"pricePerHour"`
	WinningRuleID *string         `json:"winningRuleId"`
	SurgeRuleID   *string         `json:"surgeRuleId,omitempty"`
	Multiplier    *float64        `json:"multiplier,omitempty"`
}

// RuleRef is a compact reference to a rule in a decision record.
type RuleRef struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Kind     RuleKind `json:"kind"`
	Level    Level    `json:"level"`
	Priority int      `json:"priority"`
}

// RefOf builds a RuleRef for r.
func RefOf(r PricingRule) RuleRef {
	return RuleRef{ID: r.ID, Name: r.Name, Kind: r.Kind(), Level: r.AppliesTo.Level, Priority: r.Priority}
}

// Rejection explains why a rule did not win a slot.
type Rejection struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
}

// DecisionRecord is the audit trail for one slot.
type DecisionRecord struct {
	SlotStart    time.Time   `json:"slotStart"`
	SlotEnd      time.Time   `json:"slotEnd"`
	Candidates   []RuleRef   `json:"candidateRules"`
	Winner       *RuleRef    `json:"winner,omitempty"`
	WinnerReason string      `json:"winnerReason"`
	Rejected     []Rejection `json:"rejectedRules,omitempty"`
	SurgeRuleID  string      `json:"surgeRuleId,omitempty"`
	Multiplier   *float64    `json:"multiplier,omitempty"`
	Clamped      bool        `json:"clamped,omitempty"`
}

// Quote is the priced timeline for a booking.
type Quote struct {
	Segments    []Segment        `json:"segments"`
	TotalHours  int              `json:"totalHours"`
	TotalPrice  decimal.Decimal  `json:"totalPrice"`
	DecisionLog []DecisionRecord `json:"decisionLog"`
}
