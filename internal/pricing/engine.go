package pricing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/surge"
)

// Winner reasons recorded in decision records.
const (
	ReasonLevelPriority      = "level_priority"
	ReasonCreationOrder      = "creation_order"
	ReasonHighestPrice       = "highest_price"
	ReasonLowestPrice        = "lowest_price"
	ReasonSurgeMultiplier    = "surge_multiplier"
	ReasonDefaultSubLocation = "default_sublocation"
	ReasonDefaultLocation    = "default_location"
	ReasonDefaultCustomer    = "default_customer"
	ReasonNoRate             = "no_rate_configured"
)

// Rejection reasons recorded in decision records.
const (
	RejectMalformed       = "malformed"
	RejectIneligible      = "not_approved_or_inactive"
	RejectEntityMismatch  = "entity_mismatch"
	RejectSurgeExcluded   = "surge_excluded"
	RejectNotEffective    = "not_effective"
	RejectOutsideWindow   = "outside_time_window"
	RejectOutsideEvent    = "outside_event_window"
	RejectNoDurationTier  = "no_duration_tier"
	RejectGraceSuppressed = "grace_suppressed"
	RejectOutranked       = "outranked"
)

// Engine resolves one price per hour slot from competing rules. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a new hourly pricing engine
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// prepared is a rule that passed the booking-wide checks.
type prepared struct {
	rule  domain.PricingRule
	order int
	event *domain.EventWindow
}

// match is a rule that covers a specific slot.
type match struct {
	*prepared
	value float64
	grace bool
}

// Resolve prices every hour slot of the booking. Business-rule gaps never
// fail: they fall back to ancestor defaults. Only malformed booking input is
// returned as an error.
func (e *Engine) Resolve(booking domain.BookingContext, rules domain.Candidates) (*domain.Quote, error) {
	loc, err := validateBooking(booking)
	if err != nil {
		return nil, err
	}

	eligible, excluded := e.prepare(booking, rules.All())
	bookedHours := booking.End.Sub(booking.Start).Hours()

	quote := &domain.Quote{
		Segments:    []domain.Segment{},
		TotalPrice:  decimal.Zero,
		DecisionLog: []domain.DecisionRecord{},
	}

	for slotStart := booking.Start; slotStart.Before(booking.End); slotStart = slotStart.Add(time.Hour) {
		slotEnd := slotStart.Add(time.Hour)
		if slotEnd.After(booking.End) {
			slotEnd = booking.End
		}

		record := domain.DecisionRecord{
			SlotStart: slotStart,
			SlotEnd:   slotEnd,
			Rejected:  append([]domain.Rejection(nil), excluded...),
		}

		price, finite, winner := e.resolveSlot(booking, eligible, slotStart, slotEnd, slotStart.In(loc), bookedHours, &record)

		if !finite || price.IsNegative() {
			price = decimal.Zero
			record.Clamped = true
			e.logger.Warn("Clamped invalid slot price to zero",
				zap.Time("slot_start", slotStart),
				zap.String("sub_location_id", booking.Chain.SubLocationID))
		}
		price = price.Round(2)

		segment := domain.Segment{
			HourStart:    slotStart,
			HourEnd:      slotEnd,
			PricePerHour: price,
		}
		if winner != nil {
			id := winner.ID
			segment.WinningRuleID = &id
			ref := domain.RefOf(*winner)
			record.Winner = &ref
		}
		if record.SurgeRuleID != "" {
			id := record.SurgeRuleID
			segment.SurgeRuleID = &id
			segment.Multiplier = record.Multiplier
		}

		quote.Segments = append(quote.Segments, segment)
		quote.DecisionLog = append(quote.DecisionLog, record)
		quote.TotalPrice = quote.TotalPrice.Add(price)
	}

	quote.TotalHours = len(quote.Segments)
	return quote, nil
}

func validateBooking(booking domain.BookingContext) (*time.Location, error) {
	if booking.Start.IsZero() || booking.End.IsZero() {
		return nil, domain.NewInvalidInputError("start and end are required", "")
	}
	if !booking.End.After(booking.Start) {
		return nil, domain.NewInvalidInputError("end must be after start",
			fmt.Sprintf("start=%s end=%s", booking.Start.Format(time.RFC3339), booking.End.Format(time.RFC3339)))
	}
	if booking.Chain.SubLocationID == "" {
		return nil, domain.NewInvalidInputError("subLocationId is required", "")
	}
	if booking.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(booking.Timezone)
	if err != nil {
		return nil, domain.NewInvalidInputError("unknown timezone", booking.Timezone)
	}
	return loc, nil
}

// prepare applies the checks that do not depend on the slot and returns the
// survivors in input order together with the rejections.
func (e *Engine) prepare(booking domain.BookingContext, rules []domain.PricingRule) ([]*prepared, []domain.Rejection) {
	events := make(map[string]*domain.EventWindow, len(booking.Events))
	for i := range booking.Events {
		events[booking.Events[i].EventID] = &booking.Events[i]
	}

	var out []*prepared
	var rejected []domain.Rejection
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			e.logger.Warn("Excluding malformed pricing rule",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			rejected = append(rejected, domain.Rejection{RuleID: rule.ID, Reason: RejectMalformed + ": " + err.Error()})
			continue
		}
		if !rule.IsEligible() {
			rejected = append(rejected, domain.Rejection{RuleID: rule.ID, Reason: RejectIneligible})
			continue
		}
		if rule.Kind() == domain.RuleKindSurge && !booking.IncludeSurge {
			rejected = append(rejected, domain.Rejection{RuleID: rule.ID, Reason: RejectSurgeExcluded})
			continue
		}

		p := &prepared{rule: rule, order: i}
		if rule.AppliesTo.Level == domain.LevelEvent {
			// A booking for one event is never priced by another event's rules.
			ownEvent := booking.Chain.EventID
			ev, known := events[rule.AppliesTo.EntityID]
			if (ownEvent != "" && rule.AppliesTo.EntityID != ownEvent) || (!known && rule.AppliesTo.EntityID != ownEvent) {
				rejected = append(rejected, domain.Rejection{RuleID: rule.ID, Reason: RejectEntityMismatch})
				continue
			}
			p.event = ev
		} else if booking.Chain.EntityFor(rule.AppliesTo.Level) != rule.AppliesTo.EntityID {
			rejected = append(rejected, domain.Rejection{RuleID: rule.ID, Reason: RejectEntityMismatch})
			continue
		}
		out = append(out, p)
	}
	return out, rejected
}

func (e *Engine) resolveSlot(
	booking domain.BookingContext,
	rules []*prepared,
	slotStart, slotEnd, local time.Time,
	bookedHours float64,
	record *domain.DecisionRecord,
) (decimal.Decimal, bool, *domain.PricingRule) {
	var matches []match
	for _, p := range rules {
		m, reason := matchSlot(p, slotStart, slotEnd, local, bookedHours)
		if reason != "" {
			record.Rejected = append(record.Rejected, domain.Rejection{RuleID: p.rule.ID, Reason: reason})
			continue
		}
		record.Candidates = append(record.Candidates, domain.RefOf(p.rule))
		if m.grace && !booking.IsEventBooking {
			record.Rejected = append(record.Rejected, domain.Rejection{RuleID: p.rule.ID, Reason: RejectGraceSuppressed})
			continue
		}
		matches = append(matches, m)
	}

	sortMatches(matches)

	var base, surges []match
	for _, m := range matches {
		if m.rule.Kind() == domain.RuleKindSurge {
			surges = append(surges, m)
		} else {
			base = append(base, m)
		}
	}

	basePrice, finite, baseWinner, baseReason := pickBase(base, booking.Defaults)

	if len(matches) > 0 && matches[0].rule.Kind() == domain.RuleKindSurge {
		top := matches[0]
		for _, m := range matches[1:] {
			if m.rule.ID != top.rule.ID && (baseWinner == nil || m.rule.ID != baseWinner.ID) {
				record.Rejected = append(record.Rejected, domain.Rejection{RuleID: m.rule.ID, Reason: RejectOutranked})
			}
		}
		multiplier := top.value
		record.SurgeRuleID = top.rule.ID
		record.Multiplier = &multiplier
		record.WinnerReason = ReasonSurgeMultiplier + "+" + baseReason

		if !finite || !isFinite(multiplier) {
			return decimal.Zero, false, baseWinner
		}
		return surge.ApplyFactor(basePrice, multiplier), true, baseWinner
	}

	for _, m := range surges {
		record.Rejected = append(record.Rejected, domain.Rejection{RuleID: m.rule.ID, Reason: RejectOutranked})
	}
	for _, m := range base {
		if baseWinner != nil && m.rule.ID != baseWinner.ID {
			record.Rejected = append(record.Rejected, domain.Rejection{RuleID: m.rule.ID, Reason: RejectOutranked})
		}
	}
	record.WinnerReason = baseReason
	return basePrice, finite, baseWinner
}

// matchSlot checks slot-dependent conditions. A non-empty reason means the
// rule does not cover the slot.
func matchSlot(p *prepared, slotStart, slotEnd, local time.Time, bookedHours float64) (match, string) {
	m := match{prepared: p}
	if !p.rule.ActiveDuring(slotStart, slotEnd) {
		return m, RejectNotEffective
	}
	if p.event != nil && !p.event.Contains(slotStart) {
		return m, RejectOutsideEvent
	}

	switch spec := p.rule.Spec.(type) {
	case domain.TimingSpec:
		w, ok := coveringWindow(spec.Windows, local)
		if !ok {
			return m, RejectOutsideWindow
		}
		m.value = w.Value
	case domain.SurgeSpec:
		w, ok := coveringWindow(spec.Windows, local)
		if !ok {
			return m, RejectOutsideWindow
		}
		m.value = w.Value
	case domain.DurationSpec:
		if len(spec.Windows) > 0 {
			if _, ok := coveringWindow(spec.Windows, local); !ok {
				return m, RejectOutsideWindow
			}
		}
		tier, ok := durationTier(spec.Tiers, bookedHours)
		if !ok {
			return m, RejectNoDurationTier
		}
		m.value = tier.PricePerHour
	}

	m.grace = p.event != nil && m.value == 0 &&
		p.rule.Kind() != domain.RuleKindSurge && p.event.InGrace(slotStart)
	return m, ""
}

func coveringWindow(windows []domain.TimeWindow, local time.Time) (domain.TimeWindow, bool) {
	for _, w := range windows {
		// Windows were validated in prepare, so Covers cannot fail here.
		if ok, err := w.Covers(local); err == nil && ok {
			return w, true
		}
	}
	return domain.TimeWindow{}, false
}

func durationTier(tiers []domain.DurationTier, hours float64) (domain.DurationTier, bool) {
	for _, t := range tiers {
		if hours >= t.MinHours && (t.MaxHours == 0 || hours <= t.MaxHours) {
			return t, true
		}
	}
	return domain.DurationTier{}, false
}

// sortMatches orders by level, then priority, then creation time, then
// input order. Earliest-created wins ties.
func sortMatches(matches []match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].rule, matches[j].rule
		if ra, rb := a.AppliesTo.Level.Rank(), b.AppliesTo.Level.Rank(); ra != rb {
			return ra > rb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return matches[i].order < matches[j].order
	})
}

// pickBase chooses the non-surge winner from sorted matches, falling back to
// ancestor defaults when there is none.
// The boolean result is false when the winning value is not a finite number.
func pickBase(sorted []match, defaults domain.DefaultRates) (decimal.Decimal, bool, *domain.PricingRule, string) {
	if len(sorted) == 0 {
		switch {
		case defaults.SubLocation != nil:
			return *defaults.SubLocation, true, nil, ReasonDefaultSubLocation
		case defaults.Location != nil:
			return *defaults.Location, true, nil, ReasonDefaultLocation
		case defaults.Customer != nil:
			return *defaults.Customer, true, nil, ReasonDefaultCustomer
		default:
			return decimal.Zero, true, nil, ReasonNoRate
		}
	}

	top := sorted[0]
	group := 1
	for group < len(sorted) &&
		sorted[group].rule.AppliesTo.Level == top.rule.AppliesTo.Level &&
		sorted[group].rule.Priority == top.rule.Priority {
		group++
	}

	chosen, reason := top, ReasonLevelPriority
	if group > 1 {
		reason = ReasonCreationOrder
		switch top.rule.ConflictResolution {
		case domain.ConflictHighestPrice:
			reason = ReasonHighestPrice
			for _, m := range sorted[1:group] {
				if m.value > chosen.value {
					chosen = m
				}
			}
		case domain.ConflictLowestPrice:
			reason = ReasonLowestPrice
			for _, m := range sorted[1:group] {
				if m.value < chosen.value {
					chosen = m
				}
			}
		}
	}

	rule := chosen.rule
	if !isFinite(chosen.value) {
		return decimal.Zero, false, &rule, reason
	}
	return decimal.NewFromFloat(chosen.value), true, &rule, reason
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
