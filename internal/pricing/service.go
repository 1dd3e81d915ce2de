package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/log"
	"github.com/venue-app/pricingservice/internal/metrics"
	"github.com/venue-app/pricingservice/internal/repository"
	"github.com/venue-app/pricingservice/internal/tracing"
)

// QuoteRequest asks for the hourly price of a booking
type QuoteRequest struct {
	SubLocationID  string    `json:"subLocationId"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	Timezone       string    `json:"timezone,omitempty"`
	EventID        string    `json:"eventId,omitempty"`
	IsEventBooking bool      `json:"isEventBooking"`
	// IncludeSurge defaults to true when omitted.
	IncludeSurge *bool `json:"includeSurge,omitempty"`
}

// Validate rejects requests that cannot be priced
func (r QuoteRequest) Validate() error {
	if strings.TrimSpace(r.SubLocationID) == "" {
		return domain.NewInvalidInputError("subLocationId is required", "")
	}
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return domain.NewInvalidInputError("startTime and endTime are required", "")
	}
	if !r.EndTime.After(r.StartTime) {
		return domain.NewInvalidInputError("endTime must be after startTime",
			fmt.Sprintf("startTime=%s endTime=%s", r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339)))
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return domain.NewInvalidInputError("unknown timezone", r.Timezone)
		}
	}
	return nil
}

// Service loads the candidates for a booking and resolves its price
type Service struct {
	engine    *Engine
	rules     repository.RuleRepository
	directory repository.EntityDirectory
	logger    *zap.Logger
}

// NewService creates a new pricing service
func NewService(engine *Engine, rules repository.RuleRepository, directory repository.EntityDirectory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:    engine,
		rules:     rules,
		directory: directory,
		logger:    logger,
	}
}

// Quote prices every hour of the requested booking. Only invalid input and
// unknown sub-locations fail; gaps in configured rules fall back to defaults.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (_ *domain.Quote, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "pricing.quote",
		attribute.String("sub_location_id", req.SubLocationID),
		attribute.Bool("event_booking", req.IsEventBooking))
	defer func() {
		tracing.EndSpan(span, err)
		metrics.RecordQuote(quoteOutcome(err), time.Since(start))
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	booking, err := s.bookingContext(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates, err := s.rules.Find(ctx, repository.RuleFilter{
		Targets:      targets(booking),
		From:         booking.Start,
		To:           booking.End,
		EligibleOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing rules: %w", err)
	}

	quote, err := s.engine.Resolve(booking, domain.GroupCandidates(candidates))
	if err != nil {
		return nil, err
	}

	for _, record := range quote.DecisionLog {
		metrics.RecordSlot(slotSource(record), record.Clamped)
	}
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("total_hours", quote.TotalHours))

	log.L(log.WithSubLocationID(ctx, req.SubLocationID)).Debug("Resolved booking price",
		zap.Int("candidates", len(candidates)),
		zap.Int("total_hours", quote.TotalHours),
		zap.String("total_price", quote.TotalPrice.StringFixed(2)))
	return quote, nil
}

func (s *Service) bookingContext(ctx context.Context, req QuoteRequest) (domain.BookingContext, error) {
	profile, err := s.directory.SubLocation(ctx, req.SubLocationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.BookingContext{}, domain.NewNotFoundError("sub-location", req.SubLocationID)
		}
		return domain.BookingContext{}, fmt.Errorf("failed to load sub-location: %w", err)
	}

	events, err := s.directory.Events(ctx, req.SubLocationID, req.StartTime, req.EndTime)
	if err != nil {
		return domain.BookingContext{}, fmt.Errorf("failed to load events: %w", err)
	}

	chain := profile.Chain
	chain.EventID = req.EventID

	timezone := req.Timezone
	if timezone == "" {
		timezone = profile.Timezone
	}
	includeSurge := true
	if req.IncludeSurge != nil {
		includeSurge = *req.IncludeSurge
	}

	return domain.BookingContext{
		Start:          req.StartTime,
		End:            req.EndTime,
		Timezone:       timezone,
		Chain:          chain,
		IsEventBooking: req.IsEventBooking,
		IncludeSurge:   includeSurge,
		Events:         events,
		Defaults:       profile.Defaults,
	}, nil
}

// targets lists the chain's entities. Bookings not tied to an event also
// see the rules of every event overlapping them, for grace handling.
func targets(booking domain.BookingContext) []domain.AppliesTo {
	out := domain.SubLocationProfile{Chain: booking.Chain}.Targets()
	if booking.Chain.EventID != "" {
		return out
	}
	for _, ev := range booking.Events {
		if ev.EventID == booking.Chain.EventID {
			continue
		}
		out = append(out, domain.AppliesTo{Level: domain.LevelEvent, EntityID: ev.EventID})
	}
	return out
}

func slotSource(record domain.DecisionRecord) string {
	switch {
	case record.SurgeRuleID != "":
		return "surge"
	case record.Winner != nil:
		return strings.ToLower(string(record.Winner.Kind))
	default:
		return record.WinnerReason
	}
}

func quoteOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if de := domain.GetDomainError(err); de != nil {
		return strings.ToLower(de.Code)
	}
	return "error"
}
