package surge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/audit"
	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/metrics"
	"github.com/venue-app/pricingservice/internal/repository"
	"github.com/venue-app/pricingservice/internal/retry"
	"github.com/venue-app/pricingservice/internal/tracing"
)

// ErrSurgeNotApplicable is returned when the config's demand snapshot yields
// no applied factor. Nothing is written in that case.
var ErrSurgeNotApplicable = domain.NewInvalidStateError("surge not applicable", "demand snapshot yields no surge factor")

// Actor recorded on rules the materializer supersedes.
const materializerActor = "surge-materializer"

// Mode selects how the surge rule's schedule is derived.
type Mode string

const (
	// ModePredictive covers the hours right after the observed hour.
	ModePredictive Mode = "predictive"
	// ModeStatic reuses the config's own time windows.
	ModeStatic Mode = "static"
)

// Superseder retires a DRAFT or APPROVED rule
type Superseder interface {
	Supersede(ctx context.Context, ruleID, actor string) (domain.PricingRule, error)
}

// Request asks for one surge rule to be materialized
type Request struct {
	ConfigID string
	Mode     Mode
	// HourStart is the observed hour in predictive mode; zero means the
	// current hour.
	HourStart time.Time
}

// Outcome describes a materialized surge rule
type Outcome struct {
	Rule       domain.PricingRule `json:"rule"`
	Result     Result             `json:"calculation"`
	Superseded []string           `json:"supersededRuleIds"`
}

// MaterializerConfig holds materializer defaults
type MaterializerConfig struct {
	DefaultDurationHours int
	Retry                retry.Config
}

// Materializer turns a surge config's demand snapshot into a DRAFT surge
// rule awaiting approval.
type Materializer struct {
	configs    repository.SurgeConfigRepository
	rules      repository.RuleRepository
	superseder Superseder
	audit      *audit.Manager
	logger     *zap.Logger
	config     MaterializerConfig
	now        func() time.Time
}

// NewMaterializer creates a surge materializer. auditor may be nil.
func NewMaterializer(
	configs repository.SurgeConfigRepository,
	rules repository.RuleRepository,
	superseder Superseder,
	auditor *audit.Manager,
	logger *zap.Logger,
	config MaterializerConfig,
) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultDurationHours <= 0 {
		config.DefaultDurationHours = 1
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.DefaultConfig()
	}
	return &Materializer{
		configs:    configs,
		rules:      rules,
		superseder: superseder,
		audit:      auditor,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// Materialize computes the surge factor for a config, supersedes the
// config's current and future surge rules and stores a fresh DRAFT rule.
func (m *Materializer) Materialize(ctx context.Context, req Request) (_ *Outcome, err error) {
	if req.Mode == "" {
		req.Mode = ModePredictive
	}
	ctx, span := tracing.StartSpan(ctx, "surge.materialize",
		attribute.String("surge_config_id", req.ConfigID),
		attribute.String("mode", string(req.Mode)))
	defer func() { tracing.EndSpan(span, err) }()

	outcome, err := m.materialize(ctx, req)
	switch {
	case err == nil:
		metrics.RecordMaterialization(string(req.Mode), "success", outcome.Result.SurgeFactor)
	case errors.Is(err, ErrSurgeNotApplicable):
		metrics.RecordMaterialization(string(req.Mode), "not_applicable", 0)
	default:
		metrics.RecordMaterialization(string(req.Mode), "error", 0)
	}
	return outcome, err
}

func (m *Materializer) materialize(ctx context.Context, req Request) (*Outcome, error) {
	cfg, err := m.configs.Get(ctx, req.ConfigID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewNotFoundError("surge config", req.ConfigID)
		}
		return nil, fmt.Errorf("failed to load surge config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.NewInvalidInputError("invalid surge config", err.Error())
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, domain.NewInvalidInputError("invalid surge config", err.Error())
	}

	if reason := unusableSnapshot(cfg); reason != "" {
		m.logger.Info("Surge not applicable",
			zap.String("surge_config_id", cfg.ID),
			zap.String("reason", reason),
			zap.Float64("demand", cfg.DemandSupplyParams.CurrentDemand),
			zap.Float64("supply", cfg.DemandSupplyParams.CurrentSupply))
		return nil, ErrSurgeNotApplicable
	}

	result := Calculate(Input{
		Demand:                cfg.DemandSupplyParams.CurrentDemand,
		Supply:                cfg.DemandSupplyParams.CurrentSupply,
		HistoricalAvgPressure: cfg.DemandSupplyParams.HistoricalAvgPressure,
		Alpha:                 cfg.SurgeParams.Alpha,
		MinMultiplier:         cfg.SurgeParams.MinMultiplier,
		MaxMultiplier:         cfg.SurgeParams.MaxMultiplier,
		EMAAlpha:              cfg.SurgeParams.EMAAlpha,
		PreviousSmoothed:      cfg.LastSmoothedPressure,
	})
	if !result.Applied || !finite(result.RawFactor) || result.SmoothedPressure <= 0 {
		m.logger.Info("Surge not applicable",
			zap.String("surge_config_id", cfg.ID),
			zap.Bool("applied", result.Applied),
			zap.Float64("smoothed_pressure", result.SmoothedPressure))
		return nil, ErrSurgeNotApplicable
	}

	now := m.now().UTC()
	rule := domain.PricingRule{
		ID:                 uuid.NewString(),
		Name:               fmt.Sprintf("%s surge x%.2f", cfg.Name, result.SurgeFactor),
		AppliesTo:          cfg.AppliesTo,
		Priority:           domain.SurgePriorityOffset + cfg.Priority,
		ConflictResolution: domain.ConflictPriority,
		ApprovalStatus:     domain.StatusDraft,
		IsActive:           false,
		CreatedAt:          now,
		UpdatedAt:          now,
		SurgeConfigID:      cfg.ID,
	}

	switch req.Mode {
	case ModePredictive:
		m.schedulePredictive(&rule, cfg, req.HourStart, now, loc, result.SurgeFactor)
	case ModeStatic:
		scheduleStatic(&rule, cfg, now, result.SurgeFactor)
	default:
		return nil, domain.NewInvalidInputError("unknown materialization mode", string(req.Mode))
	}
	if rule.EffectiveTo != nil && !rule.EffectiveTo.After(rule.EffectiveFrom) {
		return nil, domain.NewInvalidStateError("surge config has expired", cfg.ID)
	}

	superseded, err := m.supersede(ctx, cfg.ID, now)
	if err != nil {
		return nil, err
	}

	err = retry.Do(ctx, m.config.Retry, m.logger, func() error {
		if err := m.rules.InsertOne(ctx, rule); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store surge rule: %w", err)
	}

	smoothed := result.SmoothedPressure
	err = retry.Do(ctx, m.config.Retry, m.logger, func() error {
		_, err := m.configs.UpdateOne(ctx, cfg.ID, repository.SurgeConfigUpdate{
			MaterializedRatesheetID: &rule.ID,
			LastSmoothedPressure:    &smoothed,
			UpdatedAt:               now,
		})
		if errors.Is(err, repository.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update surge config: %w", err)
	}

	if m.audit != nil {
		if err := m.audit.LogMaterialization(ctx, cfg.ID, rule.ID, result.SurgeFactor, superseded); err != nil {
			m.logger.Error("Failed to write audit event", zap.String("surge_config_id", cfg.ID), zap.Error(err))
		}
	}
	m.logger.Info("Materialized surge rule",
		zap.String("surge_config_id", cfg.ID),
		zap.String("rule_id", rule.ID),
		zap.Float64("surge_factor", result.SurgeFactor),
		zap.Float64("smoothed_pressure", result.SmoothedPressure),
		zap.Strings("superseded", superseded))

	return &Outcome{Rule: rule, Result: result, Superseded: superseded}, nil
}

// unusableSnapshot reports why a config's demand snapshot cannot produce a
// factor. ln needs a positive smoothed pressure, so demand, supply and any
// carried smoothing state must be positive.
func unusableSnapshot(cfg domain.SurgeConfig) string {
	p := cfg.DemandSupplyParams
	switch {
	case p.CurrentSupply <= 0:
		return "no supply"
	case p.CurrentDemand <= 0:
		return "no demand"
	case p.HistoricalAvgPressure < 0:
		return "negative historical pressure"
	case cfg.LastSmoothedPressure != nil && *cfg.LastSmoothedPressure <= 0:
		return "non-positive smoothed pressure"
	}
	return ""
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// schedulePredictive covers [hourStart+1h, hourStart+1h+duration).
func (m *Materializer) schedulePredictive(rule *domain.PricingRule, cfg domain.SurgeConfig, hourStart, now time.Time, loc *time.Location, factor float64) {
	if hourStart.IsZero() {
		hourStart = now
	}
	hours := cfg.SurgeDurationHours
	if hours <= 0 {
		hours = m.config.DefaultDurationHours
	}
	start := hourStart.UTC().Truncate(time.Hour).Add(time.Hour)
	end := start.Add(time.Duration(hours) * time.Hour)

	localStart, localEnd := start.In(loc), end.In(loc)
	rule.EffectiveFrom = start
	rule.EffectiveTo = &end
	rule.Spec = domain.SurgeSpec{Windows: []domain.TimeWindow{{
		StartTime: domain.FormatClock(localStart.Hour()*60 + localStart.Minute()),
		EndTime:   domain.FormatClock(localEnd.Hour()*60 + localEnd.Minute()),
		Value:     factor,
	}}}
}

// scheduleStatic reuses the config's windows from now until the config ends.
func scheduleStatic(rule *domain.PricingRule, cfg domain.SurgeConfig, now time.Time, factor float64) {
	windows := make([]domain.TimeWindow, 0, len(cfg.TimeWindows))
	for _, w := range cfg.TimeWindows {
		w.Value = factor
		windows = append(windows, w)
	}
	if len(windows) == 0 {
		windows = append(windows, domain.TimeWindow{StartTime: "00:00", EndTime: "24:00", Value: factor})
	}

	rule.EffectiveFrom = now
	if cfg.EffectiveFrom.After(now) {
		rule.EffectiveFrom = cfg.EffectiveFrom
	}
	if cfg.EffectiveTo != nil {
		end := *cfg.EffectiveTo
		rule.EffectiveTo = &end
	}
	rule.Spec = domain.SurgeSpec{Windows: windows}
}

// supersede retires the config's DRAFT and APPROVED rules that are still in
// effect or start later. Open-ended rules count as future.
func (m *Materializer) supersede(ctx context.Context, configID string, now time.Time) ([]string, error) {
	current, err := m.rules.Find(ctx, repository.RuleFilter{
		SurgeConfigID: configID,
		Statuses:      []domain.ApprovalStatus{domain.StatusDraft, domain.StatusApproved},
		EndsAfter:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load surge rules: %w", err)
	}

	superseded := make([]string, 0, len(current))
	for _, r := range current {
		if _, err := m.superseder.Supersede(ctx, r.ID, materializerActor); err != nil {
			if domain.IsCode(err, domain.ErrCodeInvalidState) || domain.IsCode(err, domain.ErrCodeNotFound) {
				// already moved on by someone else
				m.logger.Warn("Skipping supersession",
					zap.String("rule_id", r.ID),
					zap.Error(err))
				continue
			}
			return superseded, fmt.Errorf("failed to supersede rule %s: %w", r.ID, err)
		}
		superseded = append(superseded, r.ID)
	}
	return superseded, nil
}
