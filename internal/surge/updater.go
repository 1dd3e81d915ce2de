package surge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/repository"
)

// Updater feeds demand observations into the surge configs that cover the
// observed sub-location and materializes a predictive surge rule for each.
type Updater struct {
	configs      repository.SurgeConfigRepository
	directory    repository.EntityDirectory
	materializer *Materializer
	logger       *zap.Logger
}

// NewUpdater creates a new observation-driven surge updater
func NewUpdater(configs repository.SurgeConfigRepository, directory repository.EntityDirectory, materializer *Materializer, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		configs:      configs,
		directory:    directory,
		materializer: materializer,
		logger:       logger,
	}
}

// HandleObservation refreshes the demand snapshot of every matching active
// config and materializes it. Configs whose surge does not apply are skipped.
// Failures on one config do not stop the others.
func (u *Updater) HandleObservation(ctx context.Context, obs domain.DemandObservation) ([]*Outcome, error) {
	targets := u.targets(ctx, obs)
	configs, err := u.configs.Find(ctx, repository.SurgeConfigFilter{
		Targets:    targets,
		ActiveOnly: true,
		At:         obs.HourStart,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load surge configs: %w", err)
	}

	params := domain.DemandSupplyParams{
		CurrentDemand:         float64(obs.BookingsCount),
		CurrentSupply:         float64(obs.AvailableCapacity) / 100,
		HistoricalAvgPressure: obs.HistoricalAvgPressure,
	}

	var outcomes []*Outcome
	var errs []error
	for _, cfg := range configs {
		if !coversHour(cfg, obs) {
			continue
		}

		if _, err := u.configs.UpdateOne(ctx, cfg.ID, repository.SurgeConfigUpdate{
			DemandSupplyParams: &params,
			UpdatedAt:          obs.EmittedAt,
		}); err != nil {
			errs = append(errs, fmt.Errorf("surge config %s: %w", cfg.ID, err))
			continue
		}

		outcome, err := u.materializer.Materialize(ctx, Request{
			ConfigID:  cfg.ID,
			Mode:      ModePredictive,
			HourStart: obs.HourStart,
		})
		if errors.Is(err, ErrSurgeNotApplicable) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("surge config %s: %w", cfg.ID, err))
			continue
		}
		outcomes = append(outcomes, outcome)
	}

	if len(errs) > 0 {
		u.logger.Error("Surge update partially failed",
			zap.String("sub_location_id", obs.SubLocationID),
			zap.Int("failed", len(errs)),
			zap.Int("materialized", len(outcomes)))
	}
	return outcomes, errors.Join(errs...)
}

// targets lists the hierarchy entities a config may bind to for the
// observation. Event-level configs are not driven by sub-location demand.
func (u *Updater) targets(ctx context.Context, obs domain.DemandObservation) []domain.AppliesTo {
	profile, err := u.directory.SubLocation(ctx, obs.SubLocationID)
	if err != nil {
		u.logger.Warn("Sub-location lookup failed, matching on observation ids only",
			zap.String("sub_location_id", obs.SubLocationID),
			zap.Error(err))
		targets := []domain.AppliesTo{{Level: domain.LevelSubLocation, EntityID: obs.SubLocationID}}
		if obs.LocationID != "" {
			targets = append(targets, domain.AppliesTo{Level: domain.LevelLocation, EntityID: obs.LocationID})
		}
		return targets
	}
	profile.Chain.EventID = ""
	return profile.Targets()
}

// coversHour applies the config's optional day/time restriction to the
// observed hour in the config's timezone.
func coversHour(cfg domain.SurgeConfig, obs domain.DemandObservation) bool {
	if len(cfg.TimeWindows) == 0 {
		return true
	}
	loc, err := cfg.Location()
	if err != nil {
		return false
	}
	local := obs.HourStart.In(loc)
	for _, w := range cfg.TimeWindows {
		if ok, err := w.Covers(local); err == nil && ok {
			return true
		}
	}
	return false
}
