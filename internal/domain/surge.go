package domain

import (
	"fmt"
	"time"
)

// DemandSupplyParams is the demand snapshot a surge config is evaluated on.
type DemandSupplyParams struct {
	CurrentDemand         float64 `json:"currentDemand"`
	CurrentSupply         float64 `json:"currentSupply"`
	HistoricalAvgPressure float64 `json:"historicalAvgPressure"`
}

// SurgeParams tunes the surge curve.
type SurgeParams struct {
	Alpha         float64 `json:"alpha"`
	MinMultiplier float64 `json:"minMultiplier"`
	MaxMultiplier float64 `json:"maxMultiplier"`
	EMAAlpha      float64 `json:"emaAlpha"`
}

// SurgeConfig drives materialization of surge rules for one entity.
type SurgeConfig struct {
	ID                      string             `json:"id"`
	Name                    string             `json:"name"`
	AppliesTo               AppliesTo          `json:"appliesTo"`
	Priority                int                `json:"priority"`
	IsActive                bool               `json:"isActive"`
	EffectiveFrom           time.Time          `json:"effectiveFrom"`
	EffectiveTo             *time.Time         `json:"effectiveTo,omitempty"`
	Timezone                string             `json:"timezone,omitempty"`
	DemandSupplyParams      DemandSupplyParams `json:"demandSupplyParams"`
	SurgeParams             SurgeParams        `json:"surgeParams"`
	TimeWindows             []TimeWindow       `json:"timeWindows,omitempty"`
	SurgeDurationHours      int                `json:"surgeDurationHours,omitempty"`
	MaterializedRatesheetID string             `json:"materializedRatesheetId,omitempty"`
	LastSmoothedPressure    *float64           `json:"lastSmoothedPressure,omitempty"`
	CreatedAt               time.Time          `json:"createdAt"`
	UpdatedAt               time.Time          `json:"updatedAt"`
}

// SurgePriorityOffset lifts materialized surge rules above every hand-authored
// rule at the same level.
const SurgePriorityOffset = 10000

// Location resolves the configured timezone, defaulting to UTC.
func (c SurgeConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the tuning parameters.
func (c SurgeConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("surge config id is required")
	}
	if !c.AppliesTo.Level.IsValid() {
		return fmt.Errorf("unknown level %q", c.AppliesTo.Level)
	}
	p := c.SurgeParams
	if p.MinMultiplier <= 0 || p.MaxMultiplier < p.MinMultiplier {
		return fmt.Errorf("multiplier bounds invalid: [%g, %g]", p.MinMultiplier, p.MaxMultiplier)
	}
	if p.EMAAlpha < 0 || p.EMAAlpha > 1 {
		return fmt.Errorf("emaAlpha must be within [0, 1]")
	}
	if c.SurgeDurationHours < 0 {
		return fmt.Errorf("surgeDurationHours must be non-negative")
	}
	return validateWindows(c.TimeWindows, false)
}
