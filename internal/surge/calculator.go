package surge

import (
	"math"

	"github.com/shopspring/decimal"
)

// Input carries the demand snapshot and tuning parameters for one calculation.
type Input struct {
	Demand                float64
	Supply                float64
	HistoricalAvgPressure float64
	Alpha                 float64
	MinMultiplier         float64
	MaxMultiplier         float64
	EMAAlpha              float64
	// PreviousSmoothed is the last smoothed pressure; nil means cold start.
	PreviousSmoothed *float64
}

// Result is the outcome of a surge calculation.
type Result struct {
	SurgeFactor        float64 `json:"surge_factor"`
	Pressure           float64 `json:"pressure"`
	NormalizedPressure float64 `json:"normalized_pressure"`
	SmoothedPressure   float64 `json:"smoothed_pressure"`
	RawFactor          float64 `json:"raw_factor"`
	Applied            bool    `json:"applied"`
}

// Neutral is returned when no surge can be computed.
var Neutral = Result{SurgeFactor: 1.0}

// Calculate turns demand and supply into a bounded surge multiplier.
//
// Callers must pass positive demand, supply and historical pressure whenever
// they expect an applied factor; ln is undefined for non-positive smoothed
// pressure and this is not re-validated here.
func Calculate(in Input) Result {
	if in.Supply == 0 {
		return Neutral
	}

	historical := in.HistoricalAvgPressure
	if historical == 0 {
		historical = 1.0
	}

	pressure := in.Demand / in.Supply
	normalized := pressure / historical

	smoothed := normalized
	if in.PreviousSmoothed != nil {
		smoothed = in.EMAAlpha*normalized + (1-in.EMAAlpha)*(*in.PreviousSmoothed)
	}

	raw := 1 + in.Alpha*math.Log(smoothed)

	return Result{
		SurgeFactor:        clamp(raw, in.MinMultiplier, in.MaxMultiplier),
		Pressure:           pressure,
		NormalizedPressure: normalized,
		SmoothedPressure:   smoothed,
		RawFactor:          raw,
		Applied:            true,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyFactor composes a surge multiplier with a base price.
func ApplyFactor(price decimal.Decimal, factor float64) decimal.Decimal {
	if factor == 1.0 {
		return price
	}
	return price.Mul(decimal.NewFromFloat(factor))
}
