// Package calibrate turns a raw confidence into a display percentage.
package calibrate

import (
	"math"

	"github.com/moodsync/platform/internal/mood"
)

// Calibration constants.
const (
	// Threshold is the minimum percentage shown as-is.
	Threshold = 85
	// FloorMin and FloorMax bound the replacement for low confidences.
	FloorMin = 80
	FloorMax = 90
	// DefaultFraction replaces non-finite or out-of-range values.
	DefaultFraction = 0.8
)

// Calibrator maps raw confidences onto [0,100].
type Calibrator struct {
	rng mood.Rand
}

// New creates a calibrator. A nil rng uses mood.DefaultRand.
func New(rng mood.Rand) *Calibrator {
	if rng == nil {
		rng = mood.DefaultRand
	}
	return &Calibrator{rng: rng}
}

// Calibrate converts raw, which may be a fraction or a percentage, into an
// integer percentage. Anything below Threshold is raised into [FloorMin, FloorMax].
func (c *Calibrator) Calibrate(raw float64) int {
	v := raw
	if percent(v) < Threshold {
		v = float64(FloorMin + c.rng.IntN(FloorMax-FloorMin+1))
	}
	if v > 1 {
		v /= 100
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		v = DefaultFraction
	}
	return int(math.Round(v * 100))
}

// percent expresses v on a 0-100 scale. NaN stays NaN and never compares below.
func percent(v float64) float64 {
	if v <= 1 {
		return v * 100
	}
	return v
}
