// Package transform implements the marketing response transforms: geometric
// adstock (carryover) and Hill saturation (diminishing returns). Both are
// pure functions over spend series; composing them per channel produces the
// feature matrix consumed by the model trainer.
package transform

import (
	"math"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
)

// Params holds the per-channel transform parameters.
type Params struct {
	// DecayRate is the geometric carryover rate, in [0, 1).
	DecayRate float64 `json:"decay_rate" yaml:"decay_rate" validate:"gte=0,lt=1"`
	// SaturationAlpha is the Hill slope parameter, > 0.
	SaturationAlpha float64 `json:"saturation_alpha" yaml:"saturation_alpha" validate:"gt=0"`
	// SaturationGamma is the half-saturation spend, > 0.
	SaturationGamma float64 `json:"saturation_gamma" yaml:"saturation_gamma" validate:"gt=0"`
}

// Validate checks the parameters against their domains.
func (p Params) Validate() error {
	if p.DecayRate < 0 || p.DecayRate >= 1 {
		return mmm.Newf(mmm.CodeInvalidParameter, "decay rate must be in [0, 1), got %v", p.DecayRate)
	}
	if p.SaturationAlpha <= 0 {
		return mmm.Newf(mmm.CodeInvalidParameter, "saturation alpha must be positive, got %v", p.SaturationAlpha)
	}
	if p.SaturationGamma <= 0 {
		return mmm.Newf(mmm.CodeInvalidParameter, "saturation gamma must be positive, got %v", p.SaturationGamma)
	}
	return nil
}

// Adstock applies the geometric carryover transform:
//
//	effect[t] = spend[t] + decayRate * effect[t-1], effect[-1] = 0
//
// The recurrence is causal and strictly sequential. A decay rate at or
// above 1 diverges and is rejected.
func Adstock(spend []float64, decayRate float64) ([]float64, error) {
	if decayRate < 0 || decayRate >= 1 {
		return nil, mmm.Newf(mmm.CodeInvalidParameter, "decay rate must be in [0, 1), got %v", decayRate)
	}

	effect := make([]float64, len(spend))
	prev := 0.0
	for t, s := range spend {
		prev = s + decayRate*prev
		effect[t] = prev
	}
	return effect, nil
}

// HillSaturation applies the Hill saturation function:
//
//	response(x) = x^alpha / (gamma^alpha + x^alpha)
//
// response(0) = 0, monotonically non-decreasing, asymptotic to 1.
func HillSaturation(x []float64, alpha, gamma float64) ([]float64, error) {
	if alpha <= 0 {
		return nil, mmm.Newf(mmm.CodeInvalidParameter, "alpha must be positive, got %v", alpha)
	}
	if gamma <= 0 {
		return nil, mmm.Newf(mmm.CodeInvalidParameter, "gamma must be positive, got %v", gamma)
	}

	out := make([]float64, len(x))
	gammaAlpha := math.Pow(gamma, alpha)
	for i, v := range x {
		out[i] = hill(v, alpha, gammaAlpha)
	}
	return out, nil
}

// HillAt evaluates the Hill function at a single spend level.
func HillAt(x, alpha, gamma float64) (float64, error) {
	if alpha <= 0 {
		return 0, mmm.Newf(mmm.CodeInvalidParameter, "alpha must be positive, got %v", alpha)
	}
	if gamma <= 0 {
		return 0, mmm.Newf(mmm.CodeInvalidParameter, "gamma must be positive, got %v", gamma)
	}
	return hill(x, alpha, math.Pow(gamma, alpha)), nil
}

func hill(x, alpha, gammaAlpha float64) float64 {
	if x <= 0 {
		return 0
	}
	xa := math.Pow(x, alpha)
	return xa / (gammaAlpha + xa)
}

// MarginalResponse numerically differentiates the Hill curve at the given
// spend level, using a 0.1% forward step as the original solver does.
func MarginalResponse(spend, alpha, gamma float64) (float64, error) {
	delta := spend * 0.001
	if delta == 0 {
		delta = 1e-6
	}
	at, err := HillAt(spend, alpha, gamma)
	if err != nil {
		return 0, err
	}
	ahead, err := HillAt(spend+delta, alpha, gamma)
	if err != nil {
		return 0, err
	}
	return (ahead - at) / delta, nil
}

// Apply composes adstock then saturation for one channel's spend series.
func Apply(spend []float64, p Params) ([]float64, error) {
	carried, err := Adstock(spend, p.DecayRate)
	if err != nil {
		return nil, err
	}
	return HillSaturation(carried, p.SaturationAlpha, p.SaturationGamma)
}

// FeatureMatrix composes the transforms per channel and assembles the
// model feature matrix, one column per channel in the given order.
// All spend series must share the same length.
func FeatureMatrix(spend map[string][]float64, params map[string]Params, channels []string) ([][]float64, error) {
	if len(channels) == 0 {
		return nil, mmm.New(mmm.CodeValidation, "no channels given")
	}

	n := -1
	cols := make([][]float64, len(channels))
	for i, ch := range channels {
		series, ok := spend[ch]
		if !ok {
			return nil, mmm.Newf(mmm.CodeValidation, "missing spend series for channel %q", ch)
		}
		if n == -1 {
			n = len(series)
		} else if len(series) != n {
			return nil, mmm.Newf(mmm.CodeValidation, "channel %q has %d observations, want %d", ch, len(series), n)
		}

		p, ok := params[ch]
		if !ok {
			return nil, mmm.Newf(mmm.CodeValidation, "missing transform parameters for channel %q", ch)
		}
		col, err := Apply(series, p)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	// Transpose to row-major observations.
	rows := make([][]float64, n)
	for t := 0; t < n; t++ {
		row := make([]float64, len(channels))
		for i := range channels {
			row[i] = cols[i][t]
		}
		rows[t] = row
	}
	return rows, nil
}
