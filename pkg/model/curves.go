package model

import (
	"github.com/jguan/mmx-optimizer/pkg/mmm"
	"github.com/jguan/mmx-optimizer/pkg/transform"
)

// curveSamples is the number of grid points a response curve is sampled at.
const curveSamples = 200

// ResponseCurve is a per-channel monotone mapping from spend level to
// incremental response, sampled on a spend grid at training time and
// never mutated afterwards. Evaluation interpolates linearly, clamping
// to the endpoints, the same way the original solver consumed curves.
type ResponseCurve struct {
	Channel     string           `json:"channel"`
	Coefficient float64          `json:"coefficient"`
	Params      transform.Params `json:"params"`
	Spend       []float64        `json:"spend"`
	Response    []float64        `json:"response"`
}

// Evaluate returns the incremental response at the given spend level.
func (c *ResponseCurve) Evaluate(spend float64) float64 {
	n := len(c.Spend)
	if n == 0 {
		return 0
	}
	if spend <= c.Spend[0] {
		return c.Response[0]
	}
	if spend >= c.Spend[n-1] {
		return c.Response[n-1]
	}
	// Grid is uniform, so the bracketing segment is a direct index.
	step := c.Spend[1] - c.Spend[0]
	i := int((spend - c.Spend[0]) / step)
	if i >= n-1 {
		i = n - 2
	}
	frac := (spend - c.Spend[i]) / (c.Spend[i+1] - c.Spend[i])
	return c.Response[i] + frac*(c.Response[i+1]-c.Response[i])
}

// Marginal numerically differentiates the curve at the given spend level.
func (c *ResponseCurve) Marginal(spend float64) float64 {
	delta := spend * 0.001
	if delta == 0 {
		delta = 1e-6
	}
	return (c.Evaluate(spend+delta) - c.Evaluate(spend)) / delta
}

// Clone returns an independent copy of the curve so parallel solver
// attempts never share backing arrays.
func (c *ResponseCurve) Clone() *ResponseCurve {
	cp := *c
	cp.Spend = append([]float64(nil), c.Spend...)
	cp.Response = append([]float64(nil), c.Response...)
	return &cp
}

// BuildCurves derives one response curve per channel from the trained
// artifact, sampling coefficient * Hill(steady-state carryover of spend)
// on a uniform grid up to maxSpend per channel.
func BuildCurves(a *Artifact, maxSpend map[string]float64) ([]*ResponseCurve, error) {
	curves := make([]*ResponseCurve, 0, len(a.Channels))
	for _, ch := range a.Channels {
		p, ok := a.Params[ch]
		if !ok {
			return nil, mmm.Newf(mmm.CodeValidation, "missing transform parameters for channel %q", ch)
		}
		limit := maxSpend[ch]
		if limit <= 0 {
			return nil, mmm.Newf(mmm.CodeValidation, "non-positive max spend for channel %q", ch)
		}

		coef := a.Coefficients[ch]
		spend := make([]float64, curveSamples)
		response := make([]float64, curveSamples)
		step := limit / float64(curveSamples-1)
		for i := 0; i < curveSamples; i++ {
			s := float64(i) * step
			// A constant spend s settles at s/(1-decay) of carried effect.
			equilibrium := s / (1 - p.DecayRate)
			h, err := transform.HillAt(equilibrium, p.SaturationAlpha, p.SaturationGamma)
			if err != nil {
				return nil, err
			}
			spend[i] = s
			response[i] = coef * h
		}

		curves = append(curves, &ResponseCurve{
			Channel:     ch,
			Coefficient: coef,
			Params:      p,
			Spend:       spend,
			Response:    response,
		})
	}
	return curves, nil
}
