// Package optimizer solves the constrained budget-allocation problem over
// trained response curves: maximize total incremental response subject to a
// budget equality, per-channel fraction bounds, absolute floors, and
// deviation caps against the current allocation.
package optimizer

import (
	"math"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
)

// ChannelBounds constrains one channel's allocation.
type ChannelBounds struct {
	// MinFraction and MaxFraction bound spend as a share of total budget.
	MinFraction float64 `json:"min_fraction" yaml:"min_fraction" validate:"gte=0,lte=1"`
	MaxFraction float64 `json:"max_fraction" yaml:"max_fraction" validate:"gte=0,lte=1"`
	// AbsoluteMin is an optional absolute spend floor (0 means unset).
	AbsoluteMin float64 `json:"absolute_min,omitempty" yaml:"absolute_min,omitempty" validate:"gte=0"`
}

// Scenario is a named constraint configuration for one optimization.
type Scenario struct {
	Name        string                   `json:"name" yaml:"name" validate:"required"`
	TotalBudget float64                  `json:"total_budget" yaml:"total_budget" validate:"gt=0"`
	Bounds      map[string]ChannelBounds `json:"bounds" yaml:"bounds"`
	// Current is the current allocation per channel.
	Current map[string]float64 `json:"current" yaml:"current"`
	// MaxDeviation caps |spend - current| per channel; 0 means uncapped.
	// Conservative scenarios set it tight, aggressive ones loose.
	MaxDeviation map[string]float64 `json:"max_deviation,omitempty" yaml:"max_deviation,omitempty"`
}

// Result is a solved scenario: the allocation, its objective value, and
// comparison metrics against the current allocation.
type Result struct {
	Scenario     string             `json:"scenario"`
	TotalBudget  float64            `json:"total_budget"`
	Allocation   map[string]float64 `json:"allocation"`
	Objective    float64            `json:"objective"`
	CurrentSales float64            `json:"current_sales"`
	ExpectedLift float64            `json:"expected_lift"`
	SpendChanges map[string]float64 `json:"spend_changes"`
	OverallROI   float64            `json:"overall_roi"`
	Iterations   int                `json:"iterations"`
	Restarts     int                `json:"restarts"`
	RelaxedRetry bool               `json:"relaxed_retry,omitempty"`
}

// bounds is the per-channel feasible interval after merging fraction
// bounds, absolute floors, and deviation caps.
type bounds struct {
	lo []float64
	hi []float64
}

// feasibleBounds merges all constraint families into box bounds and
// rejects contradictions up front.
func feasibleBounds(channels []string, sc *Scenario) (*bounds, error) {
	b := &bounds{
		lo: make([]float64, len(channels)),
		hi: make([]float64, len(channels)),
	}

	var minFracSum float64
	for i, ch := range channels {
		cb, ok := sc.Bounds[ch]
		if !ok {
			cb = ChannelBounds{MinFraction: 0, MaxFraction: 1}
		}
		if cb.MinFraction > cb.MaxFraction {
			return nil, mmm.Newf(mmm.CodeInfeasible, "channel %q: min fraction %v exceeds max fraction %v", ch, cb.MinFraction, cb.MaxFraction)
		}
		minFracSum += cb.MinFraction

		lo := cb.MinFraction * sc.TotalBudget
		hi := cb.MaxFraction * sc.TotalBudget
		if cb.AbsoluteMin > lo {
			lo = cb.AbsoluteMin
		}

		if dev, ok := sc.MaxDeviation[ch]; ok && dev > 0 {
			cur := sc.Current[ch]
			if cur-dev > lo {
				lo = cur - dev
			}
			if cur+dev < hi {
				hi = cur + dev
			}
		}

		if lo > hi {
			return nil, mmm.Newf(mmm.CodeInfeasible, "channel %q: empty feasible interval [%v, %v]", ch, lo, hi)
		}
		b.lo[i], b.hi[i] = lo, hi
	}

	if minFracSum > 1+allocTolerance {
		return nil, mmm.Newf(mmm.CodeInfeasible, "minimum fractions sum to %v, exceeding the total budget", minFracSum)
	}

	var loSum, hiSum float64
	for i := range channels {
		loSum += b.lo[i]
		hiSum += b.hi[i]
	}
	if loSum > sc.TotalBudget*(1+allocTolerance) {
		return nil, mmm.Newf(mmm.CodeInfeasible, "lower bounds sum to %v, exceeding budget %v", loSum, sc.TotalBudget)
	}
	if hiSum < sc.TotalBudget*(1-allocTolerance) {
		return nil, mmm.Newf(mmm.CodeInfeasible, "upper bounds sum to %v, below budget %v", hiSum, sc.TotalBudget)
	}

	return b, nil
}

// validateAllocation re-checks every constraint on a computed allocation.
// Solver tolerance does not excuse violations; any breach downgrades the
// result to an infeasibility error.
func validateAllocation(channels []string, x []float64, b *bounds, sc *Scenario) error {
	tol := sc.TotalBudget * allocTolerance

	var sum float64
	for i, ch := range channels {
		if x[i] < b.lo[i]-tol || x[i] > b.hi[i]+tol {
			return mmm.Newf(mmm.CodeInfeasible, "channel %q allocation %v outside bounds [%v, %v]", ch, x[i], b.lo[i], b.hi[i])
		}
		sum += x[i]
	}
	if math.Abs(sum-sc.TotalBudget) > tol {
		return mmm.Newf(mmm.CodeInfeasible, "allocation sums to %v, budget is %v", sum, sc.TotalBudget)
	}
	return nil
}

// allocTolerance is the relative tolerance on the budget equality.
const allocTolerance = 1e-6
