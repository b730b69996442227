package optimizer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
	"github.com/jguan/mmx-optimizer/pkg/model"
	"github.com/jguan/mmx-optimizer/pkg/transform"
)

// sampleCurve builds a Hill response curve the way training would.
func sampleCurve(t *testing.T, channel string, coef, alpha, gamma, maxSpend float64) *model.ResponseCurve {
	t.Helper()
	art := &model.Artifact{
		Channels:     []string{channel},
		Coefficients: map[string]float64{channel: coef},
		Params: map[string]transform.Params{
			channel: {DecayRate: 0, SaturationAlpha: alpha, SaturationGamma: gamma},
		},
	}
	curves, err := model.BuildCurves(art, map[string]float64{channel: maxSpend})
	require.NoError(t, err)
	return curves[0]
}

func twoChannelCurves(t *testing.T) []*model.ResponseCurve {
	t.Helper()
	return []*model.ResponseCurve{
		sampleCurve(t, "tv", 2000, 1.2, 400000, 2000000),
		sampleCurve(t, "search", 1500, 1.1, 250000, 2000000),
	}
}

func baseScenario() *Scenario {
	return &Scenario{
		Name:        "base",
		TotalBudget: 1000000,
		Bounds: map[string]ChannelBounds{
			"tv":     {MinFraction: 0.2, MaxFraction: 0.6},
			"search": {MinFraction: 0.4, MaxFraction: 0.8},
		},
		Current: map[string]float64{"tv": 500000, "search": 500000},
	}
}

func TestOptimize(t *testing.T) {
	solver := NewSolver(Config{Seed: 7})

	t.Run("budget equality and bounds hold", func(t *testing.T) {
		sc := baseScenario()
		res, err := solver.Optimize(context.Background(), twoChannelCurves(t), sc)
		require.NoError(t, err)

		var sum float64
		for _, v := range res.Allocation {
			sum += v
		}
		assert.InEpsilon(t, sc.TotalBudget, sum, 1e-6)

		assert.GreaterOrEqual(t, res.Allocation["tv"], 0.2*sc.TotalBudget-1)
		assert.LessOrEqual(t, res.Allocation["tv"], 0.6*sc.TotalBudget+1)
		assert.GreaterOrEqual(t, res.Allocation["search"], 0.4*sc.TotalBudget-1)
		assert.LessOrEqual(t, res.Allocation["search"], 0.8*sc.TotalBudget+1)

		assert.Greater(t, res.Objective, 0.0)
		assert.Greater(t, res.OverallROI, 0.0)
	})

	t.Run("infeasible minimum fractions rejected", func(t *testing.T) {
		sc := baseScenario()
		sc.Bounds = map[string]ChannelBounds{
			"tv":     {MinFraction: 0.6, MaxFraction: 0.9},
			"search": {MinFraction: 0.6, MaxFraction: 0.9},
		}
		_, err := solver.Optimize(context.Background(), twoChannelCurves(t), sc)
		require.Error(t, err)
		assert.True(t, mmm.IsInfeasible(err))
	})

	t.Run("min above max rejected", func(t *testing.T) {
		sc := baseScenario()
		sc.Bounds["tv"] = ChannelBounds{MinFraction: 0.7, MaxFraction: 0.3}
		_, err := solver.Optimize(context.Background(), twoChannelCurves(t), sc)
		require.Error(t, err)
		assert.True(t, mmm.IsInfeasible(err))
	})

	t.Run("deviation cap narrows the feasible window", func(t *testing.T) {
		sc := baseScenario()
		sc.MaxDeviation = map[string]float64{"tv": 50000, "search": 50000}

		res, err := solver.Optimize(context.Background(), twoChannelCurves(t), sc)
		require.NoError(t, err)
		assert.LessOrEqual(t, math.Abs(res.Allocation["tv"]-500000), 50000+1)
		assert.LessOrEqual(t, math.Abs(res.Allocation["search"]-500000), 50000+1)
	})

	t.Run("disjoint deviation window rejected", func(t *testing.T) {
		sc := baseScenario()
		sc.Current = map[string]float64{"tv": 5000000, "search": 500000}
		sc.MaxDeviation = map[string]float64{"tv": 1000}
		_, err := solver.Optimize(context.Background(), twoChannelCurves(t), sc)
		require.Error(t, err)
		assert.True(t, mmm.IsInfeasible(err))
	})

	t.Run("absolute floor respected", func(t *testing.T) {
		sc := baseScenario()
		sc.Bounds["tv"] = ChannelBounds{MinFraction: 0.0, MaxFraction: 0.6, AbsoluteMin: 300000}

		res, err := solver.Optimize(context.Background(), twoChannelCurves(t), sc)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Allocation["tv"], 300000.0-1)
	})

	t.Run("deterministic under a fixed seed", func(t *testing.T) {
		a, err := solver.Optimize(context.Background(), twoChannelCurves(t), baseScenario())
		require.NoError(t, err)
		b, err := solver.Optimize(context.Background(), twoChannelCurves(t), baseScenario())
		require.NoError(t, err)
		assert.Equal(t, a.Allocation, b.Allocation)
		assert.Equal(t, a.Objective, b.Objective)
	})

	t.Run("re-optimizing the optimum is stable", func(t *testing.T) {
		sc := baseScenario()
		first, err := solver.Optimize(context.Background(), twoChannelCurves(t), sc)
		require.NoError(t, err)

		again := baseScenario()
		again.Current = first.Allocation
		second, err := solver.Optimize(context.Background(), twoChannelCurves(t), again)
		require.NoError(t, err)

		for ch, v := range first.Allocation {
			assert.InDelta(t, v, second.Allocation[ch], sc.TotalBudget*1e-3)
		}
	})
}

func TestOptimizeAll(t *testing.T) {
	solver := NewSolver(Config{Seed: 7, MaxParallel: 2})
	curves := twoChannelCurves(t)

	conservative := baseScenario()
	conservative.Name = "conservative"
	conservative.MaxDeviation = map[string]float64{"tv": 25000, "search": 25000}

	aggressive := baseScenario()
	aggressive.Name = "aggressive"

	broken := baseScenario()
	broken.Name = "broken"
	broken.Bounds = map[string]ChannelBounds{
		"tv":     {MinFraction: 0.6, MaxFraction: 0.9},
		"search": {MinFraction: 0.6, MaxFraction: 0.9},
	}

	outcomes := solver.OptimizeAll(context.Background(), curves, []*Scenario{aggressive, broken, conservative})
	require.Len(t, outcomes, 3)
	SortOutcomes(outcomes)

	t.Run("sibling scenarios unaffected by one failure", func(t *testing.T) {
		assert.Equal(t, "aggressive", outcomes[0].Scenario)
		require.NoError(t, outcomes[0].Err)
		assert.NotNil(t, outcomes[0].Result)

		assert.Equal(t, "broken", outcomes[1].Scenario)
		require.Error(t, outcomes[1].Err)
		assert.True(t, mmm.IsInfeasible(outcomes[1].Err))

		assert.Equal(t, "conservative", outcomes[2].Scenario)
		require.NoError(t, outcomes[2].Err)
	})

	t.Run("conservative stays closer to current than aggressive", func(t *testing.T) {
		cons := outcomes[2].Result
		aggr := outcomes[0].Result
		consShift := math.Abs(cons.Allocation["tv"] - 500000)
		aggrShift := math.Abs(aggr.Allocation["tv"] - 500000)
		assert.LessOrEqual(t, consShift, aggrShift+1)
	})
}

func TestProjectBudget(t *testing.T) {
	b := &bounds{lo: []float64{100, 100, 100}, hi: []float64{800, 800, 800}}

	t.Run("projects onto the budget plane", func(t *testing.T) {
		x := []float64{900, 50, 50}
		projectBudget(x, b, 1000)

		var sum float64
		for i, v := range x {
			sum += v
			assert.GreaterOrEqual(t, v, b.lo[i]-1e-6)
			assert.LessOrEqual(t, v, b.hi[i]+1e-6)
		}
		assert.InDelta(t, 1000, sum, 1e-3)
	})

	t.Run("feasible point on the plane is unchanged", func(t *testing.T) {
		x := []float64{400, 300, 300}
		projectBudget(x, b, 1000)
		assert.InDelta(t, 400, x[0], 1e-6)
		assert.InDelta(t, 300, x[1], 1e-6)
		assert.InDelta(t, 300, x[2], 1e-6)
	})
}

func TestFeasibleBounds(t *testing.T) {
	t.Run("example from the planning docs", func(t *testing.T) {
		// min fractions 0.2 + 0.4 = 0.6 must succeed.
		sc := baseScenario()
		_, err := feasibleBounds([]string{"tv", "search"}, sc)
		assert.NoError(t, err)
	})

	t.Run("upper bounds below budget rejected", func(t *testing.T) {
		sc := baseScenario()
		sc.Bounds = map[string]ChannelBounds{
			"tv":     {MinFraction: 0, MaxFraction: 0.3},
			"search": {MinFraction: 0, MaxFraction: 0.3},
		}
		_, err := feasibleBounds([]string{"tv", "search"}, sc)
		require.Error(t, err)
		assert.True(t, mmm.IsInfeasible(err))
	})
}
