package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
)

func TestAdstock(t *testing.T) {
	t.Run("known carryover sequence", func(t *testing.T) {
		effect, err := Adstock([]float64{100, 100, 100}, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []float64{100, 150, 175}, effect)
	})

	t.Run("zero decay is identity", func(t *testing.T) {
		spend := []float64{10, 20, 30}
		effect, err := Adstock(spend, 0)
		require.NoError(t, err)
		assert.Equal(t, spend, effect)
	})

	t.Run("empty series", func(t *testing.T) {
		effect, err := Adstock(nil, 0.3)
		require.NoError(t, err)
		assert.Empty(t, effect)
	})

	t.Run("decay rate of 1 rejected", func(t *testing.T) {
		_, err := Adstock([]float64{1}, 1.0)
		require.Error(t, err)
		assert.True(t, mmm.IsInvalidParameter(err))
	})

	t.Run("negative decay rate rejected", func(t *testing.T) {
		_, err := Adstock([]float64{1}, -0.1)
		require.Error(t, err)
		assert.True(t, mmm.IsInvalidParameter(err))
	})

	t.Run("non-negative finite output for valid decay rates", func(t *testing.T) {
		spend := []float64{0, 5, 0, 12.5, 100, 0, 3}
		for _, decay := range []float64{0, 0.25, 0.5, 0.9, 0.999} {
			effect, err := Adstock(spend, decay)
			require.NoError(t, err)
			for _, v := range effect {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
				assert.GreaterOrEqual(t, v, 0.0)
			}
		}
	})
}

func TestHillSaturation(t *testing.T) {
	t.Run("half saturation point", func(t *testing.T) {
		out, err := HillSaturation([]float64{50}, 2, 50)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, out[0], 1e-12)
	})

	t.Run("zero spend maps to zero", func(t *testing.T) {
		out, err := HillSaturation([]float64{0}, 1.5, 100)
		require.NoError(t, err)
		assert.Zero(t, out[0])
	})

	t.Run("monotone and bounded", func(t *testing.T) {
		xs := []float64{0, 1, 10, 50, 100, 1000, 1e6, 1e12}
		out, err := HillSaturation(xs, 2, 50)
		require.NoError(t, err)
		for i, v := range out {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(t, v, out[i-1])
			}
		}
	})

	t.Run("invalid alpha rejected", func(t *testing.T) {
		_, err := HillSaturation([]float64{1}, 0, 50)
		require.Error(t, err)
		assert.True(t, mmm.IsInvalidParameter(err))
	})

	t.Run("invalid gamma rejected", func(t *testing.T) {
		_, err := HillSaturation([]float64{1}, 2, -1)
		require.Error(t, err)
		assert.True(t, mmm.IsInvalidParameter(err))
	})
}

func TestMarginalResponse(t *testing.T) {
	t.Run("positive below saturation", func(t *testing.T) {
		m, err := MarginalResponse(20, 2, 50)
		require.NoError(t, err)
		assert.Greater(t, m, 0.0)
	})

	t.Run("diminishing with spend", func(t *testing.T) {
		low, err := MarginalResponse(60, 2, 50)
		require.NoError(t, err)
		high, err := MarginalResponse(600, 2, 50)
		require.NoError(t, err)
		assert.Greater(t, low, high)
	})
}

func TestParamsValidate(t *testing.T) {
	valid := Params{DecayRate: 0.5, SaturationAlpha: 2, SaturationGamma: 50}
	assert.NoError(t, valid.Validate())

	for name, p := range map[string]Params{
		"decay too high": {DecayRate: 1, SaturationAlpha: 2, SaturationGamma: 50},
		"negative decay": {DecayRate: -0.1, SaturationAlpha: 2, SaturationGamma: 50},
		"zero alpha":     {DecayRate: 0.5, SaturationAlpha: 0, SaturationGamma: 50},
		"negative gamma": {DecayRate: 0.5, SaturationAlpha: 2, SaturationGamma: -5},
	} {
		t.Run(name, func(t *testing.T) {
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, mmm.IsInvalidParameter(err))
		})
	}
}

func TestFeatureMatrix(t *testing.T) {
	spend := map[string][]float64{
		"tv":     {100, 100, 100},
		"search": {50, 0, 25},
	}
	params := map[string]Params{
		"tv":     {DecayRate: 0.5, SaturationAlpha: 2, SaturationGamma: 150},
		"search": {DecayRate: 0, SaturationAlpha: 1, SaturationGamma: 50},
	}

	t.Run("composes carryover then saturation", func(t *testing.T) {
		rows, err := FeatureMatrix(spend, params, []string{"tv", "search"})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Len(t, rows[0], 2)

		// tv adstock = [100, 150, 175]; second column is plain Hill of raw spend.
		assert.InDelta(t, 0.5, rows[1][0], 1e-12) // 150^2/(150^2+150^2)... gamma=150 → 0.5
		assert.InDelta(t, 0.5, rows[0][1], 1e-12) // 50/(50+50)
		assert.Zero(t, rows[1][1])
	})

	t.Run("values never exceed the saturation asymptote", func(t *testing.T) {
		rows, err := FeatureMatrix(spend, params, []string{"tv", "search"})
		require.NoError(t, err)
		for _, row := range rows {
			for _, v := range row {
				assert.Less(t, v, 1.0)
			}
		}
	})

	t.Run("missing channel spend rejected", func(t *testing.T) {
		_, err := FeatureMatrix(spend, params, []string{"tv", "radio"})
		require.Error(t, err)
		assert.True(t, mmm.IsValidation(err))
	})

	t.Run("length mismatch rejected", func(t *testing.T) {
		bad := map[string][]float64{"tv": {1, 2, 3}, "search": {1}}
		_, err := FeatureMatrix(bad, params, []string{"tv", "search"})
		require.Error(t, err)
		assert.True(t, mmm.IsValidation(err))
	})
}
