package model

import (
	"sort"

	"github.com/jguan/mmx-optimizer/pkg/transform"
)

// Artifact is the immutable output of a training run: coefficients, fit
// diagnostics, and the transform parameters the features were built with.
type Artifact struct {
	Channels     []string                    `json:"channels"`
	Coefficients map[string]float64          `json:"coefficients"`
	Intercept    float64                     `json:"intercept"`
	Params       map[string]transform.Params `json:"transform_params"`
	Fitted       []float64                   `json:"fitted"`
	Metrics      Metrics                     `json:"metrics"`
	Lambda       float64                     `json:"lambda"`
}

// Metrics holds goodness-of-fit measures. RSquared may be negative for a
// poorly specified model; that is a valid outcome and is reported as-is.
type Metrics struct {
	RSquared      float64 `json:"r_squared"`
	RSquaredTrain float64 `json:"r_squared_train"`
	MAE           float64 `json:"mae"`
	RMSE          float64 `json:"rmse"`
	MAPE          float64 `json:"mape"`
	TrainRows     int     `json:"train_rows"`
	TestRows      int     `json:"test_rows"`
}

// Contribution is one channel's share of the modeled incremental response.
type Contribution struct {
	Channel string  `json:"channel"`
	Total   float64 `json:"total"`
	Share   float64 `json:"share"`
}

// Contributions computes per-channel incremental contribution,
// beta_i * transformed_i[t] summed over time, and each channel's share of
// the total positive contribution. Channels with non-positive contribution
// get a zero share.
func (a *Artifact) Contributions(features [][]float64) []Contribution {
	totals := make([]float64, len(a.Channels))
	for _, row := range features {
		for i := range a.Channels {
			if i < len(row) {
				totals[i] += row[i]
			}
		}
	}

	var positiveSum float64
	out := make([]Contribution, len(a.Channels))
	for i, ch := range a.Channels {
		total := a.Coefficients[ch] * totals[i]
		out[i] = Contribution{Channel: ch, Total: total}
		if total > 0 {
			positiveSum += total
		}
	}
	if positiveSum > 0 {
		for i := range out {
			if out[i].Total > 0 {
				out[i].Share = out[i].Total / positiveSum
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}
