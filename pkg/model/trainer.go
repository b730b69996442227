// Package model fits the L2-regularized marketing response model and
// derives per-channel response curves from the trained coefficients.
package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
	"github.com/jguan/mmx-optimizer/pkg/transform"
)

// TrainerConfig controls the regression fit.
type TrainerConfig struct {
	// Lambda is the ridge regularization strength, > 0.
	Lambda float64
	// TrainSplit is the chronological train fraction in (0, 1]; the
	// remainder is held out for test metrics. 1 means no holdout.
	TrainSplit float64
}

// Trainer fits ridge regressions over transformed spend features.
type Trainer struct {
	cfg TrainerConfig
}

// NewTrainer returns a trainer for the given configuration.
func NewTrainer(cfg TrainerConfig) (*Trainer, error) {
	if cfg.Lambda <= 0 {
		return nil, mmm.Newf(mmm.CodeInvalidParameter, "regularization strength must be positive, got %v", cfg.Lambda)
	}
	if cfg.TrainSplit <= 0 || cfg.TrainSplit > 1 {
		return nil, mmm.Newf(mmm.CodeInvalidParameter, "train split must be in (0, 1], got %v", cfg.TrainSplit)
	}
	return &Trainer{cfg: cfg}, nil
}

// Fit minimizes ||y - Xb||^2 + lambda*||b||^2 over the channel coefficients
// (the intercept is not penalized) and returns the trained artifact.
// Regularization makes the normal-equations system positive definite, so a
// rank-deficient or constant feature matrix still yields a unique solution.
func (tr *Trainer) Fit(features [][]float64, target []float64, channels []string, params map[string]transform.Params) (*Artifact, error) {
	n := len(features)
	if n == 0 {
		return nil, mmm.New(mmm.CodeValidation, "empty feature matrix")
	}
	if len(target) != n {
		return nil, mmm.Newf(mmm.CodeValidation, "target has %d rows, features have %d", len(target), n)
	}
	p := len(channels)
	if p == 0 {
		return nil, mmm.New(mmm.CodeValidation, "no channels given")
	}
	for t, row := range features {
		if len(row) != p {
			return nil, mmm.Newf(mmm.CodeValidation, "feature row %d has %d columns, want %d", t, len(row), p)
		}
	}

	trainRows := int(float64(n) * tr.cfg.TrainSplit)
	if trainRows < 1 {
		trainRows = 1
	}
	if trainRows > n {
		trainRows = n
	}

	beta, err := solveRidge(features[:trainRows], target[:trainRows], tr.cfg.Lambda)
	if err != nil {
		return nil, err
	}

	fitted := predict(features, beta)

	metrics := Metrics{
		RSquaredTrain: rSquared(target[:trainRows], fitted[:trainRows]),
		TrainRows:     trainRows,
		TestRows:      n - trainRows,
	}
	if trainRows < n {
		metrics.RSquared = rSquared(target[trainRows:], fitted[trainRows:])
		metrics.MAE = meanAbsError(target[trainRows:], fitted[trainRows:])
		metrics.RMSE = rootMeanSqError(target[trainRows:], fitted[trainRows:])
		metrics.MAPE = meanAbsPctError(target[trainRows:], fitted[trainRows:])
	} else {
		metrics.RSquared = metrics.RSquaredTrain
		metrics.MAE = meanAbsError(target, fitted)
		metrics.RMSE = rootMeanSqError(target, fitted)
		metrics.MAPE = meanAbsPctError(target, fitted)
	}

	coeffs := make(map[string]float64, p)
	for i, ch := range channels {
		coeffs[ch] = beta[i+1]
	}

	artifactParams := make(map[string]transform.Params, len(params))
	for ch, pp := range params {
		artifactParams[ch] = pp
	}

	return &Artifact{
		Channels:     append([]string(nil), channels...),
		Coefficients: coeffs,
		Intercept:    beta[0],
		Params:       artifactParams,
		Fitted:       fitted,
		Metrics:      metrics,
		Lambda:       tr.cfg.Lambda,
	}, nil
}

// solveRidge solves (X'X + lambda*D) b = X'y via Cholesky, where X carries a
// leading intercept column and D zeroes the intercept penalty. The system is
// positive definite for any lambda > 0 and non-empty sample.
func solveRidge(features [][]float64, target []float64, lambda float64) ([]float64, error) {
	n := len(features)
	p := len(features[0]) + 1 // intercept column

	x := mat.NewDense(n, p, nil)
	for t, row := range features {
		x.Set(t, 0, 1)
		for j, v := range row {
			x.Set(t, j+1, v)
		}
	}
	y := mat.NewVecDense(n, append([]float64(nil), target...))

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	for j := 1; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+lambda)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, mmm.New(mmm.CodeInternal, "normal equations not positive definite")
	}

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, mmm.Wrap(err, mmm.CodeInternal, "solve ridge system")
	}
	return beta.RawVector().Data, nil
}

func predict(features [][]float64, beta []float64) []float64 {
	out := make([]float64, len(features))
	for t, row := range features {
		v := beta[0]
		for j, x := range row {
			v += beta[j+1] * x
		}
		out[t] = v
	}
	return out
}

func rSquared(y, yhat []float64) float64 {
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	var ssRes, ssTot float64
	for i := range y {
		d := y[i] - yhat[i]
		ssRes += d * d
		m := y[i] - mean
		ssTot += m * m
	}
	if ssTot == 0 {
		// Constant target: the metric is undefined, so report perfect for
		// vanishing residuals and 0 otherwise. Must stay finite or the
		// artifact cannot be JSON-encoded.
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

func meanAbsError(y, yhat []float64) float64 {
	var sum float64
	for i := range y {
		sum += math.Abs(y[i] - yhat[i])
	}
	return sum / float64(len(y))
}

func rootMeanSqError(y, yhat []float64) float64 {
	var sum float64
	for i := range y {
		d := y[i] - yhat[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(y)))
}

func meanAbsPctError(y, yhat []float64) float64 {
	var sum float64
	for i := range y {
		sum += math.Abs((y[i] - yhat[i]) / (y[i] + 1e-10))
	}
	return sum / float64(len(y)) * 100
}
