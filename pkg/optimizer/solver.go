package optimizer

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jguan/mmx-optimizer/pkg/infra/logger"
	"github.com/jguan/mmx-optimizer/pkg/mmm"
	"github.com/jguan/mmx-optimizer/pkg/model"
)

// Config controls the multi-start gradient solver.
type Config struct {
	// Restarts is the number of randomized starting allocations.
	Restarts int
	// MaxIterations bounds each gradient ascent attempt.
	MaxIterations int
	// Tolerance is the objective-improvement convergence threshold.
	Tolerance float64
	// RelaxFactor scales Tolerance for the single non-convergence retry.
	RelaxFactor float64
	// Seed makes the randomized restarts reproducible. Each restart r
	// derives its own independent stream from Seed+r.
	Seed int64
	// MaxParallel caps concurrent scenario solves (0 means len(scenarios)).
	MaxParallel int
}

// DefaultConfig mirrors the solver settings of the original pipeline.
func DefaultConfig() Config {
	return Config{
		Restarts:      5,
		MaxIterations: 1000,
		Tolerance:     1e-6,
		RelaxFactor:   100,
		Seed:          42,
	}
}

// Solver optimizes budget scenarios over response curves.
type Solver struct {
	cfg Config
}

// NewSolver returns a solver with the given configuration, filling
// unset fields from DefaultConfig.
func NewSolver(cfg Config) *Solver {
	def := DefaultConfig()
	if cfg.Restarts <= 0 {
		cfg.Restarts = def.Restarts
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.RelaxFactor <= 1 {
		cfg.RelaxFactor = def.RelaxFactor
	}
	return &Solver{cfg: cfg}
}

// Outcome pairs a scenario with its result or its per-scenario failure.
type Outcome struct {
	Scenario string
	Result   *Result
	Err      error
}

// OptimizeAll solves independent scenarios in parallel. Each attempt gets
// its own copy of the response curves; a failing scenario never aborts its
// siblings.
func (s *Solver) OptimizeAll(ctx context.Context, curves []*model.ResponseCurve, scenarios []*Scenario) []Outcome {
	outcomes := make([]Outcome, len(scenarios))

	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.MaxParallel > 0 {
		g.SetLimit(s.cfg.MaxParallel)
	}

	for i, sc := range scenarios {
		g.Go(func() error {
			own := make([]*model.ResponseCurve, len(curves))
			for j, c := range curves {
				own[j] = c.Clone()
			}
			res, err := s.Optimize(ctx, own, sc)
			outcomes[i] = Outcome{Scenario: sc.Name, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Optimize solves one scenario, retrying once with a relaxed tolerance on
// non-convergence before reporting a fatal per-scenario failure. The
// returned allocation is re-validated against every constraint.
func (s *Solver) Optimize(ctx context.Context, curves []*model.ResponseCurve, sc *Scenario) (*Result, error) {
	log := logger.WithContext(logger.SetScenario(ctx, sc.Name))

	channels := make([]string, len(curves))
	for i, c := range curves {
		channels[i] = c.Channel
	}

	b, err := feasibleBounds(channels, sc)
	if err != nil {
		return nil, err
	}

	best, converged := s.solve(ctx, curves, channels, b, sc, s.cfg.Tolerance)
	if !converged {
		log.Warn("solver did not converge, retrying with relaxed tolerance")
		relaxed, ok := s.solve(ctx, curves, channels, b, sc, s.cfg.Tolerance*s.cfg.RelaxFactor)
		if !ok {
			return nil, mmm.Newf(mmm.CodeNoConvergence, "scenario %q did not converge within %d iterations", sc.Name, s.cfg.MaxIterations)
		}
		relaxed.relaxedRetry = true
		best = relaxed
	}

	if err := validateAllocation(channels, best.x, b, sc); err != nil {
		return nil, err
	}

	return s.buildResult(curves, channels, sc, best), nil
}

// attempt is the best state found by one solve pass.
type attempt struct {
	x            []float64
	objective    float64
	iterations   int
	relaxedRetry bool
}

// solve runs the multi-start projected gradient ascent and returns the best
// feasible attempt, reporting whether any attempt converged. Ties on the
// objective break to the lexicographically first allocation; equal restarts
// are otherwise order-dependent, so this keeps results deterministic.
func (s *Solver) solve(ctx context.Context, curves []*model.ResponseCurve, channels []string, b *bounds, sc *Scenario, tol float64) (*attempt, bool) {
	x0 := initialGuess(channels, b, sc)

	var best *attempt
	anyConverged := false

	for r := 0; r < s.cfg.Restarts; r++ {
		select {
		case <-ctx.Done():
			return best, anyConverged
		default:
		}

		start := append([]float64(nil), x0...)
		if r > 0 {
			rng := rand.New(rand.NewSource(s.cfg.Seed + int64(r)))
			for i := range start {
				start[i] *= 1 + (rng.Float64()*0.4 - 0.2)
			}
		}
		projectBudget(start, b, sc.TotalBudget)

		x, obj, iters, converged := s.ascend(curves, start, b, sc.TotalBudget, tol)
		if converged {
			anyConverged = true
		}

		cand := &attempt{x: x, objective: obj, iterations: iters}
		if best == nil || better(cand, best, tol) {
			best = cand
		}
	}

	return best, anyConverged
}

// better prefers the higher objective; within tolerance it prefers the
// lexicographically first allocation.
func better(a, b *attempt, tol float64) bool {
	if math.Abs(a.objective-b.objective) > tol {
		return a.objective > b.objective
	}
	for i := range a.x {
		if a.x[i] != b.x[i] {
			return a.x[i] < b.x[i]
		}
	}
	return false
}

// ascend runs projected gradient ascent with a backtracking step size.
func (s *Solver) ascend(curves []*model.ResponseCurve, x []float64, b *bounds, budget, tol float64) ([]float64, float64, int, bool) {
	n := len(x)
	grad := make([]float64, n)
	trial := make([]float64, n)

	obj := objective(curves, x)

	for iter := 1; iter <= s.cfg.MaxIterations; iter++ {
		for i, c := range curves {
			grad[i] = c.Marginal(x[i])
		}

		improved := false
		for step := budget / 10; step > budget*1e-12; step /= 2 {
			for i := range x {
				trial[i] = x[i] + step*grad[i]
			}
			projectBudget(trial, b, budget)

			trialObj := objective(curves, trial)
			if trialObj > obj {
				copy(x, trial)
				gain := trialObj - obj
				obj = trialObj
				improved = true
				if gain < tol {
					return x, obj, iter, true
				}
				break
			}
		}

		if !improved {
			// No ascent direction at any step size: stationary point.
			return x, obj, iter, true
		}
	}

	return x, obj, s.cfg.MaxIterations, false
}

func objective(curves []*model.ResponseCurve, x []float64) float64 {
	var total float64
	for i, c := range curves {
		total += c.Evaluate(x[i])
	}
	return total
}

// initialGuess starts from the current allocation when it roughly matches
// the budget, otherwise from an equal split, as the original solver does.
func initialGuess(channels []string, b *bounds, sc *Scenario) []float64 {
	x := make([]float64, len(channels))

	var currentTotal float64
	for _, ch := range channels {
		currentTotal += sc.Current[ch]
	}

	if currentTotal > 0 && math.Abs(currentTotal-sc.TotalBudget)/sc.TotalBudget < 0.1 {
		for i, ch := range channels {
			x[i] = sc.Current[ch]
		}
	} else {
		equal := sc.TotalBudget / float64(len(channels))
		for i := range x {
			x[i] = equal
		}
	}

	projectBudget(x, b, sc.TotalBudget)
	return x
}

// projectBudget projects x in place onto {sum(x) = budget, lo <= x <= hi}
// by bisecting the shift nu in x_i = clip(x_i + nu, lo_i, hi_i). The
// clipped sum is monotone in nu, so bisection converges; feasibility of
// the box against the budget was established up front.
func projectBudget(x []float64, b *bounds, budget float64) {
	sumAt := func(nu float64) float64 {
		var s float64
		for i := range x {
			s += clamp(x[i]+nu, b.lo[i], b.hi[i])
		}
		return s
	}

	// The clipped sum saturates at the bound sums, which bracket the
	// budget up to the feasibility tolerance, so widening stops quickly.
	lo, hi := -budget, budget
	for i := 0; i < 60 && sumAt(lo) > budget; i++ {
		lo *= 2
	}
	for i := 0; i < 60 && sumAt(hi) < budget; i++ {
		hi *= 2
	}

	for iter := 0; iter < 100; iter++ {
		mid := (lo + hi) / 2
		if sumAt(mid) < budget {
			lo = mid
		} else {
			hi = mid
		}
	}

	nu := (lo + hi) / 2
	for i := range x {
		x[i] = clamp(x[i]+nu, b.lo[i], b.hi[i])
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

func (s *Solver) buildResult(curves []*model.ResponseCurve, channels []string, sc *Scenario, a *attempt) *Result {
	allocation := make(map[string]float64, len(channels))
	for i, ch := range channels {
		allocation[ch] = a.x[i]
	}

	var currentSales float64
	for i, c := range curves {
		currentSales += c.Evaluate(sc.Current[channels[i]])
	}

	lift := 0.0
	if currentSales > 0 {
		lift = (a.objective - currentSales) / currentSales
	}

	changes := make(map[string]float64, len(channels))
	for _, ch := range channels {
		cur := sc.Current[ch]
		if cur == 0 {
			cur = 1
		}
		changes[ch] = (allocation[ch] - sc.Current[ch]) / cur
	}

	roi := 0.0
	if sc.TotalBudget > 0 {
		roi = a.objective / sc.TotalBudget
	}

	return &Result{
		Scenario:     sc.Name,
		TotalBudget:  sc.TotalBudget,
		Allocation:   allocation,
		Objective:    a.objective,
		CurrentSales: currentSales,
		ExpectedLift: lift,
		SpendChanges: changes,
		OverallROI:   roi,
		Iterations:   a.iterations,
		Restarts:     s.cfg.Restarts,
		RelaxedRetry: a.relaxedRetry,
	}
}

// SortOutcomes orders outcomes by scenario name for stable reporting.
func SortOutcomes(outcomes []Outcome) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Scenario < outcomes[j].Scenario })
}
