package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jguan/mmx-optimizer/pkg/dataset"
	"github.com/jguan/mmx-optimizer/pkg/mmm"
	"github.com/jguan/mmx-optimizer/pkg/model"
	"github.com/jguan/mmx-optimizer/pkg/optimizer"
	"github.com/jguan/mmx-optimizer/pkg/transform"
)

// Built-in stage names, in pipeline order.
const (
	StageIngest    = "ingest_data"
	StageTransform = "transform_features"
	StageTrain     = "train_model"
	StageOptimize  = "optimize_budget"
)

// DefaultStages returns the standard stage sequence.
func DefaultStages() []string {
	return []string{StageIngest, StageTransform, StageTrain, StageOptimize}
}

// RunContext gives a stage read access to the run's input and to
// artifacts produced by earlier stages.
type RunContext struct {
	Run   *Run
	store Store
}

// Input unmarshals the run's initial input into out.
func (rc *RunContext) Input(out any) error {
	if len(rc.Run.Input) == 0 {
		return mmm.New(mmm.CodeValidation, "run has no input")
	}
	if err := json.Unmarshal(rc.Run.Input, out); err != nil {
		return mmm.Wrap(err, mmm.CodeValidation, "decode run input")
	}
	return nil
}

// Artifact loads a prior stage's artifact and unmarshals its payload.
func (rc *RunContext) Artifact(ctx context.Context, stage string, out any) error {
	a, err := rc.store.GetArtifact(ctx, rc.Run.ID, stage)
	if err != nil {
		return err
	}
	return a.Decode(out)
}

// StageResult is a stage's output: the payload persisted as the stage
// artifact and a human-readable summary shown at checkpoints.
type StageResult struct {
	Payload any
	Summary map[string]any
}

// StageFunc is the uniform stage contract: read prior artifacts, produce
// a new one. Stages are pure with respect to the store; the orchestrator
// does all persistence.
type StageFunc func(ctx context.Context, rc *RunContext) (*StageResult, error)

// Registry maps stage names to their implementations, keeping the
// orchestrator stage-agnostic.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]StageFunc
}

// NewRegistry returns an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]StageFunc)}
}

// Register adds or replaces a stage implementation.
func (r *Registry) Register(name string, fn StageFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = fn
}

// Get looks up a stage implementation.
func (r *Registry) Get(name string) (StageFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.stages[name]
	return fn, ok
}

// Has reports whether a stage name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// DefaultRegistry registers the built-in marketing-mix stages.
func DefaultRegistry(solverCfg optimizer.Config) *Registry {
	r := NewRegistry()
	r.Register(StageIngest, ingestStage)
	r.Register(StageTransform, transformStage)
	r.Register(StageTrain, trainStage)
	r.Register(StageOptimize, optimizeStage(solverCfg))
	return r
}

// TransformPayload is the transform stage artifact: the composed feature
// matrix aligned with the target series.
type TransformPayload struct {
	Channels []string                    `json:"channels"`
	Features [][]float64                 `json:"features"`
	Target   []float64                   `json:"target"`
	Params   map[string]transform.Params `json:"params"`
}

// TrainPayload is the train stage artifact: the model plus the response
// curves the optimizer consumes.
type TrainPayload struct {
	Model         *model.Artifact        `json:"model"`
	Curves        []*model.ResponseCurve `json:"curves"`
	Contributions []model.Contribution   `json:"contributions"`
	MaxSpend      map[string]float64     `json:"max_spend"`
}

// OptimizePayload is the optimize stage artifact: per-scenario results
// and per-scenario failures, reported side by side.
type OptimizePayload struct {
	Results  []*optimizer.Result `json:"results"`
	Failures map[string]string   `json:"failures,omitempty"`
}

func ingestStage(ctx context.Context, rc *RunContext) (*StageResult, error) {
	var in SubmitInput
	if err := rc.Input(&in); err != nil {
		return nil, err
	}

	table := in.Table
	if table == nil {
		var err error
		table, err = dataset.LoadCSV(in.DataPath)
		if err != nil {
			return nil, err
		}
	}

	// Every planned channel must exist in the table.
	for ch := range in.Plan.Channels {
		if _, ok := table.Spend[ch]; !ok {
			return nil, mmm.Newf(mmm.CodeValidation, "plan channel %q has no spend column in the feature table", ch)
		}
	}

	return &StageResult{
		Payload: table,
		Summary: map[string]any{
			"rows":     table.Rows(),
			"channels": table.Channels,
		},
	}, nil
}

func transformStage(ctx context.Context, rc *RunContext) (*StageResult, error) {
	var in SubmitInput
	if err := rc.Input(&in); err != nil {
		return nil, err
	}
	var table dataset.Table
	if err := rc.Artifact(ctx, StageIngest, &table); err != nil {
		return nil, err
	}

	channels := planChannels(in.Plan)
	features, err := transform.FeatureMatrix(table.Spend, in.Plan.Channels, channels)
	if err != nil {
		return nil, err
	}

	return &StageResult{
		Payload: &TransformPayload{
			Channels: channels,
			Features: features,
			Target:   table.Sales,
			Params:   in.Plan.Channels,
		},
		Summary: map[string]any{
			"channels":     channels,
			"observations": len(features),
		},
	}, nil
}

func trainStage(ctx context.Context, rc *RunContext) (*StageResult, error) {
	var in SubmitInput
	if err := rc.Input(&in); err != nil {
		return nil, err
	}
	var table dataset.Table
	if err := rc.Artifact(ctx, StageIngest, &table); err != nil {
		return nil, err
	}
	var tp TransformPayload
	if err := rc.Artifact(ctx, StageTransform, &tp); err != nil {
		return nil, err
	}

	trainer, err := model.NewTrainer(model.TrainerConfig{
		Lambda:     in.Plan.Trainer.Lambda,
		TrainSplit: in.Plan.Trainer.TrainSplit,
	})
	if err != nil {
		return nil, err
	}

	artifact, err := trainer.Fit(tp.Features, tp.Target, tp.Channels, tp.Params)
	if err != nil {
		return nil, err
	}

	maxSpend := table.MaxSpend(in.Plan.maxSpendFactor())
	curves, err := model.BuildCurves(artifact, maxSpend)
	if err != nil {
		return nil, err
	}

	return &StageResult{
		Payload: &TrainPayload{
			Model:         artifact,
			Curves:        curves,
			Contributions: artifact.Contributions(tp.Features),
			MaxSpend:      maxSpend,
		},
		Summary: map[string]any{
			"r_squared":       artifact.Metrics.RSquared,
			"r_squared_train": artifact.Metrics.RSquaredTrain,
			"coefficients":    artifact.Coefficients,
			"intercept":       artifact.Intercept,
		},
	}, nil
}

func optimizeStage(cfg optimizer.Config) StageFunc {
	return func(ctx context.Context, rc *RunContext) (*StageResult, error) {
		var in SubmitInput
		if err := rc.Input(&in); err != nil {
			return nil, err
		}
		if len(in.Plan.Scenarios) == 0 {
			return nil, mmm.New(mmm.CodeValidation, "plan has no optimization scenarios")
		}
		var tp TrainPayload
		if err := rc.Artifact(ctx, StageTrain, &tp); err != nil {
			return nil, err
		}

		solver := optimizer.NewSolver(cfg)
		outcomes := solver.OptimizeAll(ctx, tp.Curves, in.Plan.Scenarios)
		optimizer.SortOutcomes(outcomes)

		payload := &OptimizePayload{}
		for _, oc := range outcomes {
			if oc.Err != nil {
				if payload.Failures == nil {
					payload.Failures = make(map[string]string)
				}
				payload.Failures[oc.Scenario] = oc.Err.Error()
				continue
			}
			payload.Results = append(payload.Results, oc.Result)
		}

		// Sibling failures are reported per scenario; only a wholesale
		// failure fails the stage.
		if len(payload.Results) == 0 {
			return nil, mmm.Newf(mmm.CodeInfeasible, "all %d scenarios failed: %s",
				len(outcomes), firstFailure(payload.Failures))
		}

		summary := map[string]any{"scenarios": len(outcomes), "failed": len(payload.Failures)}
		for _, res := range payload.Results {
			summary[res.Scenario] = map[string]any{
				"objective":     res.Objective,
				"expected_lift": res.ExpectedLift,
			}
		}

		return &StageResult{Payload: payload, Summary: summary}, nil
	}
}

func planChannels(p *Plan) []string {
	channels := make([]string, 0, len(p.Channels))
	for ch := range p.Channels {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

func firstFailure(failures map[string]string) string {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "no scenarios"
	}
	return fmt.Sprintf("%s: %s", names[0], failures[names[0]])
}
