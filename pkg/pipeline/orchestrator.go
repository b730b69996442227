package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/mmx-optimizer/pkg/infra/logger"
	"github.com/jguan/mmx-optimizer/pkg/mmm"
)

// Orchestrator drives runs through their stage sequence. It holds no
// run state of its own: every transition is read from and written to
// the store, so any process with store access can pick a run up.
type Orchestrator struct {
	store Store
	gate  *Gate
	reg   *Registry
}

// New returns an orchestrator over the given store, gate, and registry.
func New(store Store, gate *Gate, reg *Registry) *Orchestrator {
	return &Orchestrator{store: store, gate: gate, reg: reg}
}

// Gate exposes the checkpoint gate for decision recording.
func (o *Orchestrator) Gate() *Gate { return o.gate }

// Submit creates a run for the given stage sequence and initial input
// and returns its ID. The run starts pending; nothing executes until
// Advance is called.
func (o *Orchestrator) Submit(ctx context.Context, stages []string, input *SubmitInput) (string, error) {
	if len(stages) == 0 {
		return "", mmm.New(mmm.CodeValidation, "empty stage sequence")
	}
	seen := make(map[string]bool, len(stages))
	for _, stage := range stages {
		if !o.reg.Has(stage) {
			return "", mmm.Newf(mmm.CodeValidation, "unknown stage %q", stage)
		}
		if seen[stage] {
			return "", mmm.Newf(mmm.CodeValidation, "duplicate stage %q", stage)
		}
		seen[stage] = true
	}
	if err := input.Validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return "", mmm.Wrap(err, mmm.CodeValidation, "encode run input")
	}

	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		Stages:    append([]string(nil), stages...),
		Status:    StatusPending,
		Artifacts: make(map[string]string),
		Input:     raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return "", err
	}

	logger.WithContext(logger.SetRunID(ctx, run.ID)).Info("run submitted", "stages", stages)
	return run.ID, nil
}

// Advance executes the run's next pending stage: load prior artifacts,
// invoke the stage, persist the artifact, update run status. A gated
// stage leaves the run awaiting a checkpoint decision; a failed stage
// persists no artifact and attaches the error verbatim. Advancing a
// terminal or suspended run is an invalid state transition.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (*StageOutcome, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch {
	case run.Status.Terminal():
		return nil, mmm.Newf(mmm.CodeInvalidState, "cannot advance %s run %q", run.Status, runID)
	case run.Status == StatusAwaitingCheckpoint:
		return nil, mmm.Newf(mmm.CodeInvalidState, "run %q awaits a checkpoint decision for stage %q", runID, run.Stages[run.CurrentStage-1])
	case run.Status == StatusRunning:
		return nil, mmm.Newf(mmm.CodeInvalidState, "run %q is already running", runID)
	}

	if run.CurrentStage >= len(run.Stages) {
		// All artifacts exist but the status lagged; close the run out.
		run.Status = StatusCompleted
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		return &StageOutcome{RunID: runID, Status: StatusCompleted}, nil
	}

	stage := run.Stages[run.CurrentStage]
	stageCtx := logger.SetStage(logger.SetRunID(ctx, runID), stage)
	log := logger.WithContext(stageCtx)

	fn, ok := o.reg.Get(stage)
	if !ok {
		return nil, mmm.Newf(mmm.CodeInvalidState, "stage %q is no longer registered", stage)
	}

	run.Status = StatusRunning
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	log.Info("stage started")
	result, stageErr := fn(stageCtx, &RunContext{Run: run, store: o.store})
	if stageErr != nil {
		run.Status = StatusFailed
		run.Error = stageErr.Error()
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		log.Error("stage failed", "error", stageErr)
		return &StageOutcome{RunID: runID, Stage: stage, Status: StatusFailed}, stageErr
	}

	payload, err := json.Marshal(result.Payload)
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		_ = o.store.UpdateRun(ctx, run)
		return nil, mmm.Wrap(err, mmm.CodeInternal, "encode stage artifact")
	}

	artifact := &Artifact{
		ID:        uuid.NewString(),
		RunID:     runID,
		Stage:     stage,
		Producer:  stage,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.SaveArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	run.Artifacts[stage] = artifact.ID
	run.CurrentStage++

	outcome := &StageOutcome{RunID: runID, Stage: stage, ArtifactID: artifact.ID}

	switch {
	case o.gate.IsGated(stage):
		cp := &Checkpoint{
			RunID:     runID,
			Stage:     stage,
			Summary:   result.Summary,
			Decision:  DecisionPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := o.store.SaveCheckpoint(ctx, cp); err != nil {
			return nil, err
		}
		run.Status = StatusAwaitingCheckpoint
		outcome.Gated = true
	case run.CurrentStage >= len(run.Stages):
		run.Status = StatusCompleted
	default:
		run.Status = StatusPending
	}
	outcome.Status = run.Status

	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	log.Info("stage completed", "status", run.Status)
	return outcome, nil
}

// AdvanceAll advances until the run suspends, completes, or fails.
// Checkpoint waiting is a suspension, not a busy-wait: AdvanceAll
// returns as soon as a decision is required.
func (o *Orchestrator) AdvanceAll(ctx context.Context, runID string) (*RunSummary, error) {
	for {
		outcome, err := o.Advance(ctx, runID)
		if err != nil {
			return nil, err
		}
		if outcome.Status != StatusPending {
			return o.Status(ctx, runID)
		}
	}
}

// Resume repositions a run from store contents alone: the next stage is
// the first one lacking a persisted artifact. Interrupted "running"
// state is rolled back to pending; an undecided checkpoint keeps the
// run suspended.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, mmm.Newf(mmm.CodeInvalidState, "cannot resume %s run %q", run.Status, runID)
	}

	idx := 0
	for idx < len(run.Stages) {
		a, err := o.store.GetArtifact(ctx, runID, run.Stages[idx])
		if err != nil {
			if mmm.IsNotFound(err) {
				break
			}
			return nil, err
		}
		run.Artifacts[run.Stages[idx]] = a.ID
		idx++
	}
	run.CurrentStage = idx

	switch {
	case idx > 0 && o.pendingCheckpoint(ctx, runID, run.Stages[idx-1]):
		run.Status = StatusAwaitingCheckpoint
	case idx >= len(run.Stages):
		run.Status = StatusCompleted
	default:
		run.Status = StatusPending
	}

	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	logger.WithContext(logger.SetRunID(ctx, runID)).Info("run resumed",
		"current_stage", run.CurrentStageName(), "status", run.Status)
	return run, nil
}

func (o *Orchestrator) pendingCheckpoint(ctx context.Context, runID, stage string) bool {
	if !o.gate.IsGated(stage) {
		return false
	}
	cp, err := o.store.GetCheckpoint(ctx, runID, stage)
	if err != nil {
		return false
	}
	return cp.Decision == DecisionPending
}

// Status returns the status-query view of a run.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*RunSummary, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:        run.ID,
		Status:       run.Status,
		CurrentStage: run.CurrentStageName(),
		Error:        run.Error,
	}
	for _, stage := range run.Stages {
		if _, ok := run.Artifacts[stage]; ok {
			summary.CompletedStages = append(summary.CompletedStages, stage)
		}
	}

	if run.Status == StatusAwaitingCheckpoint && run.CurrentStage > 0 {
		if cp, err := o.store.GetCheckpoint(ctx, runID, run.Stages[run.CurrentStage-1]); err == nil {
			summary.PendingCheckpoint = cp
		}
	}

	return summary, nil
}

// ListRuns returns recent runs, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	return o.store.ListRuns(ctx, limit)
}

// Artifact returns one stage's persisted artifact for a run.
func (o *Orchestrator) Artifact(ctx context.Context, runID, stage string) (*Artifact, error) {
	return o.store.GetArtifact(ctx, runID, stage)
}

// Checkpoints lists a run's checkpoints in creation order.
func (o *Orchestrator) Checkpoints(ctx context.Context, runID string) ([]*Checkpoint, error) {
	return o.store.ListCheckpoints(ctx, runID)
}
