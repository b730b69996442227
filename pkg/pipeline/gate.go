package pipeline

import (
	"context"
	"time"

	"github.com/jguan/mmx-optimizer/pkg/infra/logger"
	"github.com/jguan/mmx-optimizer/pkg/mmm"
)

// Gate decides which stages pause for human approval and records the
// decisions that resume or abort a run. A checkpoint is resolved at most
// once; re-recording fails and changes nothing.
type Gate struct {
	gated map[string]bool
	store Store
}

// NewGate returns a gate pausing after each of the given stage names.
func NewGate(gatedStages []string, store Store) *Gate {
	gated := make(map[string]bool, len(gatedStages))
	for _, s := range gatedStages {
		gated[s] = true
	}
	return &Gate{gated: gated, store: store}
}

// IsGated reports whether the stage requires approval before the run
// may proceed.
func (g *Gate) IsGated(stage string) bool {
	return g.gated[stage]
}

// RecordDecision resolves a pending checkpoint. Approval returns the run
// to pending so the next Advance resumes it; rejection aborts the run but
// preserves every artifact already produced for forensic inspection.
func (g *Gate) RecordDecision(ctx context.Context, runID, stage string, approved bool, note string) error {
	cp, err := g.store.GetCheckpoint(ctx, runID, stage)
	if err != nil {
		return err
	}
	if cp.Decision != DecisionPending {
		return mmm.Newf(mmm.CodeDuplicateDecision, "checkpoint for run %q stage %q already %s", runID, stage, cp.Decision)
	}

	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != StatusAwaitingCheckpoint {
		return mmm.Newf(mmm.CodeInvalidState, "run %q is %s, not awaiting a checkpoint", runID, run.Status)
	}

	now := time.Now().UTC()
	cp.DecidedAt = &now
	cp.Note = note
	if approved {
		cp.Decision = DecisionApproved
		if run.CurrentStage >= len(run.Stages) {
			// The gated stage was the last one; approval finishes the run.
			run.Status = StatusCompleted
		} else {
			run.Status = StatusPending
		}
	} else {
		cp.Decision = DecisionRejected
		run.Status = StatusAborted
	}

	if err := g.store.UpdateCheckpoint(ctx, cp); err != nil {
		return err
	}
	if err := g.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	logger.WithContext(logger.SetRunID(ctx, runID)).Info("checkpoint decision recorded",
		"stage", stage, "decision", cp.Decision)
	return nil
}
