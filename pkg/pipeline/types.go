// Package pipeline implements the stage orchestrator with checkpoint
// gating: runs advance through a fixed stage sequence, every stage output
// is persisted as a write-once artifact, and gated stages suspend the run
// until a human decision is recorded. The orchestrator itself is stateless;
// a run is reconstructible from the store alone.
package pipeline

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	StatusPending            RunStatus = "pending"
	StatusRunning            RunStatus = "running"
	StatusAwaitingCheckpoint RunStatus = "awaiting_checkpoint"
	StatusCompleted          RunStatus = "completed"
	StatusFailed             RunStatus = "failed"
	StatusAborted            RunStatus = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Run is the durable record of one pipeline execution. Only the
// orchestrator mutates it; the stage index advances monotonically.
type Run struct {
	ID           string            `json:"id"`
	Stages       []string          `json:"stages"`
	CurrentStage int               `json:"current_stage"`
	Status       RunStatus         `json:"status"`
	Artifacts    map[string]string `json:"artifacts"`
	Input        json.RawMessage   `json:"input,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// CurrentStageName returns the name of the next stage to execute, or ""
// when the sequence is exhausted.
func (r *Run) CurrentStageName() string {
	if r.CurrentStage < 0 || r.CurrentStage >= len(r.Stages) {
		return ""
	}
	return r.Stages[r.CurrentStage]
}

// Artifact is one stage's persisted output. Artifacts are write-once:
// saving a second artifact for the same (run, stage) fails.
type Artifact struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Stage     string          `json:"stage"`
	Producer  string          `json:"producer"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the artifact payload into out.
func (a *Artifact) Decode(out any) error {
	return json.Unmarshal(a.Payload, out)
}

// Decision is the resolution state of a checkpoint.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Checkpoint is a human-approval gate created when a gated stage
// completes. It is resolved exactly once per run per stage.
type Checkpoint struct {
	RunID     string         `json:"run_id"`
	Stage     string         `json:"stage"`
	Summary   map[string]any `json:"summary"`
	Decision  Decision       `json:"decision"`
	Note      string         `json:"note,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
}

// StageOutcome is what Advance reports for one executed stage.
type StageOutcome struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Status     RunStatus `json:"status"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Gated      bool      `json:"gated,omitempty"`
}

// RunSummary is the status-query view of a run.
type RunSummary struct {
	RunID             string      `json:"run_id"`
	Status            RunStatus   `json:"status"`
	CurrentStage      string      `json:"current_stage,omitempty"`
	CompletedStages   []string    `json:"completed_stages"`
	PendingCheckpoint *Checkpoint `json:"pending_checkpoint,omitempty"`
	Error             string      `json:"error,omitempty"`
}
