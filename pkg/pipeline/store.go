package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
)

// Store is the durable record of runs, artifacts, and checkpoints.
// Implementations must isolate runs from each other and enforce
// write-once artifacts.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	SaveArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, runID, stage string) (*Artifact, error)
	ListArtifacts(ctx context.Context, runID string) ([]*Artifact, error)

	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoint(ctx context.Context, runID, stage string) (*Checkpoint, error)
	UpdateCheckpoint(ctx context.Context, cp *Checkpoint) error
	ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error)
}

type artifactKey struct {
	runID string
	stage string
}

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	artifacts   map[artifactKey]*Artifact
	checkpoints map[artifactKey]*Checkpoint
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*Run),
		artifacts:   make(map[artifactKey]*Artifact),
		checkpoints: make(map[artifactKey]*Checkpoint),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return mmm.Newf(mmm.CodeAlreadyExists, "run %q already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, mmm.Newf(mmm.CodeNotFound, "run %q not found", id)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return mmm.Newf(mmm.CodeNotFound, "run %q not found", run.ID)
	}
	up := cloneRun(run)
	up.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = up
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveArtifact(ctx context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey{a.RunID, a.Stage}
	if _, exists := s.artifacts[key]; exists {
		return mmm.Newf(mmm.CodeAlreadyExists, "artifact for run %q stage %q already written", a.RunID, a.Stage)
	}
	s.artifacts[key] = cloneArtifact(a)
	return nil
}

func (s *MemoryStore) GetArtifact(ctx context.Context, runID, stage string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[artifactKey{runID, stage}]
	if !ok {
		return nil, mmm.Newf(mmm.CodeNotFound, "no artifact for run %q stage %q", runID, stage)
	}
	return cloneArtifact(a), nil
}

func (s *MemoryStore) ListArtifacts(ctx context.Context, runID string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Artifact
	for key, a := range s.artifacts {
		if key.runID == runID {
			out = append(out, cloneArtifact(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey{cp.RunID, cp.Stage}
	if _, exists := s.checkpoints[key]; exists {
		return mmm.Newf(mmm.CodeAlreadyExists, "checkpoint for run %q stage %q already exists", cp.RunID, cp.Stage)
	}
	s.checkpoints[key] = cloneCheckpoint(cp)
	return nil
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, runID, stage string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[artifactKey{runID, stage}]
	if !ok {
		return nil, mmm.Newf(mmm.CodeNotFound, "no checkpoint for run %q stage %q", runID, stage)
	}
	return cloneCheckpoint(cp), nil
}

func (s *MemoryStore) UpdateCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey{cp.RunID, cp.Stage}
	if _, ok := s.checkpoints[key]; !ok {
		return mmm.Newf(mmm.CodeNotFound, "no checkpoint for run %q stage %q", cp.RunID, cp.Stage)
	}
	s.checkpoints[key] = cloneCheckpoint(cp)
	return nil
}

func (s *MemoryStore) ListCheckpoints(ctx context.Context, runID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Checkpoint
	for key, cp := range s.checkpoints {
		if key.runID == runID {
			out = append(out, cloneCheckpoint(cp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Clones keep callers from mutating stored state through shared pointers.

func cloneRun(r *Run) *Run {
	cp := *r
	cp.Stages = append([]string(nil), r.Stages...)
	cp.Input = append([]byte(nil), r.Input...)
	cp.Artifacts = make(map[string]string, len(r.Artifacts))
	for k, v := range r.Artifacts {
		cp.Artifacts[k] = v
	}
	return &cp
}

func cloneArtifact(a *Artifact) *Artifact {
	cp := *a
	cp.Payload = append([]byte(nil), a.Payload...)
	return &cp
}

func cloneCheckpoint(c *Checkpoint) *Checkpoint {
	cp := *c
	cp.Summary = make(map[string]any, len(c.Summary))
	for k, v := range c.Summary {
		cp.Summary[k] = v
	}
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
