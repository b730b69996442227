// Package store provides the SQLite-backed durable implementation of
// pipeline.Store. Runs, artifacts, and checkpoints live in one database
// file so a run is resumable from the file alone.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jguan/mmx-optimizer/pkg/mmm"
	"github.com/jguan/mmx-optimizer/pkg/pipeline"
)

// SQLiteStore implements pipeline.Store on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and prepares
// the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema. The UNIQUE(run_id, stage)
// constraint on artifacts is what enforces write-once semantics.
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		stages TEXT NOT NULL,
		current_stage INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		artifacts TEXT NOT NULL DEFAULT '{}',
		input BLOB,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		producer TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(run_id, stage)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '{}',
		decision TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		decided_at TEXT,
		PRIMARY KEY(run_id, stage)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// CreateRun implements pipeline.Store.CreateRun.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *pipeline.Run) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	artifactsJSON, err := json.Marshal(run.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifact map: %w", err)
	}

	query := `
		INSERT INTO runs (id, stages, current_stage, status, artifacts, input, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID, string(stagesJSON), run.CurrentStage, string(run.Status),
		string(artifactsJSON), []byte(run.Input), run.Error,
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return mmm.Newf(mmm.CodeAlreadyExists, "run %q already exists", run.ID)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun implements pipeline.Store.GetRun.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	query := `SELECT id, stages, current_stage, status, artifacts, input, error, created_at, updated_at FROM runs WHERE id = ?`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, mmm.Newf(mmm.CodeNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// UpdateRun implements pipeline.Store.UpdateRun.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	artifactsJSON, err := json.Marshal(run.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifact map: %w", err)
	}

	query := `
		UPDATE runs SET
			current_stage = ?, status = ?, artifacts = ?, error = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		run.CurrentStage, string(run.Status), string(artifactsJSON), run.Error,
		time.Now().UTC().Format(time.RFC3339Nano), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return mmm.Newf(mmm.CodeNotFound, "run %q not found", run.ID)
	}
	return nil
}

// ListRuns implements pipeline.Store.ListRuns, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*pipeline.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, stages, current_stage, status, artifacts, input, error, created_at, updated_at FROM runs ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*pipeline.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveArtifact implements pipeline.Store.SaveArtifact. A second artifact
// for the same (run, stage) fails with already_exists.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, a *pipeline.Artifact) error {
	query := `
		INSERT INTO artifacts (id, run_id, stage, producer, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.RunID, a.Stage, a.Producer, []byte(a.Payload),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return mmm.Newf(mmm.CodeAlreadyExists, "artifact for run %q stage %q already written", a.RunID, a.Stage)
	}
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetArtifact implements pipeline.Store.GetArtifact.
func (s *SQLiteStore) GetArtifact(ctx context.Context, runID, stage string) (*pipeline.Artifact, error) {
	query := `SELECT id, run_id, stage, producer, payload, created_at FROM artifacts WHERE run_id = ? AND stage = ?`
	row := s.db.QueryRowContext(ctx, query, runID, stage)

	a := &pipeline.Artifact{}
	var createdAt string
	var payload []byte
	err := row.Scan(&a.ID, &a.RunID, &a.Stage, &a.Producer, &payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, mmm.Newf(mmm.CodeNotFound, "no artifact for run %q stage %q", runID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	a.Payload = payload
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

// ListArtifacts implements pipeline.Store.ListArtifacts in creation order.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, runID string) ([]*pipeline.Artifact, error) {
	query := `SELECT id, run_id, stage, producer, payload, created_at FROM artifacts WHERE run_id = ? ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Artifact
	for rows.Next() {
		a := &pipeline.Artifact{}
		var createdAt string
		var payload []byte
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &a.Producer, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Payload = payload
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveCheckpoint implements pipeline.Store.SaveCheckpoint.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error {
	summaryJSON, err := json.Marshal(cp.Summary)
	if err != nil {
		return fmt.Errorf("encode checkpoint summary: %w", err)
	}

	query := `
		INSERT INTO checkpoints (run_id, stage, summary, decision, note, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		cp.RunID, cp.Stage, string(summaryJSON), string(cp.Decision), cp.Note,
		cp.CreatedAt.UTC().Format(time.RFC3339Nano), formatNullableTime(cp.DecidedAt),
	)
	if isUniqueViolation(err) {
		return mmm.Newf(mmm.CodeAlreadyExists, "checkpoint for run %q stage %q already exists", cp.RunID, cp.Stage)
	}
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint implements pipeline.Store.GetCheckpoint.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, runID, stage string) (*pipeline.Checkpoint, error) {
	query := `SELECT run_id, stage, summary, decision, note, created_at, decided_at FROM checkpoints WHERE run_id = ? AND stage = ?`
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, runID, stage))
	if err == sql.ErrNoRows {
		return nil, mmm.Newf(mmm.CodeNotFound, "no checkpoint for run %q stage %q", runID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return cp, nil
}

// UpdateCheckpoint implements pipeline.Store.UpdateCheckpoint.
func (s *SQLiteStore) UpdateCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error {
	query := `
		UPDATE checkpoints SET decision = ?, note = ?, decided_at = ?
		WHERE run_id = ? AND stage = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(cp.Decision), cp.Note, formatNullableTime(cp.DecidedAt),
		cp.RunID, cp.Stage,
	)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return mmm.Newf(mmm.CodeNotFound, "no checkpoint for run %q stage %q", cp.RunID, cp.Stage)
	}
	return nil
}

// ListCheckpoints implements pipeline.Store.ListCheckpoints in creation order.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, runID string) ([]*pipeline.Checkpoint, error) {
	query := `SELECT run_id, stage, summary, decision, note, created_at, decided_at FROM checkpoints WHERE run_id = ? ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*pipeline.Run, error) {
	run := &pipeline.Run{}
	var stagesJSON, artifactsJSON, status, createdAt, updatedAt string
	var errMsg sql.NullString
	var input []byte

	err := row.Scan(&run.ID, &stagesJSON, &run.CurrentStage, &status,
		&artifactsJSON, &input, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.Status = pipeline.RunStatus(status)
	run.Input = input
	run.Error = errMsg.String
	if err := json.Unmarshal([]byte(stagesJSON), &run.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	if err := json.Unmarshal([]byte(artifactsJSON), &run.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifact map: %w", err)
	}
	if run.Artifacts == nil {
		run.Artifacts = make(map[string]string)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return run, nil
}

func scanCheckpoint(row rowScanner) (*pipeline.Checkpoint, error) {
	cp := &pipeline.Checkpoint{}
	var summaryJSON, decision, createdAt string
	var note, decidedAt sql.NullString

	err := row.Scan(&cp.RunID, &cp.Stage, &summaryJSON, &decision, &note, &createdAt, &decidedAt)
	if err != nil {
		return nil, err
	}

	cp.Decision = pipeline.Decision(decision)
	cp.Note = note.String
	if err := json.Unmarshal([]byte(summaryJSON), &cp.Summary); err != nil {
		return nil, fmt.Errorf("decode checkpoint summary: %w", err)
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if decidedAt.Valid && decidedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, decidedAt.String)
		if err == nil {
			cp.DecidedAt = &t
		}
	}
	return cp, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// isUniqueViolation detects primary-key and UNIQUE constraint failures
// from the sqlite driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed") && strings.Contains(msg, "unique")
}

// Ensure SQLiteStore implements pipeline.Store.
var _ pipeline.Store = (*SQLiteStore)(nil)
