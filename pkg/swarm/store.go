// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

// Package swarm is the persistent task queue: swarms of subtasks with a
// claim-based state machine, an LLM-backed decomposer and a level-parallel
// executor.
package swarm

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Task status values.
const (
	StatusPending = "pending"
	StatusClaimed = "claimed"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Task execution modes.
const (
	ModeInline = "inline"
	ModeAgent  = "agent"
)

// Metadata is the opaque blob attached to a task row.
type Metadata struct {
	DependsOn    []int  `json:"depends_on,omitempty"`
	Capability   string `json:"capability,omitempty"`
	SubtaskIndex int    `json:"subtask_index,omitempty"`
	Notified     bool   `json:"notified,omitempty"`
}

// Task is one unit of work in a swarm.
type Task struct {
	ID          string
	SwarmID     string
	Seq         int
	Description string
	Prompt      string
	Status      string
	AgentID     string
	Model       string
	Strategy    string
	Mode        string
	Result      string
	Error       string
	CreatedAt   time.Time
	ClaimedAt   time.Time
	CompletedAt time.Time
	Metadata    Metadata
}

// Terminal reports whether the task can never transition again.
func (t *Task) Terminal() bool {
	return t.Status == StatusDone || t.Status == StatusFailed
}

// TaskNotFoundError means the referenced task id does not exist.
type TaskNotFoundError struct {
	ID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.ID)
}

// Store owns the swarm task table and the lifecycle hook registry. The same
// database file also carries the message bus tables.
type Store struct {
	db *sql.DB

	hookMu sync.RWMutex
	hooks  []Hook
}

const schema = `
CREATE TABLE IF NOT EXISTS swarm_tasks (
	id TEXT PRIMARY KEY,
	swarm_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	description TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	agent_id TEXT,
	model TEXT NOT NULL DEFAULT '',
	strategy TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT 'inline',
	result TEXT,
	error TEXT,
	created_at TEXT NOT NULL,
	claimed_at TEXT,
	completed_at TEXT,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_swarm_tasks_swarm ON swarm_tasks(swarm_id);
CREATE INDEX IF NOT EXISTS idx_swarm_tasks_status ON swarm_tasks(status);
CREATE INDEX IF NOT EXISTS idx_swarm_tasks_status_claimed ON swarm_tasks(status, claimed_at);
`

// Open creates or opens the swarm store at path in WAL mode.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening swarm store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating swarm schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the shared handle so the message bus can live in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed-width so lexicographic comparison in SQL matches
// chronological order; RFC3339Nano trims trailing zeros and breaks that
// within a second. The trailing Z is literal, stamps are always UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func nowStamp() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseStamp(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

const taskColumns = `id, swarm_id, seq, description, prompt, status, agent_id,
	model, strategy, mode, result, error, created_at, claimed_at, completed_at, metadata`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var agentID, result, taskErr, claimedAt, completedAt sql.NullString
	var createdAt, metadata string
	if err := row.Scan(
		&t.ID, &t.SwarmID, &t.Seq, &t.Description, &t.Prompt, &t.Status, &agentID,
		&t.Model, &t.Strategy, &t.Mode, &result, &taskErr, &createdAt, &claimedAt,
		&completedAt, &metadata,
	); err != nil {
		return nil, err
	}
	t.AgentID = agentID.String
	t.Result = result.String
	t.Error = taskErr.String
	t.CreatedAt = parseStamp(sql.NullString{String: createdAt, Valid: true})
	t.ClaimedAt = parseStamp(claimedAt)
	t.CompletedAt = parseStamp(completedAt)
	if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
		t.Metadata = Metadata{}
	}
	return &t, nil
}
