// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package swarm

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskSpec is one task in a swarm creation request.
type TaskSpec struct {
	Description string
	Prompt      string
	Model       string
	Strategy    string
	Mode        string
	Metadata    Metadata
}

// CreateSwarm inserts all tasks in one transaction, preserving insertion
// order as seq. A swarm id is generated when none is given.
func (s *Store) CreateSwarm(swarmID string, tasks []TaskSpec) (string, []string, error) {
	if len(tasks) == 0 {
		return "", nil, errors.New("swarm needs at least one task")
	}
	if swarmID == "" {
		u := uuid.New()
		swarmID = hex.EncodeToString(u[:])
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()

	now := nowStamp()
	ids := make([]string, 0, len(tasks))
	for seq, spec := range tasks {
		mode := spec.Mode
		if mode == "" {
			mode = ModeInline
		}
		meta, err := json.Marshal(spec.Metadata)
		if err != nil {
			return "", nil, err
		}
		id := fmt.Sprintf("%s-task-%d", swarmID, seq)
		if _, err := tx.Exec(
			`INSERT INTO swarm_tasks
				(id, swarm_id, seq, description, prompt, status, model, strategy, mode, created_at, metadata)
			 VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?)`,
			id, swarmID, seq, spec.Description, spec.Prompt, spec.Model, spec.Strategy, mode, now, string(meta),
		); err != nil {
			return "", nil, fmt.Errorf("inserting task %d: %w", seq, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return swarmID, ids, nil
}

// ClaimTask hands the next pending task to agentID, or nil when nothing is
// claimable. The conditional update on status is the serialization point:
// a worker that loses the race on one row moves on to the next pending task,
// so concurrent claimers drain the queue without double grants.
//
// With checkDeps, pending tasks are walked in seq order and only those whose
// depends_on entries are all done may be claimed.
func (s *Store) ClaimTask(swarmID, agentID string, checkDeps bool) (*Task, error) {
	if !checkDeps {
		for {
			task, err := s.pendingBySeq(swarmID, 1)
			if err != nil || len(task) == 0 {
				return nil, err
			}
			claimed, err := s.tryClaim(task[0].ID, agentID)
			if err != nil {
				return nil, err
			}
			if claimed != nil {
				return claimed, nil
			}
		}
	}

	pending, err := s.pendingBySeq(swarmID, 0)
	if err != nil {
		return nil, err
	}
	for _, candidate := range pending {
		ready, err := s.depsDone(swarmID, candidate.Metadata.DependsOn)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		claimed, err := s.tryClaim(candidate.ID, agentID)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

// ClaimTaskByID claims one specific pending task with the same conditional
// update primitive. The executor uses it to keep subtask indices and claimed
// rows aligned.
func (s *Store) ClaimTaskByID(taskID, agentID string) (*Task, error) {
	return s.tryClaim(taskID, agentID)
}

func (s *Store) tryClaim(taskID, agentID string) (*Task, error) {
	res, err := s.db.Exec(
		`UPDATE swarm_tasks SET status = 'claimed', agent_id = ?, claimed_at = ?
		 WHERE id = ? AND status = 'pending'`,
		agentID, nowStamp(), taskID,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	task, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	s.emit(EventClaim, task)
	return task, nil
}

func (s *Store) pendingBySeq(swarmID string, limit int) ([]*Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM swarm_tasks WHERE swarm_id = ? AND status = 'pending' ORDER BY seq`, taskColumns)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(q, swarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) depsDone(swarmID string, deps []int) (bool, error) {
	for _, seq := range deps {
		var status string
		err := s.db.QueryRow(
			`SELECT status FROM swarm_tasks WHERE swarm_id = ? AND seq = ?`,
			swarmID, seq,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, err
		}
		if status != StatusDone {
			return false, nil
		}
	}
	return true, nil
}

// MarkRunning moves a claimed task to running. Unclaimed tasks cannot skip
// ahead; workers claim first.
func (s *Store) MarkRunning(taskID string) error {
	res, err := s.db.Exec(
		`UPDATE swarm_tasks SET status = 'running' WHERE id = ? AND status = 'claimed'`,
		taskID,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(res, taskID, StatusRunning)
}

// CompleteTask finishes a task with its result. Terminal tasks never
// transition again.
func (s *Store) CompleteTask(taskID, result string) error {
	res, err := s.db.Exec(
		`UPDATE swarm_tasks SET status = 'done', result = ?, completed_at = ?
		 WHERE id = ? AND status NOT IN ('done', 'failed')`,
		result, nowStamp(), taskID,
	)
	if err != nil {
		return err
	}
	if err := s.checkTransition(res, taskID, StatusDone); err != nil {
		return err
	}
	task, err := s.GetTask(taskID)
	if err == nil {
		s.emit(EventComplete, task)
	}
	return nil
}

// FailTask finishes a task with an error message.
func (s *Store) FailTask(taskID, message string) error {
	res, err := s.db.Exec(
		`UPDATE swarm_tasks SET status = 'failed', error = ?, completed_at = ?
		 WHERE id = ? AND status NOT IN ('done', 'failed')`,
		message, nowStamp(), taskID,
	)
	if err != nil {
		return err
	}
	if err := s.checkTransition(res, taskID, StatusFailed); err != nil {
		return err
	}
	task, err := s.GetTask(taskID)
	if err == nil {
		s.emit(EventFail, task)
	}
	return nil
}

// ResetTask forces a non-terminal task back to pending, clearing ownership.
// External cron uses it to recover tasks from workers lost mid-flight.
func (s *Store) ResetTask(taskID string) error {
	res, err := s.db.Exec(
		`UPDATE swarm_tasks SET status = 'pending', agent_id = NULL, claimed_at = NULL
		 WHERE id = ? AND status NOT IN ('done', 'failed')`,
		taskID,
	)
	if err != nil {
		return err
	}
	if err := s.checkTransition(res, taskID, StatusPending); err != nil {
		return err
	}
	task, err := s.GetTask(taskID)
	if err == nil {
		s.emit(EventReset, task)
	}
	return nil
}

func (s *Store) checkTransition(res sql.Result, taskID, target string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetTask(taskID); err != nil {
		return err
	}
	return fmt.Errorf("task %q cannot transition to %s", taskID, target)
}

// GetTask fetches one task by id.
func (s *Store) GetTask(taskID string) (*Task, error) {
	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM swarm_tasks WHERE id = ?`, taskColumns), taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &TaskNotFoundError{ID: taskID}
		}
		return nil, err
	}
	return task, nil
}

// SwarmStatus is the per-status task count of one swarm.
type SwarmStatus struct {
	Total   int
	Pending int
	Claimed int
	Running int
	Done    int
	Failed  int
}

// GetSwarmStatus counts the swarm's tasks by status.
func (s *Store) GetSwarmStatus(swarmID string) (*SwarmStatus, error) {
	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM swarm_tasks WHERE swarm_id = ? GROUP BY status`,
		swarmID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var st SwarmStatus
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.Total += n
		switch status {
		case StatusPending:
			st.Pending = n
		case StatusClaimed:
			st.Claimed = n
		case StatusRunning:
			st.Running = n
		case StatusDone:
			st.Done = n
		case StatusFailed:
			st.Failed = n
		}
	}
	return &st, rows.Err()
}

// GetSwarmResults returns all tasks of a swarm in seq order.
func (s *Store) GetSwarmResults(swarmID string) ([]*Task, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM swarm_tasks WHERE swarm_id = ? ORDER BY seq`, taskColumns),
		swarmID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// IsSwarmComplete reports whether the swarm exists and every task is
// terminal.
func (s *Store) IsSwarmComplete(swarmID string) (bool, error) {
	st, err := s.GetSwarmStatus(swarmID)
	if err != nil {
		return false, err
	}
	return st.Total > 0 && st.Done+st.Failed == st.Total, nil
}

// GetStaleTasks returns claimed or running tasks whose claim is older than
// staleMinutes.
func (s *Store) GetStaleTasks(staleMinutes int) ([]*Task, error) {
	if staleMinutes <= 0 {
		staleMinutes = 15
	}
	cutoff := time.Now().UTC().Add(-time.Duration(staleMinutes) * time.Minute).Format(timeLayout)

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM swarm_tasks
			WHERE status IN ('claimed', 'running') AND claimed_at < ?
			ORDER BY claimed_at`, taskColumns),
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CleanCompletedSwarms deletes swarms where every task is terminal and the
// last completion is older than retentionDays. Returns deleted row count.
func (s *Store) CleanCompletedSwarms(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(timeLayout)

	res, err := s.db.Exec(
		`DELETE FROM swarm_tasks WHERE swarm_id IN (
			SELECT swarm_id FROM swarm_tasks
			GROUP BY swarm_id
			HAVING SUM(CASE WHEN status NOT IN ('done', 'failed') THEN 1 ELSE 0 END) = 0
			   AND MAX(completed_at) < ?
		)`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
