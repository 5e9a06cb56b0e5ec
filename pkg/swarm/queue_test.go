// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package swarm

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "swarm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func specs(descriptions ...string) []TaskSpec {
	out := make([]TaskSpec, len(descriptions))
	for i, d := range descriptions {
		out[i] = TaskSpec{Description: d}
	}
	return out
}

func TestCreateSwarm(t *testing.T) {
	store := openTestStore(t)

	swarmID, ids, err := store.CreateSwarm("", specs("a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.NotEmpty(t, swarmID)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("%s-task-%d", swarmID, i), id)
	}

	tasks, err := store.GetSwarmResults(swarmID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i, task.Seq)
		assert.Equal(t, StatusPending, task.Status)
		assert.Equal(t, ModeInline, task.Mode)
		assert.False(t, task.CreatedAt.IsZero())
	}
}

func TestCreateSwarmExplicitID(t *testing.T) {
	store := openTestStore(t)
	swarmID, _, err := store.CreateSwarm("my-swarm", specs("a"))
	require.NoError(t, err)
	assert.Equal(t, "my-swarm", swarmID)
}

func TestCreateSwarmEmpty(t *testing.T) {
	store := openTestStore(t)
	_, _, err := store.CreateSwarm("", nil)
	require.Error(t, err)
}

func TestClaimAtomicity(t *testing.T) {
	store := openTestStore(t)
	swarmID, _, err := store.CreateSwarm("", specs("a", "b", "c"))
	require.NoError(t, err)

	// 5 workers race for 3 tasks: exactly 3 distinct wins.
	var mu sync.Mutex
	claimed := map[string]bool{}
	var none int

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			task, err := store.ClaimTask(swarmID, fmt.Sprintf("agent-%d", w), false)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if task == nil {
				none++
				return
			}
			assert.Equal(t, StatusClaimed, task.Status)
			assert.False(t, claimed[task.ID], "task %s claimed twice", task.ID)
			claimed[task.ID] = true
		}(w)
	}
	wg.Wait()

	assert.Len(t, claimed, 3, "exactly one winner per pending task")
	assert.Equal(t, 2, none)
	for id := range claimed {
		task, err := store.GetTask(id)
		require.NoError(t, err)
		assert.Equal(t, StatusClaimed, task.Status)
	}
}

func TestClaimSequentialDrainsInSeqOrder(t *testing.T) {
	store := openTestStore(t)
	swarmID, ids, err := store.CreateSwarm("", specs("a", "b", "c"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		task, err := store.ClaimTask(swarmID, "agent", false)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, ids[i], task.ID)
		assert.Equal(t, "agent", task.AgentID)
		assert.False(t, task.ClaimedAt.IsZero())
	}

	task, err := store.ClaimTask(swarmID, "agent", false)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestClaimWithDependencyGating(t *testing.T) {
	store := openTestStore(t)
	swarmID, ids, err := store.CreateSwarm("", []TaskSpec{
		{Description: "t0"},
		{Description: "t1", Metadata: Metadata{DependsOn: []int{0}}},
		{Description: "t2", Metadata: Metadata{DependsOn: []int{1}}},
	})
	require.NoError(t, err)

	first, err := store.ClaimTask(swarmID, "w", true)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, ids[0], first.ID)

	blocked, err := store.ClaimTask(swarmID, "w", true)
	require.NoError(t, err)
	assert.Nil(t, blocked, "t1 and t2 must wait for their dependencies")

	require.NoError(t, store.CompleteTask(ids[0], "X"))
	second, err := store.ClaimTask(swarmID, "w", true)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, ids[1], second.ID)

	require.NoError(t, store.CompleteTask(ids[1], "Y"))
	third, err := store.ClaimTask(swarmID, "w", true)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, ids[2], third.ID)
}

func TestStateMachine(t *testing.T) {
	store := openTestStore(t)
	swarmID, ids, err := store.CreateSwarm("", specs("a"))
	require.NoError(t, err)
	id := ids[0]

	_, err = store.ClaimTask(swarmID, "w", false)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(id))

	task, err := store.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)

	require.NoError(t, store.CompleteTask(id, "result"))
	task, err = store.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, task.Status)
	assert.Equal(t, "result", task.Result)
	assert.False(t, task.CompletedAt.IsZero())

	// Terminal states never transition.
	assert.Error(t, store.FailTask(id, "too late"))
	assert.Error(t, store.ResetTask(id))
	task, err = store.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, task.Status)
}

func TestResetTask(t *testing.T) {
	store := openTestStore(t)
	swarmID, ids, err := store.CreateSwarm("", specs("a"))
	require.NoError(t, err)

	_, err = store.ClaimTask(swarmID, "lost-worker", false)
	require.NoError(t, err)
	require.NoError(t, store.ResetTask(ids[0]))

	task, err := store.GetTask(ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Empty(t, task.AgentID)
	assert.True(t, task.ClaimedAt.IsZero())

	// Claimable again.
	reclaimed, err := store.ClaimTask(swarmID, "new-worker", false)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
}

func TestTaskNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetTask("nope-task-0")
	var notFound *TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope-task-0", notFound.ID)

	require.ErrorAs(t, store.CompleteTask("nope-task-0", "x"), &notFound)
	require.ErrorAs(t, store.MarkRunning("nope-task-0"), &notFound)
}

func TestSwarmStatusAndCompletion(t *testing.T) {
	store := openTestStore(t)
	swarmID, ids, err := store.CreateSwarm("", specs("a", "b", "c"))
	require.NoError(t, err)

	done, err := store.IsSwarmComplete(swarmID)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = store.ClaimTask(swarmID, "w", false)
	require.NoError(t, err)
	require.NoError(t, store.CompleteTask(ids[0], "r0"))
	require.NoError(t, store.FailTask(ids[1], "boom"))

	st, err := store.GetSwarmStatus(swarmID)
	require.NoError(t, err)
	assert.Equal(t, SwarmStatus{Total: 3, Pending: 1, Done: 1, Failed: 1}, *st)

	require.NoError(t, store.CompleteTask(ids[2], "r2"))
	done, err = store.IsSwarmComplete(swarmID)
	require.NoError(t, err)
	assert.True(t, done)

	missing, err := store.IsSwarmComplete("ghost")
	require.NoError(t, err)
	assert.False(t, missing, "empty swarm is never complete")
}

func TestMarkRunningRequiresClaim(t *testing.T) {
	store := openTestStore(t)
	swarmID, ids, err := store.CreateSwarm("", specs("a"))
	require.NoError(t, err)

	assert.Error(t, store.MarkRunning(ids[0]), "pending tasks must be claimed first")
	task, err := store.GetTask(ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	_, err = store.ClaimTask(swarmID, "w", false)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ids[0]))
}

func TestStampOrderIsLexicographic(t *testing.T) {
	// Stale and retention cutoffs compare stamps as text in SQL, so string
	// order must match chronological order within a second.
	earlier := time.Date(2026, 8, 24, 10, 15, 30, 500_000_000, time.UTC)
	later := earlier.Add(20 * time.Millisecond)
	assert.Less(t, earlier.Format(timeLayout), later.Format(timeLayout))
}

func TestGetStaleTasks(t *testing.T) {
	store := openTestStore(t)
	swarmID, ids, err := store.CreateSwarm("", specs("a", "b"))
	require.NoError(t, err)

	_, err = store.ClaimTask(swarmID, "w", false)
	require.NoError(t, err)

	// Backdate the claim beyond the cutoff.
	old := time.Now().UTC().Add(-30 * time.Minute).Format(timeLayout)
	_, err = store.db.Exec(`UPDATE swarm_tasks SET claimed_at = ? WHERE id = ?`, old, ids[0])
	require.NoError(t, err)

	stale, err := store.GetStaleTasks(15)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ids[0], stale[0].ID)

	// A fresh claim is not stale.
	_, err = store.ClaimTask(swarmID, "w2", false)
	require.NoError(t, err)
	stale, err = store.GetStaleTasks(15)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}

func TestCleanCompletedSwarms(t *testing.T) {
	store := openTestStore(t)

	oldSwarm, oldIDs, err := store.CreateSwarm("old", specs("a"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTask(oldIDs[0], "r"))
	past := time.Now().UTC().AddDate(0, 0, -10).Format(timeLayout)
	_, err = store.db.Exec(`UPDATE swarm_tasks SET completed_at = ? WHERE swarm_id = ?`, past, oldSwarm)
	require.NoError(t, err)

	_, freshIDs, err := store.CreateSwarm("fresh", specs("b"))
	require.NoError(t, err)
	require.NoError(t, store.CompleteTask(freshIDs[0], "r"))

	_, _, err = store.CreateSwarm("live", specs("c"))
	require.NoError(t, err)

	deleted, err := store.CleanCompletedSwarms(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetTask(oldIDs[0])
	var notFound *TaskNotFoundError
	assert.ErrorAs(t, err, &notFound)
	_, err = store.GetTask(freshIDs[0])
	assert.NoError(t, err)
}

func TestHooks(t *testing.T) {
	store := openTestStore(t)

	var mu sync.Mutex
	var seen []EventType
	store.OnTaskEvent(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})
	// A panicking hook must not break transitions or other hooks.
	store.OnTaskEvent(func(Event) { panic("bad hook") })

	swarmID, ids, err := store.CreateSwarm("", specs("a", "b"))
	require.NoError(t, err)

	_, err = store.ClaimTask(swarmID, "w", false)
	require.NoError(t, err)
	require.NoError(t, store.CompleteTask(ids[0], "r"))
	_, err = store.ClaimTask(swarmID, "w", false)
	require.NoError(t, err)
	require.NoError(t, store.ResetTask(ids[1]))
	_, err = store.ClaimTask(swarmID, "w", false)
	require.NoError(t, err)
	require.NoError(t, store.FailTask(ids[1], "boom"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventClaim, EventComplete, EventClaim, EventReset, EventClaim, EventFail,
	}, seen)
}
