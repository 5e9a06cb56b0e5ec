// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package swarm

import (
	"fmt"

	"github.com/hivecore/hivecore/pkg/logger"
)

// EventType tags a task lifecycle transition.
type EventType string

const (
	EventClaim    EventType = "claim"
	EventComplete EventType = "complete"
	EventFail     EventType = "fail"
	EventReset    EventType = "reset"
)

// Event carries the post-transition task row.
type Event struct {
	Type EventType
	Task Task
}

// Hook observes task lifecycle events. A panicking hook is isolated and
// logged; it never affects task state.
type Hook func(Event)

// OnTaskEvent registers a lifecycle hook for all future transitions.
func (s *Store) OnTaskEvent(h Hook) {
	if h == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hookMu.Unlock()
}

func (s *Store) emit(typ EventType, task *Task) {
	if task == nil {
		return
	}
	s.hookMu.RLock()
	hooks := make([]Hook, len(s.hooks))
	copy(hooks, s.hooks)
	s.hookMu.RUnlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("swarm", "task hook panicked", map[string]any{
						"event": string(typ),
						"task":  task.ID,
						"panic": fmt.Sprint(r),
					})
				}
			}()
			h(Event{Type: typ, Task: *task})
		}()
	}
}
