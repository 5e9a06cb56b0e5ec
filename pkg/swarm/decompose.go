// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hivecore/hivecore/pkg/registry"
	"github.com/hivecore/hivecore/pkg/router"
)

// LLMRunner is the slice of the router the swarm package needs. *router.Router
// satisfies it; tests substitute stubs.
type LLMRunner interface {
	RoutedLLM(ctx context.Context, prompt string, opts router.RoutedOptions) (*router.Result, error)
}

// Subtask is one decomposed unit of work.
type Subtask struct {
	Description string `json:"description"`
	Capability  string `json:"capability"`
	Mode        string `json:"mode"`
	DependsOn   []int  `json:"depends_on"`
	Strategy    string `json:"strategy,omitempty"`
}

// DecompositionError means the model output could not be parsed into a valid
// subtask array.
type DecompositionError struct {
	Reason string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition failed: %s", e.Reason)
}

const defaultDecomposePrompt = `Break the following task into 2-6 subtasks. Respond with ONLY a JSON array. Each entry must have a "description" field and may have "capability" (coding, reasoning, creative, review, classification, extraction), "mode" ("inline" or "agent") and "depends_on" (array of earlier subtask indices).

Task: %s`

// Decomposer turns a task description into a validated subtask array via one
// balanced-strategy router call.
type Decomposer struct {
	llm   LLMRunner
	store *Store
}

func NewDecomposer(llm LLMRunner, store *Store) *Decomposer {
	return &Decomposer{llm: llm, store: store}
}

// DecomposeOptions tweaks a single decomposition.
type DecomposeOptions struct {
	Strategy router.Strategy
	Caller   string
	// DecomposePrompt replaces the default template; use %s for the task.
	DecomposePrompt string
}

// Decompose asks the model to split the task and parses the reply.
func (d *Decomposer) Decompose(ctx context.Context, taskDescription string, opts DecomposeOptions) ([]Subtask, error) {
	tmpl := opts.DecomposePrompt
	if tmpl == "" {
		tmpl = defaultDecomposePrompt
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = router.StrategyBalanced
	}

	res, err := d.llm.RoutedLLM(ctx, fmt.Sprintf(tmpl, taskDescription), router.RoutedOptions{
		Strategy:   strategy,
		Capability: registry.CapReasoning,
		Options:    router.Options{Caller: opts.Caller},
	})
	if err != nil {
		return nil, err
	}
	return ParseSubtasks(res.Text)
}

// DecomposeAndQueue decomposes the task and inserts the result as a new
// swarm, wiring dependency metadata for dependency-aware claims.
func (d *Decomposer) DecomposeAndQueue(ctx context.Context, taskDescription string, opts DecomposeOptions) (string, []Subtask, error) {
	subtasks, err := d.Decompose(ctx, taskDescription, opts)
	if err != nil {
		return "", nil, err
	}

	specs := make([]TaskSpec, len(subtasks))
	for i, st := range subtasks {
		specs[i] = TaskSpec{
			Description: st.Description,
			Strategy:    st.Strategy,
			Mode:        st.Mode,
			Metadata: Metadata{
				DependsOn:    st.DependsOn,
				Capability:   st.Capability,
				SubtaskIndex: i,
			},
		}
	}
	swarmID, _, err := d.store.CreateSwarm("", specs)
	if err != nil {
		return "", nil, err
	}
	return swarmID, subtasks, nil
}

// ParseSubtasks extracts and validates the JSON subtask array from raw model
// output. Fences are stripped, then the text between the first '[' and last
// ']' is parsed.
func ParseSubtasks(raw string) ([]Subtask, error) {
	text := stripFences(strings.TrimSpace(raw))

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, &DecompositionError{Reason: "no JSON array in model output"}
	}

	var subtasks []Subtask
	if err := json.Unmarshal([]byte(text[start:end+1]), &subtasks); err != nil {
		return nil, &DecompositionError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(subtasks) == 0 {
		return nil, &DecompositionError{Reason: "empty subtask array"}
	}

	for i := range subtasks {
		st := &subtasks[i]
		if strings.TrimSpace(st.Description) == "" {
			return nil, &DecompositionError{Reason: fmt.Sprintf("subtask %d missing description", i)}
		}
		if st.Capability == "" {
			st.Capability = registry.CapReasoning
		}
		if st.Mode == "" {
			st.Mode = ModeInline
		}
		if st.DependsOn == nil {
			st.DependsOn = []int{}
		}
		for _, dep := range st.DependsOn {
			if dep < 0 || dep >= len(subtasks) || dep >= i {
				return nil, &DecompositionError{
					Reason: fmt.Sprintf("subtask %d has invalid dependency index %d", i, dep),
				}
			}
		}
	}
	return subtasks, nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.Index(text, "\n"); nl != -1 {
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx != -1 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
