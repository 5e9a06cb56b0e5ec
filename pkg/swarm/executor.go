// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

package swarm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hivecore/hivecore/pkg/config"
	"github.com/hivecore/hivecore/pkg/logger"
	"github.com/hivecore/hivecore/pkg/observability"
	"github.com/hivecore/hivecore/pkg/providers"
	"github.com/hivecore/hivecore/pkg/router"
)

const (
	cycleFailureReason = "Unresolvable dependency cycle"
	truncationMark     = "...(truncated)"

	defaultSynthesisPrompt = "Synthesize the following subtask results into a coherent final answer:\n\n"
	resultsPlaceholder     = "{{results}}"
	resultSeparator        = "\n\n---\n\n"
)

// ExecuteOptions controls one ExecuteDecomposed run.
type ExecuteOptions struct {
	DefaultStrategy router.Strategy
	Caller          string
	// SkipSynthesis leaves the per-subtask results unmerged.
	SkipSynthesis bool
	// SynthesisPrompt may carry a {{results}} placeholder; without one the
	// default prompt is used.
	SynthesisPrompt string

	OnSubtaskComplete func(index int, result string)
	OnSubtaskError    func(index int, err error)
}

// ExecuteResult is the outcome of a full decompose-and-execute run.
type ExecuteResult struct {
	SwarmID   string
	Success   bool
	Results   map[int]string
	Errors    map[int]string
	Synthesis string
}

// Executor walks a decomposed swarm level by level, running each level's
// subtasks concurrently and retrying transient provider failures.
type Executor struct {
	store      *Store
	llm        LLMRunner
	decomposer *Decomposer
	cfg        config.ExecutorConfig

	// backoff is injectable for tests.
	backoff func(attempt int) time.Duration
}

func NewExecutor(store *Store, llm LLMRunner, cfg config.ExecutorConfig) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 4000
	}
	if cfg.DepResultChars <= 0 {
		cfg.DepResultChars = 1000
	}
	return &Executor{
		store:      store,
		llm:        llm,
		decomposer: NewDecomposer(llm, store),
		cfg:        cfg,
		backoff:    expBackoff,
	}
}

// expBackoff doubles from one second per attempt.
func expBackoff(attempt int) time.Duration {
	return time.Duration(1000*(1<<attempt)) * time.Millisecond
}

// ExecuteDecomposed decomposes the task, enqueues the swarm and drives it to
// completion.
func (e *Executor) ExecuteDecomposed(ctx context.Context, taskDescription string, opts ExecuteOptions) (*ExecuteResult, error) {
	swarmID, subtasks, err := e.decomposer.DecomposeAndQueue(ctx, taskDescription, DecomposeOptions{
		Strategy: opts.DefaultStrategy,
		Caller:   opts.Caller,
	})
	if err != nil {
		return nil, err
	}
	return e.runSwarm(ctx, swarmID, subtasks, opts)
}

func (e *Executor) runSwarm(ctx context.Context, swarmID string, subtasks []Subtask, opts ExecuteOptions) (*ExecuteResult, error) {
	out := &ExecuteResult{
		SwarmID: swarmID,
		Success: true,
		Results: make(map[int]string),
		Errors:  make(map[int]string),
	}

	levels, leftover := computeLevels(subtasks)
	for _, i := range leftover {
		e.failSubtask(swarmID, i, cycleFailureReason, out, opts)
	}

	var mu sync.Mutex
	for n, level := range levels {
		levelCtx, span := observability.Tracer("swarm").Start(ctx, "swarm.level", trace.WithAttributes(
			attribute.String("swarm.id", swarmID),
			attribute.Int("swarm.level", n),
			attribute.Int("swarm.tasks", len(level)),
		))
		var wg sync.WaitGroup
		for _, idx := range level {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e.runSubtask(levelCtx, swarmID, subtasks, i, out, &mu, opts)
			}(idx)
		}
		wg.Wait()
		span.End()
	}

	if !opts.SkipSynthesis && len(out.Results) > 0 {
		out.Synthesis = e.synthesize(ctx, subtasks, out, opts)
	}

	logger.InfoCF("swarm", "swarm execution finished", map[string]any{
		"swarm_id": swarmID,
		"success":  out.Success,
		"done":     len(out.Results),
		"failed":   len(out.Errors),
	})
	return out, nil
}

// computeLevels groups subtask indices so that every index's dependencies sit
// in an earlier level. Leftover indices belong to a dependency cycle; the
// decomposer validation makes that impossible, this is the second line of
// defense.
func computeLevels(subtasks []Subtask) (levels [][]int, leftover []int) {
	assigned := make([]int, len(subtasks))
	for i := range assigned {
		assigned[i] = -1
	}

	remaining := len(subtasks)
	for remaining > 0 {
		var level []int
		for i, st := range subtasks {
			if assigned[i] != -1 {
				continue
			}
			ready := true
			for _, dep := range st.DependsOn {
				if dep < 0 || dep >= len(subtasks) || assigned[dep] == -1 {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, i)
			}
		}
		if len(level) == 0 {
			for i := range subtasks {
				if assigned[i] == -1 {
					leftover = append(leftover, i)
				}
			}
			return levels, leftover
		}
		for _, i := range level {
			assigned[i] = len(levels)
		}
		levels = append(levels, level)
		remaining -= len(level)
	}
	return levels, nil
}

func (e *Executor) runSubtask(ctx context.Context, swarmID string, subtasks []Subtask, i int, out *ExecuteResult, mu *sync.Mutex, opts ExecuteOptions) {
	st := subtasks[i]
	taskID := fmt.Sprintf("%s-task-%d", swarmID, i)

	mu.Lock()
	failedDep := -1
	for _, dep := range st.DependsOn {
		if _, bad := out.Errors[dep]; bad {
			failedDep = dep
			break
		}
	}
	prompt := e.buildPrompt(st, subtasks, out)
	mu.Unlock()

	if failedDep >= 0 {
		msg := fmt.Sprintf("Dependency subtask %d failed", failedDep)
		mu.Lock()
		e.failSubtask(swarmID, i, msg, out, opts)
		mu.Unlock()
		return
	}

	if task, err := e.store.ClaimTaskByID(taskID, fmt.Sprintf("decomposer-%d", i)); err != nil || task == nil {
		msg := "task already claimed by another worker"
		if err != nil {
			msg = err.Error()
		}
		mu.Lock()
		out.Errors[i] = msg
		out.Success = false
		mu.Unlock()
		return
	}
	if err := e.store.MarkRunning(taskID); err != nil {
		logger.WarnCF("swarm", "could not mark task running", map[string]any{
			"task": taskID, "error": err.Error(),
		})
	}

	strategy := router.Strategy(st.Strategy)
	if strategy == "" {
		strategy = opts.DefaultStrategy
	}
	if strategy == "" {
		strategy = router.StrategyBalanced
	}

	text, err := e.invokeWithRetry(ctx, prompt, strategy, st.Capability, opts.Caller)
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		if ferr := e.store.FailTask(taskID, err.Error()); ferr != nil {
			logger.ErrorCF("swarm", "failed to record task failure", map[string]any{
				"task": taskID, "error": ferr.Error(),
			})
		}
		out.Errors[i] = err.Error()
		out.Success = false
		if opts.OnSubtaskError != nil {
			opts.OnSubtaskError(i, err)
		}
		return
	}

	if cerr := e.store.CompleteTask(taskID, text); cerr != nil {
		logger.ErrorCF("swarm", "failed to record task result", map[string]any{
			"task": taskID, "error": cerr.Error(),
		})
	}
	out.Results[i] = text
	if opts.OnSubtaskComplete != nil {
		opts.OnSubtaskComplete(i, text)
	}
}

// invokeWithRetry retries transient provider errors with exponential backoff;
// anything else fails immediately.
func (e *Executor) invokeWithRetry(ctx context.Context, prompt string, strategy router.Strategy, capability, caller string) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		res, err := e.llm.RoutedLLM(ctx, prompt, router.RoutedOptions{
			Strategy:   strategy,
			Capability: capability,
			Options:    router.Options{Caller: caller},
		})
		if err == nil {
			return res.Text, nil
		}
		lastErr = err
		if !providers.Transient(err) || attempt >= e.cfg.MaxRetries {
			return "", lastErr
		}
		delay := e.backoff(attempt)
		logger.DebugCF("swarm", "retrying transient failure", map[string]any{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
}

// buildPrompt prepends a bounded context window of dependency results. Caller
// must hold mu.
func (e *Executor) buildPrompt(st Subtask, subtasks []Subtask, out *ExecuteResult) string {
	var parts []string
	for _, dep := range st.DependsOn {
		result, ok := out.Results[dep]
		if !ok {
			continue
		}
		if len(result) > e.cfg.DepResultChars {
			result = truncateAt(result, e.cfg.DepResultChars) + truncationMark
		}
		parts = append(parts, fmt.Sprintf("%s:\n%s", subtasks[dep].Description, result))
	}
	if len(parts) == 0 {
		return st.Description
	}

	prefix := strings.Join(parts, "\n\n")
	if len(prefix) > e.cfg.MaxContextChars {
		prefix = truncateAt(prefix, e.cfg.MaxContextChars) + truncationMark
	}
	return prefix + "\n\nNow: " + st.Description
}

// truncateAt cuts at max bytes, backing off to a rune boundary so the result
// stays valid UTF-8.
func truncateAt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (e *Executor) failSubtask(swarmID string, i int, msg string, out *ExecuteResult, opts ExecuteOptions) {
	taskID := fmt.Sprintf("%s-task-%d", swarmID, i)
	if err := e.store.FailTask(taskID, msg); err != nil {
		logger.WarnCF("swarm", "could not fail task", map[string]any{
			"task": taskID, "error": err.Error(),
		})
	}
	out.Errors[i] = msg
	out.Success = false
	if opts.OnSubtaskError != nil {
		opts.OnSubtaskError(i, fmt.Errorf("%s", msg))
	}
}

// synthesize merges the per-subtask results through one more balanced call,
// falling back to the raw concatenation when that call fails.
func (e *Executor) synthesize(ctx context.Context, subtasks []Subtask, out *ExecuteResult, opts ExecuteOptions) string {
	indices := make([]int, 0, len(out.Results))
	for i := range out.Results {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	parts := make([]string, 0, len(indices))
	for _, i := range indices {
		parts = append(parts, fmt.Sprintf("[%s]: %s", subtasks[i].Description, out.Results[i]))
	}
	concat := strings.Join(parts, resultSeparator)

	prompt := defaultSynthesisPrompt + concat
	if opts.SynthesisPrompt != "" {
		if strings.Contains(opts.SynthesisPrompt, resultsPlaceholder) {
			prompt = strings.ReplaceAll(opts.SynthesisPrompt, resultsPlaceholder, concat)
		} else {
			prompt = opts.SynthesisPrompt + "\n\n" + concat
		}
	}

	res, err := e.llm.RoutedLLM(ctx, prompt, router.RoutedOptions{
		Strategy: router.StrategyBalanced,
		Options:  router.Options{Caller: opts.Caller},
	})
	if err != nil {
		logger.WarnCF("swarm", "synthesis call failed, returning raw results", map[string]any{
			"error": err.Error(),
		})
		return concat
	}
	return res.Text
}
