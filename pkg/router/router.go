// Package router dispatches prompts to provider adapters. It owns alias
// normalization, provider detection, strategy-driven model resolution and
// the logging of every outbound call.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hivecore/hivecore/pkg/calllog"
	"github.com/hivecore/hivecore/pkg/logger"
	"github.com/hivecore/hivecore/pkg/observability"
	"github.com/hivecore/hivecore/pkg/providers"
	"github.com/hivecore/hivecore/pkg/registry"
)

// aliases maps user-facing shorthand to canonical model names.
var aliases = map[string]string{
	"opus-4":   "claude-opus-4-5",
	"sonnet-4": "claude-sonnet-4-5",
	"haiku-4":  "claude-haiku-4-5",
	"opus-3":   "claude-opus-4",
	"sonnet-3": "claude-sonnet-3-5",
	"gpt-4o":   "gpt-4o",
	"gpt-4":    "gpt-4-turbo",
	"gpt-3.5":  "gpt-3.5-turbo",
	"codex":    "gpt-5.3-codex",
}

// providerPrefixes are stripped before alias lookup.
var providerPrefixes = []string{"anthropic/", "openai-codex/", "openai/"}

// smokeModels are the cheap probes used for the per-provider credential check.
var smokeModels = map[registry.Provider]string{
	registry.ProviderAnthropic: "claude-haiku-4-5",
	registry.ProviderOpenAI:    "gpt-3.5-turbo",
}

// UnknownProviderError means no adapter serves the requested model.
type UnknownProviderError struct {
	Model string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no provider known for model %q", e.Model)
}

// Options controls a single RunLLM invocation.
type Options struct {
	Model   string
	Timeout time.Duration
	Caller  string
	// SkipLog suppresses the call log record.
	SkipLog bool
}

// Result is a completed routed call.
type Result struct {
	Text     string
	Provider string
	Model    string
	// ResolvedModel is set by RoutedLLM to the model the strategy chose.
	ResolvedModel string
	InputTokens   int
	OutputTokens  int
	Duration      time.Duration
}

// Router binds the provider adapters to the call log and strategy selector.
type Router struct {
	adapters map[registry.Provider]providers.Adapter
	log      *calllog.Store
	smoke    *providers.SmokeGate

	strategy strategyState
}

// New builds a Router. log may be nil in tests; calls are then not recorded
// and stat-based strategies fall through to static selection.
func New(log *calllog.Store, anthropic, openai providers.Adapter, smoke *providers.SmokeGate, defaults Defaults) *Router {
	r := &Router{
		adapters: map[registry.Provider]providers.Adapter{
			registry.ProviderAnthropic: anthropic,
			registry.ProviderOpenAI:    openai,
		},
		log:   log,
		smoke: smoke,
	}
	r.strategy.init(defaults)
	return r
}

// Normalize strips any provider prefix and resolves aliases to canonical
// model names. Registered canonical names pass through untouched; otherwise
// the alias table is consulted, with and without a "claude-" prefix, so that
// forms like "claude-sonnet-4" land on the current generation. Unknown names
// pass through unchanged.
func Normalize(model string) string {
	model = strings.TrimSpace(model)
	for _, prefix := range providerPrefixes {
		if strings.HasPrefix(model, prefix) {
			model = model[len(prefix):]
			break
		}
	}
	if _, ok := registry.Info(model); ok {
		return model
	}
	if canonical, ok := aliases[model]; ok {
		return canonical
	}
	if trimmed, ok := strings.CutPrefix(model, "claude-"); ok {
		if canonical, ok := aliases[trimmed]; ok {
			return canonical
		}
	}
	return model
}

// DetectProvider maps a canonical model name to its serving provider.
func DetectProvider(model string) (registry.Provider, error) {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "claude") || strings.Contains(lower, "anthropic") {
		return registry.ProviderAnthropic, nil
	}
	if strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") {
		return registry.ProviderOpenAI, nil
	}
	return "", &UnknownProviderError{Model: model}
}

// RunLLM sends one prompt to the adapter serving opts.Model and records the
// outcome. Duration is measured here, outside the adapter.
func (r *Router) RunLLM(ctx context.Context, prompt string, opts Options) (*Result, error) {
	model := Normalize(opts.Model)
	provider, err := DetectProvider(model)
	if err != nil {
		return nil, err
	}
	adapter, ok := r.adapters[provider]
	if !ok || adapter == nil {
		return nil, &UnknownProviderError{Model: model}
	}

	ctx, span := observability.Tracer("router").Start(ctx, "llm.invoke", trace.WithAttributes(
		attribute.String("llm.provider", string(provider)),
		attribute.String("llm.model", model),
		attribute.String("llm.caller", opts.Caller),
	))
	defer span.End()

	if r.smoke != nil {
		if err := r.smoke.Check(ctx, adapter, smokeModels[provider]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	start := time.Now()
	res, err := adapter.Invoke(ctx, providers.Request{
		Model:   model,
		Prompt:  prompt,
		Caller:  opts.Caller,
		Timeout: opts.Timeout,
	})
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.record(calllog.Record{
			Provider:    string(provider),
			Model:       model,
			Caller:      opts.Caller,
			Prompt:      prompt,
			InputTokens: calllog.EstimateTokens(prompt),
			Duration:    elapsed,
			OK:          false,
			Err:         err.Error(),
		}, opts.SkipLog)
		return nil, err
	}

	inTokens := res.InputTokens
	if inTokens == 0 {
		inTokens = calllog.EstimateTokens(prompt)
	}
	outTokens := res.OutputTokens
	if outTokens == 0 {
		outTokens = calllog.EstimateTokens(res.Text)
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", inTokens),
		attribute.Int("llm.output_tokens", outTokens),
	)

	r.record(calllog.Record{
		Provider:     string(provider),
		Model:        model,
		Caller:       opts.Caller,
		Prompt:       prompt,
		Response:     res.Text,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		CostEstimate: calllog.EstimateCost(model, inTokens, outTokens),
		Duration:     elapsed,
		OK:           true,
	}, opts.SkipLog)

	return &Result{
		Text:         res.Text,
		Provider:     string(provider),
		Model:        model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Duration:     elapsed,
	}, nil
}

// RunClaude is RunLLM pinned to the Anthropic default model.
func (r *Router) RunClaude(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-5"
	}
	return r.RunLLM(ctx, prompt, opts)
}

// RunOpenAI is RunLLM pinned to the OpenAI default model.
func (r *Router) RunOpenAI(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}
	return r.RunLLM(ctx, prompt, opts)
}

// RoutedOptions adds strategy inputs on top of Options.
type RoutedOptions struct {
	Strategy   Strategy
	Capability string
	Options
}

// RoutedLLM resolves a model from the strategy, then runs the prompt through
// it. The chosen model is reported on the result.
func (r *Router) RoutedLLM(ctx context.Context, prompt string, opts RoutedOptions) (*Result, error) {
	model := r.ResolveModel(opts.Strategy, ResolveOptions{
		Capability: opts.Capability,
		Model:      opts.Model,
	})
	opts.Options.Model = model

	res, err := r.RunLLM(ctx, prompt, opts.Options)
	if err != nil {
		return nil, err
	}
	res.ResolvedModel = model

	logger.DebugCF("router", "routed call completed", map[string]any{
		"strategy": string(opts.Strategy),
		"model":    model,
		"caller":   opts.Caller,
	})
	return res, nil
}

func (r *Router) record(rec calllog.Record, skip bool) {
	if skip || r.log == nil {
		return
	}
	r.log.LogCall(rec)
}
