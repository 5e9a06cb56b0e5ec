// Package registry is the static model capability table. It owns one
// descriptor per known model and pure selection helpers over them; it does
// no I/O and is read-only after initialization (pricing overrides excepted,
// which are applied once during startup).
package registry

import (
	"sort"
	"sync"
	"time"
)

// Provider identifies which adapter serves a model.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Tier is an ordered quality ranking independent of capability.
type Tier int

const (
	TierCheap Tier = iota
	TierBalanced
	TierBest
)

func (t Tier) String() string {
	switch t {
	case TierCheap:
		return "cheap"
	case TierBalanced:
		return "balanced"
	case TierBest:
		return "best"
	}
	return "unknown"
}

// Capability tags. A model may carry any subset.
const (
	CapCoding          = "coding"
	CapReasoning       = "reasoning"
	CapLongContext     = "long-context"
	CapCreative        = "creative"
	CapReview          = "review"
	CapClassification  = "classification"
	CapExtraction      = "extraction"
	CapSimpleReasoning = "simple-reasoning"
	CapMultimodal      = "multimodal"
)

// Pricing is USD per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Model is an immutable descriptor of one known model.
type Model struct {
	Name             string
	Provider         Provider
	Tier             Tier
	Capabilities     []string
	CostTier         int
	DefaultTimeout   time.Duration
	MaxContextTokens int
	Pricing          Pricing
}

// HasCapability reports whether the model carries the given tag.
func (m Model) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

var (
	mu     sync.RWMutex
	models = map[string]Model{
		"claude-opus-4-5": {
			Name:             "claude-opus-4-5",
			Provider:         ProviderAnthropic,
			Tier:             TierBest,
			Capabilities:     []string{CapCoding, CapReasoning, CapLongContext, CapCreative, CapReview},
			CostTier:         5,
			DefaultTimeout:   300 * time.Second,
			MaxContextTokens: 200000,
			Pricing:          Pricing{InputPerMillion: 15, OutputPerMillion: 75},
		},
		"claude-sonnet-4-5": {
			Name:             "claude-sonnet-4-5",
			Provider:         ProviderAnthropic,
			Tier:             TierBalanced,
			Capabilities:     []string{CapCoding, CapReasoning, CapLongContext, CapReview, CapExtraction},
			CostTier:         3,
			DefaultTimeout:   120 * time.Second,
			MaxContextTokens: 200000,
			Pricing:          Pricing{InputPerMillion: 3, OutputPerMillion: 15},
		},
		"claude-haiku-4-5": {
			Name:             "claude-haiku-4-5",
			Provider:         ProviderAnthropic,
			Tier:             TierCheap,
			Capabilities:     []string{CapClassification, CapExtraction, CapSimpleReasoning},
			CostTier:         1,
			DefaultTimeout:   60 * time.Second,
			MaxContextTokens: 200000,
			Pricing:          Pricing{InputPerMillion: 0.8, OutputPerMillion: 4},
		},
		// Previous-generation flagship; ranked balanced so that static "best"
		// selection prefers the current generation.
		"claude-opus-4": {
			Name:             "claude-opus-4",
			Provider:         ProviderAnthropic,
			Tier:             TierBalanced,
			Capabilities:     []string{CapCoding, CapReasoning, CapCreative},
			CostTier:         4,
			DefaultTimeout:   300 * time.Second,
			MaxContextTokens: 200000,
			Pricing:          Pricing{InputPerMillion: 15, OutputPerMillion: 75},
		},
		"claude-sonnet-3-5": {
			Name:             "claude-sonnet-3-5",
			Provider:         ProviderAnthropic,
			Tier:             TierBalanced,
			Capabilities:     []string{CapCoding, CapReview, CapExtraction},
			CostTier:         2,
			DefaultTimeout:   120 * time.Second,
			MaxContextTokens: 200000,
			Pricing:          Pricing{InputPerMillion: 3, OutputPerMillion: 15},
		},
		"gpt-4o": {
			Name:             "gpt-4o",
			Provider:         ProviderOpenAI,
			Tier:             TierBalanced,
			Capabilities:     []string{CapMultimodal, CapCoding, CapExtraction},
			CostTier:         3,
			DefaultTimeout:   120 * time.Second,
			MaxContextTokens: 128000,
			Pricing:          Pricing{InputPerMillion: 2.5, OutputPerMillion: 10},
		},
		"gpt-4-turbo": {
			Name:             "gpt-4-turbo",
			Provider:         ProviderOpenAI,
			Tier:             TierBalanced,
			Capabilities:     []string{CapCoding, CapReasoning},
			CostTier:         3,
			DefaultTimeout:   180 * time.Second,
			MaxContextTokens: 128000,
			Pricing:          Pricing{InputPerMillion: 10, OutputPerMillion: 30},
		},
		"gpt-3.5-turbo": {
			Name:             "gpt-3.5-turbo",
			Provider:         ProviderOpenAI,
			Tier:             TierCheap,
			Capabilities:     []string{CapClassification, CapSimpleReasoning},
			CostTier:         1,
			DefaultTimeout:   60 * time.Second,
			MaxContextTokens: 16385,
			Pricing:          Pricing{InputPerMillion: 0.5, OutputPerMillion: 1.5},
		},
		// Pricing not yet published; overridden via config when known.
		"gpt-5.3-codex": {
			Name:             "gpt-5.3-codex",
			Provider:         ProviderOpenAI,
			Tier:             TierBest,
			Capabilities:     []string{CapCoding, CapReview},
			CostTier:         4,
			DefaultTimeout:   300 * time.Second,
			MaxContextTokens: 400000,
		},
		"o1": {
			Name:             "o1",
			Provider:         ProviderOpenAI,
			Tier:             TierBest,
			Capabilities:     []string{CapReasoning},
			CostTier:         5,
			DefaultTimeout:   600 * time.Second,
			MaxContextTokens: 200000,
			Pricing:          Pricing{InputPerMillion: 15, OutputPerMillion: 60},
		},
		"o3-mini": {
			Name:             "o3-mini",
			Provider:         ProviderOpenAI,
			Tier:             TierCheap,
			Capabilities:     []string{CapReasoning, CapSimpleReasoning},
			CostTier:         1,
			DefaultTimeout:   120 * time.Second,
			MaxContextTokens: 200000,
			Pricing:          Pricing{InputPerMillion: 1.1, OutputPerMillion: 4.4},
		},
	}
)

// Info returns the descriptor for name.
func Info(name string) (Model, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := models[name]
	return m, ok
}

// SetPricing overrides a model's pricing. Intended for startup configuration
// of models whose prices are not baked in.
func SetPricing(name string, p Pricing) bool {
	mu.Lock()
	defer mu.Unlock()
	m, ok := models[name]
	if !ok {
		return false
	}
	m.Pricing = p
	models[name] = m
	return true
}

// All returns every registered model name, sorted.
func All() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByTier returns the names of all models at the given tier, sorted.
func ByTier(tier Tier) []string {
	return filter(func(m Model) bool { return m.Tier == tier })
}

// ByCapability returns the names of all models carrying the capability, sorted.
func ByCapability(cap string) []string {
	return filter(func(m Model) bool { return m.HasCapability(cap) })
}

// ByContextFit returns the candidates whose context window holds at least
// minTokens. A nil candidate list means all registered models.
func ByContextFit(minTokens int, candidates []string) []string {
	var out []string
	for _, name := range normalize(candidates) {
		if m, ok := Info(name); ok && m.MaxContextTokens >= minTokens {
			out = append(out, name)
		}
	}
	return out
}

// Cheapest returns the candidate with the lowest cost tier. Ties break by
// name so that selection is deterministic.
func Cheapest(candidates []string) (string, bool) {
	return pick(candidates, func(a, b Model) bool { return a.CostTier < b.CostTier })
}

// Fastest returns the candidate with the lowest default timeout.
func Fastest(candidates []string) (string, bool) {
	return pick(candidates, func(a, b Model) bool { return a.DefaultTimeout < b.DefaultTimeout })
}

// Best returns the candidate with the highest tier.
func Best(candidates []string) (string, bool) {
	return pick(candidates, func(a, b Model) bool { return a.Tier > b.Tier })
}

func filter(keep func(Model) bool) []string {
	mu.RLock()
	defer mu.RUnlock()
	var out []string
	for name, m := range models {
		if keep(m) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// normalize resolves the candidate pool: nil means every registered model,
// and unknown names are dropped. The result is sorted so that strict "better
// than" comparisons yield the alphabetically-first winner on ties.
func normalize(candidates []string) []string {
	if candidates == nil {
		return All()
	}
	out := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := Info(name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func pick(candidates []string, better func(a, b Model) bool) (string, bool) {
	pool := normalize(candidates)
	if len(pool) == 0 {
		return "", false
	}
	bestName := pool[0]
	bestModel, _ := Info(bestName)
	for _, name := range pool[1:] {
		m, _ := Info(name)
		if better(m, bestModel) {
			bestName, bestModel = name, m
		}
	}
	return bestName, true
}
