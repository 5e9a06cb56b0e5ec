package router

import (
	"sort"
	"sync"

	"github.com/hivecore/hivecore/pkg/calllog"
	"github.com/hivecore/hivecore/pkg/logger"
	"github.com/hivecore/hivecore/pkg/registry"
)

// Strategy is the caller's selection intent.
type Strategy string

const (
	StrategyCheapest Strategy = "cheapest"
	StrategyFastest  Strategy = "fastest"
	StrategyBest     Strategy = "best"
	StrategyBalanced Strategy = "balanced"
	StrategySpecific Strategy = "specific"
)

// epsilon floors cost and latency in the balanced score so a zero stat never
// divides by zero.
const epsilon = 1e-6

// Defaults are the strategy-selection knobs. Zero values fall back to the
// published defaults.
type Defaults struct {
	MinSuccessRate         float64
	BalancedMinSuccessRate float64
	MinSampleSize          int
	StatsHoursBack         int
	Fallbacks              map[Strategy]string
}

// PublishedDefaults returns the baked-in defaults table as a fresh snapshot.
func PublishedDefaults() Defaults {
	return Defaults{
		MinSuccessRate:         0.8,
		BalancedMinSuccessRate: 0.9,
		MinSampleSize:          3,
		StatsHoursBack:         24,
		Fallbacks: map[Strategy]string{
			StrategyCheapest: "claude-haiku-4-5",
			StrategyFastest:  "claude-haiku-4-5",
			StrategyBest:     "claude-opus-4-5",
			StrategyBalanced: "claude-sonnet-4-5",
		},
	}
}

type strategyState struct {
	mu  sync.RWMutex
	cfg Defaults
}

func (s *strategyState) init(d Defaults) {
	base := PublishedDefaults()
	if d.MinSuccessRate > 0 {
		base.MinSuccessRate = d.MinSuccessRate
	}
	if d.BalancedMinSuccessRate > 0 {
		base.BalancedMinSuccessRate = d.BalancedMinSuccessRate
	}
	if d.MinSampleSize > 0 {
		base.MinSampleSize = d.MinSampleSize
	}
	if d.StatsHoursBack > 0 {
		base.StatsHoursBack = d.StatsHoursBack
	}
	for strat, model := range d.Fallbacks {
		base.Fallbacks[strat] = model
	}
	s.cfg = base
}

func (s *strategyState) snapshot() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cfg
	out.Fallbacks = make(map[Strategy]string, len(s.cfg.Fallbacks))
	for k, v := range s.cfg.Fallbacks {
		out.Fallbacks[k] = v
	}
	return out
}

// Configure overlays non-zero fields onto the current defaults.
func (r *Router) Configure(d Defaults) {
	r.strategy.mu.Lock()
	defer r.strategy.mu.Unlock()
	if d.MinSuccessRate > 0 {
		r.strategy.cfg.MinSuccessRate = d.MinSuccessRate
	}
	if d.BalancedMinSuccessRate > 0 {
		r.strategy.cfg.BalancedMinSuccessRate = d.BalancedMinSuccessRate
	}
	if d.MinSampleSize > 0 {
		r.strategy.cfg.MinSampleSize = d.MinSampleSize
	}
	if d.StatsHoursBack > 0 {
		r.strategy.cfg.StatsHoursBack = d.StatsHoursBack
	}
	for strat, model := range d.Fallbacks {
		r.strategy.cfg.Fallbacks[strat] = model
	}
}

// CurrentDefaults returns an immutable snapshot of the active configuration.
func (r *Router) CurrentDefaults() Defaults {
	return r.strategy.snapshot()
}

// ResolveOptions narrows the candidate pool.
type ResolveOptions struct {
	Capability string
	// Model short-circuits resolution for the specific strategy.
	Model string
}

// ResolveModel picks a concrete model for the strategy. It never fails: the
// configured fallbacks guarantee a name is always returned.
func (r *Router) ResolveModel(strategy Strategy, opts ResolveOptions) string {
	if strategy == StrategySpecific || (strategy == "" && opts.Model != "") {
		return Normalize(opts.Model)
	}

	cfg := r.strategy.snapshot()

	var pool []string
	if opts.Capability != "" {
		pool = registry.ByCapability(opts.Capability)
	} else {
		pool = registry.All()
	}

	stats := r.poolStats(pool, cfg)

	switch strategy {
	case StrategyFastest:
		if m, ok := lowest(stats, cfg.MinSuccessRate, func(s calllog.ModelStats) float64 { return s.AvgLatencyMs }); ok {
			return m
		}
		if m, ok := registry.Fastest(pool); ok {
			return m
		}
		return cfg.Fallbacks[StrategyFastest]

	case StrategyBest:
		// Static on purpose: historical stats say nothing about quality.
		if m, ok := registry.Best(pool); ok {
			return m
		}
		return cfg.Fallbacks[StrategyBest]

	case StrategyBalanced:
		if m, ok := balancedPick(stats, cfg.BalancedMinSuccessRate); ok {
			return m
		}
		fallback := cfg.Fallbacks[StrategyBalanced]
		for _, name := range pool {
			if name == fallback {
				return name
			}
		}
		return fallback

	default:
		// cheapest, and any unrecognized strategy.
		if m, ok := lowest(stats, cfg.MinSuccessRate, func(s calllog.ModelStats) float64 { return s.AvgCost }); ok {
			return m
		}
		if m, ok := registry.Cheapest(pool); ok {
			return m
		}
		return cfg.Fallbacks[StrategyCheapest]
	}
}

// GetModelStats exposes the stat window the selector uses.
func (r *Router) GetModelStats() ([]calllog.ModelStats, error) {
	cfg := r.strategy.snapshot()
	if r.log == nil {
		return nil, nil
	}
	return r.log.QueryModelStats(cfg.StatsHoursBack, cfg.MinSampleSize)
}

// poolStats fetches recent stats restricted to the candidate pool, sorted by
// model name for deterministic tie-breaks.
func (r *Router) poolStats(pool []string, cfg Defaults) []calllog.ModelStats {
	if r.log == nil {
		return nil
	}
	all, err := r.log.QueryModelStats(cfg.StatsHoursBack, cfg.MinSampleSize)
	if err != nil {
		logger.WarnCF("router", "stats query failed, falling back to static selection", map[string]any{
			"error": err.Error(),
		})
		return nil
	}

	inPool := make(map[string]bool, len(pool))
	for _, name := range pool {
		inPool[name] = true
	}
	var out []calllog.ModelStats
	for _, st := range all {
		if inPool[st.Model] {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// lowest returns the reliable candidate minimizing the metric.
func lowest(stats []calllog.ModelStats, minSuccess float64, metric func(calllog.ModelStats) float64) (string, bool) {
	var best string
	var bestVal float64
	found := false
	for _, st := range stats {
		if st.SuccessRate < minSuccess {
			continue
		}
		v := metric(st)
		if !found || v < bestVal {
			best, bestVal, found = st.Model, v, true
		}
	}
	return best, found
}

// balancedPick maximizes 1/(avg_cost * avg_latency) over high-reliability
// candidates.
func balancedPick(stats []calllog.ModelStats, minSuccess float64) (string, bool) {
	var best string
	var bestScore float64
	found := false
	for _, st := range stats {
		if st.SuccessRate < minSuccess {
			continue
		}
		cost := st.AvgCost
		if cost < epsilon {
			cost = epsilon
		}
		latency := st.AvgLatencyMs
		if latency < epsilon {
			latency = epsilon
		}
		score := 1 / (cost * latency)
		if !found || score > bestScore {
			best, bestScore, found = st.Model, score, true
		}
	}
	return best, found
}
