package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivecore/hivecore/pkg/calllog"
	"github.com/hivecore/hivecore/pkg/registry"
)

// seedCalls inserts call rows directly so stat queries see them immediately.
func seedCalls(t *testing.T, store *calllog.Store, model string, count int, ok bool, durationMs int, cost float64) {
	t.Helper()
	for i := 0; i < count; i++ {
		okInt := 0
		if ok {
			okInt = 1
		}
		_, err := store.DB().Exec(
			`INSERT INTO llm_calls
				(timestamp, provider, model, caller, prompt, response,
				 input_tokens, output_tokens, cost_estimate, duration_ms, ok, error)
			 VALUES (?, ?, ?, 'seed', '', '', 10, 10, ?, ?, ?, NULL)`,
			time.Now().UTC().Format(calllog.TimeLayout),
			string(registry.ProviderAnthropic), model, cost, durationMs, okInt,
		)
		require.NoError(t, err)
	}
}

func TestResolveModelEmptyStats(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	assert.Equal(t, "claude-haiku-4-5", r.ResolveModel(StrategyCheapest, ResolveOptions{}))
	assert.Equal(t, "claude-haiku-4-5", r.ResolveModel(StrategyFastest, ResolveOptions{}))
	assert.Equal(t, "claude-opus-4-5", r.ResolveModel(StrategyBest, ResolveOptions{}))
	assert.Equal(t, "claude-sonnet-4-5", r.ResolveModel(StrategyBalanced, ResolveOptions{}))
	assert.Equal(t, "gpt-4o", r.ResolveModel(StrategyBest, ResolveOptions{Capability: registry.CapMultimodal}))
}

func TestResolveModelSpecific(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	assert.Equal(t, "claude-sonnet-4-5", r.ResolveModel(StrategySpecific, ResolveOptions{Model: "sonnet-4"}))
	assert.Equal(t, "gpt-4-turbo", r.ResolveModel("", ResolveOptions{Model: "gpt-4"}))
}

func TestResolveModelCheapestUsesStats(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	// gpt-3.5-turbo is reliable and cheapest by observed cost.
	seedCalls(t, store, "gpt-3.5-turbo", 5, true, 800, 0.0001)
	seedCalls(t, store, "claude-sonnet-4-5", 5, true, 1200, 0.01)

	assert.Equal(t, "gpt-3.5-turbo", r.ResolveModel(StrategyCheapest, ResolveOptions{}))
}

func TestResolveModelSkipsUnreliable(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	// Cheap but failing constantly: below the 0.8 reliability floor.
	seedCalls(t, store, "gpt-3.5-turbo", 4, true, 800, 0.0001)
	seedCalls(t, store, "gpt-3.5-turbo", 6, false, 800, 0.0001)
	seedCalls(t, store, "claude-sonnet-4-5", 5, true, 1200, 0.01)

	assert.Equal(t, "claude-sonnet-4-5", r.ResolveModel(StrategyCheapest, ResolveOptions{}))
}

func TestResolveModelFastestUsesStats(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	seedCalls(t, store, "claude-haiku-4-5", 5, true, 300, 0.001)
	seedCalls(t, store, "gpt-4o", 5, true, 900, 0.002)

	assert.Equal(t, "claude-haiku-4-5", r.ResolveModel(StrategyFastest, ResolveOptions{}))
}

func TestResolveModelBestIgnoresStats(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	// Even a perfect record for a balanced-tier model never beats the static
	// top tier.
	seedCalls(t, store, "claude-sonnet-4-5", 20, true, 100, 0.0001)

	assert.Equal(t, "claude-opus-4-5", r.ResolveModel(StrategyBest, ResolveOptions{}))
}

func TestResolveModelBalancedScore(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	// Both fully reliable; sonnet wins on cost*latency product.
	seedCalls(t, store, "claude-sonnet-4-5", 5, true, 500, 0.002)
	seedCalls(t, store, "gpt-4-turbo", 5, true, 2000, 0.02)

	assert.Equal(t, "claude-sonnet-4-5", r.ResolveModel(StrategyBalanced, ResolveOptions{}))
}

func TestResolveModelBalancedStrictThreshold(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	// 85% success passes the general floor but not the balanced one.
	seedCalls(t, store, "gpt-4-turbo", 17, true, 100, 0.0001)
	seedCalls(t, store, "gpt-4-turbo", 3, false, 100, 0.0001)

	assert.Equal(t, "claude-sonnet-4-5", r.ResolveModel(StrategyBalanced, ResolveOptions{}))
}

func TestResolveModelMinSampleSize(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	// Two calls is below the default minimum of three samples.
	seedCalls(t, store, "gpt-3.5-turbo", 2, true, 100, 0.00001)

	assert.Equal(t, "claude-haiku-4-5", r.ResolveModel(StrategyCheapest, ResolveOptions{}))
}

func TestResolveModelCapabilityPool(t *testing.T) {
	store := openTestLog(t)
	r, _, _ := newTestRouter(t, store)

	// Stats for a model outside the capability pool must not leak in.
	seedCalls(t, store, "gpt-3.5-turbo", 5, true, 100, 0.00001)

	got := r.ResolveModel(StrategyCheapest, ResolveOptions{Capability: registry.CapCoding})
	m, ok := registry.Info(got)
	require.True(t, ok)
	assert.True(t, m.HasCapability(registry.CapCoding))
}

func TestConfigureAndSnapshot(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	r.Configure(Defaults{MinSampleSize: 10, Fallbacks: map[Strategy]string{StrategyBest: "o1"}})

	snap := r.CurrentDefaults()
	assert.Equal(t, 10, snap.MinSampleSize)
	assert.Equal(t, 0.8, snap.MinSuccessRate)
	assert.Equal(t, "o1", snap.Fallbacks[StrategyBest])

	// Mutating the snapshot must not touch the live configuration.
	snap.Fallbacks[StrategyBest] = "gpt-4o"
	assert.Equal(t, "o1", r.CurrentDefaults().Fallbacks[StrategyBest])
}

func TestPublishedDefaults(t *testing.T) {
	d := PublishedDefaults()
	assert.Equal(t, 0.8, d.MinSuccessRate)
	assert.Equal(t, 0.9, d.BalancedMinSuccessRate)
	assert.Equal(t, 3, d.MinSampleSize)
	assert.Equal(t, 24, d.StatsHoursBack)
	assert.Equal(t, "claude-haiku-4-5", d.Fallbacks[StrategyCheapest])
	assert.Equal(t, "claude-opus-4-5", d.Fallbacks[StrategyBest])
}
