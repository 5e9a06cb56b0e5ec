package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hivecore/hivecore/pkg/calllog"
	"github.com/hivecore/hivecore/pkg/logger"
)

// smokePrompt is a trivial round trip proving the credentials work.
const smokePrompt = "Reply with exactly AUTH_OK"

const smokeTimeout = 15 * time.Second

type smokeResult struct {
	gen int64
	err error
}

// SmokeGate runs a one-shot credential check per provider and caches the
// outcome. The cache is keyed by the auth generation: a new login or refresh
// invalidates a cached failure, so a fixed credential is retried without a
// restart. Concurrent first callers share one in-flight check.
type SmokeGate struct {
	skip       bool
	generation func() int64
	log        *calllog.Store

	group   singleflight.Group
	mu      sync.Mutex
	results map[string]smokeResult
}

// NewSmokeGate builds the gate. generation may be nil when credentials never
// rotate, and log may be nil to leave probes unrecorded (tests).
func NewSmokeGate(skip bool, generation func() int64, log *calllog.Store) *SmokeGate {
	return &SmokeGate{
		skip:       skip,
		generation: generation,
		log:        log,
		results:    make(map[string]smokeResult),
	}
}

// Check verifies the adapter's credentials once per auth generation. model is
// the cheap model used for the probe.
func (g *SmokeGate) Check(ctx context.Context, a Adapter, model string) error {
	if g.skip {
		return nil
	}

	var gen int64
	if g.generation != nil {
		gen = g.generation()
	}

	g.mu.Lock()
	if r, ok := g.results[a.Name()]; ok && r.gen == gen {
		g.mu.Unlock()
		return r.err
	}
	g.mu.Unlock()

	key := fmt.Sprintf("%s:%d", a.Name(), gen)
	_, err, _ := g.group.Do(key, func() (any, error) {
		serr := g.probe(ctx, a, model)
		g.mu.Lock()
		g.results[a.Name()] = smokeResult{gen: gen, err: serr}
		g.mu.Unlock()
		if serr != nil {
			return nil, serr
		}
		return nil, nil
	})
	return err
}

func (g *SmokeGate) probe(ctx context.Context, a Adapter, model string) error {
	start := time.Now()
	res, err := a.Invoke(ctx, Request{
		Model:   model,
		Prompt:  smokePrompt,
		Caller:  "smoke-test",
		Timeout: smokeTimeout,
	})
	elapsed := time.Since(start)

	if err != nil {
		g.record(a.Name(), model, "", elapsed, err)
		logger.WarnCF("providers", "smoke test failed", map[string]any{
			"provider": a.Name(),
			"error":    err.Error(),
		})
		return &SmokeTestError{Provider: a.Name(), Err: err}
	}
	if !strings.Contains(res.Text, "AUTH_OK") {
		serr := &SmokeTestError{
			Provider: a.Name(),
			Err:      fmt.Errorf("unexpected reply %q", strings.TrimSpace(res.Text)),
		}
		g.record(a.Name(), model, res.Text, elapsed, serr)
		return serr
	}
	g.record(a.Name(), model, res.Text, elapsed, nil)
	logger.InfoCF("providers", "smoke test passed", map[string]any{"provider": a.Name()})
	return nil
}

// record logs the probe like any other call.
func (g *SmokeGate) record(provider, model, response string, elapsed time.Duration, err error) {
	if g.log == nil {
		return
	}
	rec := calllog.Record{
		Provider:     provider,
		Model:        model,
		Caller:       "smoke-test",
		Prompt:       smokePrompt,
		Response:     response,
		InputTokens:  calllog.EstimateTokens(smokePrompt),
		OutputTokens: calllog.EstimateTokens(response),
		Duration:     elapsed,
		OK:           err == nil,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	rec.CostEstimate = calllog.EstimateCost(model, rec.InputTokens, rec.OutputTokens)
	g.log.LogCall(rec)
}
