package providers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivecore/hivecore/pkg/calllog"
)

// fakeAdapter counts invocations and replays a scripted response.
type fakeAdapter struct {
	name  string
	text  string
	err   error
	calls atomic.Int64
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Invoke(_ context.Context, _ Request) (*Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Text: f.text, Provider: f.name, Duration: time.Millisecond}, nil
}

func TestSmokeGatePassCached(t *testing.T) {
	a := &fakeAdapter{name: "anthropic", text: "AUTH_OK"}
	g := NewSmokeGate(false, nil, nil)

	require.NoError(t, g.Check(context.Background(), a, "claude-haiku-4-5"))
	require.NoError(t, g.Check(context.Background(), a, "claude-haiku-4-5"))
	assert.Equal(t, int64(1), a.calls.Load(), "pass should be probed once")
}

func TestSmokeGateFailureCachedUntilGenerationChanges(t *testing.T) {
	a := &fakeAdapter{name: "openai", err: errors.New("invalid credentials")}
	var gen atomic.Int64
	g := NewSmokeGate(false, gen.Load, nil)

	err := g.Check(context.Background(), a, "gpt-3.5-turbo")
	var smokeErr *SmokeTestError
	require.ErrorAs(t, err, &smokeErr)
	assert.Equal(t, "openai", smokeErr.Provider)

	// Same generation: cached failure, no new probe.
	require.Error(t, g.Check(context.Background(), a, "gpt-3.5-turbo"))
	assert.Equal(t, int64(1), a.calls.Load())

	// New credentials: probe again, this time succeeding.
	gen.Add(1)
	a.err = nil
	a.text = "AUTH_OK"
	require.NoError(t, g.Check(context.Background(), a, "gpt-3.5-turbo"))
	assert.Equal(t, int64(2), a.calls.Load())
}

func TestSmokeGateRejectsWrongReply(t *testing.T) {
	a := &fakeAdapter{name: "anthropic", text: "hello there"}
	g := NewSmokeGate(false, nil, nil)

	err := g.Check(context.Background(), a, "claude-haiku-4-5")
	var smokeErr *SmokeTestError
	require.ErrorAs(t, err, &smokeErr)
	assert.Contains(t, err.Error(), "unexpected reply")
}

func TestSmokeGateSkip(t *testing.T) {
	a := &fakeAdapter{name: "anthropic", err: errors.New("would fail")}
	g := NewSmokeGate(true, nil, nil)

	require.NoError(t, g.Check(context.Background(), a, "claude-haiku-4-5"))
	assert.Zero(t, a.calls.Load())
}

func TestSmokeGateRecordsProbeInCallLog(t *testing.T) {
	store, err := calllog.Open(filepath.Join(t.TempDir(), "llm_calls.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a := &fakeAdapter{name: "anthropic", text: "AUTH_OK"}
	g := NewSmokeGate(false, nil, store)
	require.NoError(t, g.Check(context.Background(), a, "claude-haiku-4-5"))

	b := &fakeAdapter{name: "openai", err: errors.New("invalid credentials")}
	require.Error(t, g.Check(context.Background(), b, "gpt-3.5-turbo"))

	require.Eventually(t, func() bool {
		var n int
		if err := store.DB().QueryRow(
			`SELECT COUNT(*) FROM llm_calls WHERE caller = 'smoke-test'`,
		).Scan(&n); err != nil {
			return false
		}
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	var ok int
	var model string
	require.NoError(t, store.DB().QueryRow(
		`SELECT ok, model FROM llm_calls WHERE provider = 'anthropic'`,
	).Scan(&ok, &model))
	assert.Equal(t, 1, ok)
	assert.Equal(t, "claude-haiku-4-5", model)

	var failErr string
	require.NoError(t, store.DB().QueryRow(
		`SELECT error FROM llm_calls WHERE provider = 'openai'`,
	).Scan(&failErr))
	assert.Contains(t, failErr, "invalid credentials")
}

func TestSmokeGateConcurrentCallersShareOneProbe(t *testing.T) {
	a := &fakeAdapter{name: "anthropic", text: "AUTH_OK"}
	g := NewSmokeGate(false, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Check(context.Background(), a, "claude-haiku-4-5"))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), a.calls.Load())
}
