// Package providers holds the concrete LLM backends. Each adapter turns a
// single prompt into a single text completion with usage numbers; routing,
// logging and strategy live above this package.
package providers

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/hivecore/hivecore/pkg/registry"
)

// Request is one prompt invocation.
type Request struct {
	Model  string
	Prompt string
	// Caller tags the call log record with the originating component.
	Caller string
	// Timeout overrides the model's default when positive.
	Timeout time.Duration
}

// Result is a completed invocation.
type Result struct {
	Text         string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Adapter is one provider backend.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Result, error)
}

const fallbackTimeout = 120 * time.Second

// timeoutFor resolves the effective deadline: explicit override, then the
// registry default, then a generic fallback for unknown models.
func timeoutFor(model string, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if m, ok := registry.Info(model); ok && m.DefaultTimeout > 0 {
		return m.DefaultTimeout
	}
	return fallbackTimeout
}

// NewLimiter builds the shared outbound rate limiter. perMinute <= 0 means
// unlimited and returns nil; adapters treat a nil limiter as a no-op.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
