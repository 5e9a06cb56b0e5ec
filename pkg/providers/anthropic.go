package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/hivecore/hivecore/pkg/calllog"
)

const anthropicMaxTokens = 4096

// AnthropicAdapter calls the Anthropic Messages API through the streaming
// iterator, accumulating text blocks into a single completion. The auth token
// is resolved per call so that credential rotation takes effect without a
// restart.
type AnthropicAdapter struct {
	client  anthropic.Client
	token   func() (string, error)
	limiter *rate.Limiter
}

// NewAnthropic builds the adapter. Extra request options (base URL, HTTP
// client) are mainly for tests.
func NewAnthropic(token func() (string, error), limiter *rate.Limiter, opts ...option.RequestOption) *AnthropicAdapter {
	return &AnthropicAdapter{
		client:  anthropic.NewClient(opts...),
		token:   token,
		limiter: limiter,
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return nil, err
	}

	tok, err := a.token()
	if err != nil {
		return nil, err
	}

	timeout := timeoutFor(req.Model, req.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	start := time.Now()
	stream := a.client.Messages.NewStreaming(ctx, params, option.WithAuthToken(tok))

	var accumulated anthropic.Message
	for stream.Next() {
		if err := accumulated.Accumulate(stream.Current()); err != nil {
			return nil, fmt.Errorf("accumulating stream event: %w", err)
		}
	}
	elapsed := time.Since(start)
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropic(err, req.Model, timeout)
	}

	var text string
	for _, block := range accumulated.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	inTokens := int(accumulated.Usage.InputTokens)
	if inTokens == 0 {
		inTokens = calllog.EstimateTokens(req.Prompt)
	}
	outTokens := int(accumulated.Usage.OutputTokens)
	if outTokens == 0 {
		outTokens = calllog.EstimateTokens(text)
	}

	return &Result{
		Text:         text,
		Provider:     a.Name(),
		Model:        req.Model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Duration:     elapsed,
	}, nil
}

func classifyAnthropic(err error, model string, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Model: model, Timeout: timeout}
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &HTTPError{
			Provider: "anthropic",
			Status:   apiErr.StatusCode,
			Body:     truncateBody(apiErr.Error()),
		}
	}
	return err
}
