package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
)

// OpenAIAdapter calls the OpenAI chat completions API with an OAuth access
// token resolved per call, refreshing transparently through the token source.
type OpenAIAdapter struct {
	client  openai.Client
	token   func(ctx context.Context) (string, error)
	limiter *rate.Limiter
}

func NewOpenAI(token func(ctx context.Context) (string, error), limiter *rate.Limiter, opts ...option.RequestOption) *OpenAIAdapter {
	return &OpenAIAdapter{
		client:  openai.NewClient(opts...),
		token:   token,
		limiter: limiter,
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return nil, err
	}

	tok, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	timeout := timeoutFor(req.Model, req.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}

	start := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, params, option.WithAPIKey(tok))
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyOpenAI(err, req.Model, timeout)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai API returned no choices")
	}

	return &Result{
		Text:         resp.Choices[0].Message.Content,
		Provider:     a.Name(),
		Model:        req.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Duration:     elapsed,
	}, nil
}

func classifyOpenAI(err error, model string, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Model: model, Timeout: timeout}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &HTTPError{
			Provider: "openai",
			Status:   apiErr.StatusCode,
			Body:     truncateBody(strings.TrimSpace(apiErr.Message)),
		}
	}
	return err
}
