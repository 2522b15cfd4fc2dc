package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultMaxTokens caps a completion when neither the request nor the
// backend config sets a limit.
const DefaultMaxTokens = 4096

// AnthropicBackend calls the Anthropic Messages API directly.
type AnthropicBackend struct {
	inner anthropic.Client
	cfg   Config
}

// NewAnthropic creates an API backend. The key comes from cfg.APIKey or the
// ANTHROPIC_API_KEY environment variable. Extra request options (base URL,
// HTTP client) are mostly useful in tests.
func NewAnthropic(cfg Config, extra ...option.RequestOption) (*AnthropicBackend, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	// Retries belong to the Resilient wrapper.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	opts = append(opts, extra...)

	return &AnthropicBackend{
		inner: anthropic.NewClient(opts...),
		cfg:   cfg,
	}, nil
}

// Complete implements Backend.
func (a *AnthropicBackend) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := withTimeout(ctx, a.cfg)
	defer cancel()

	model := req.Options.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessageParams(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.inner.Messages.New(ctx, params)
	if err != nil {
		return Response{}, classifyAPIError(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(variant.Text)
		}
	}

	out := Response{
		Content: content.String(),
		Model:   string(resp.Model),
		Usage: Usage{
			InputUnits:  int(resp.Usage.InputTokens),
			OutputUnits: int(resp.Usage.OutputTokens),
		},
	}
	if out.Model == "" {
		out.Model = model
	}
	if strings.TrimSpace(out.Content) == "" {
		return out, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}
	return out, nil
}

func toMessageParams(msgs []Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return params
}

func classifyAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is the API's overloaded status.
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == 529 {
			return fmt.Errorf("anthropic: %w: %v", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}
