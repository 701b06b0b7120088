// Package llm provides the model providers fixit uses to turn an issue
// description into structured work for the pair-programming agent.
package llm

import (
	"context"
	"fmt"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
)

// Provider sends a single prompt to a model and returns its answer.
type Provider interface {
	// Name identifies the provider ("anthropic", "gemini").
	Name() string
	// Model returns the model requests are sent to.
	Model() string
	// Complete sends the prompt and returns the text and token usage.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-turn completion request.
type Request struct {
	Prompt    string
	MaxTokens int
	// JSON asks the provider for a JSON-only answer when it supports one.
	JSON bool
}

// Response is the text a model produced and what it cost in tokens.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage counts the tokens consumed by one or more model calls.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
	}
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// String renders usage for logs and PR bodies.
func (u Usage) String() string {
	return fmt.Sprintf("%d input, %d output", u.InputTokens, u.OutputTokens)
}

// NewFromConfig builds the provider named by cfg.Provider.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", ProviderAnthropic:
		var opts []ClientOption
		if cfg.TimeoutSeconds > 0 {
			opts = append(opts, WithTimeout(cfg.Timeout()))
		}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropicClient(opts...)
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiOptions{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout(),
		})
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownProvider, cfg.Provider)
	}
}
