package llm

import (
	"context"
	"testing"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
)

func TestUsage(t *testing.T) {
	a := Usage{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 3}
	b := Usage{InputTokens: 50, OutputTokens: 5, CacheWriteTokens: 7}

	sum := a.Add(b)
	want := Usage{InputTokens: 150, OutputTokens: 25, CacheReadTokens: 3, CacheWriteTokens: 7}
	if sum != want {
		t.Errorf("Add() = %+v, want %+v", sum, want)
	}
	if sum.Total() != 175 {
		t.Errorf("Total() = %d, want 175", sum.Total())
	}
	if !(Usage{}).IsZero() || sum.IsZero() {
		t.Error("IsZero() mismatch")
	}
	if got := a.String(); got != "100 input, 20 output" {
		t.Errorf("String() = %q", got)
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	t.Run("anthropic", func(t *testing.T) {
		p, err := NewFromConfig(context.Background(), config.LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-3-5-haiku-latest",
			APIKey:         "k",
			TimeoutSeconds: 30,
		})
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		if p.Name() != ProviderAnthropic || p.Model() != "claude-3-5-haiku-latest" {
			t.Errorf("got %s/%s", p.Name(), p.Model())
		}
	})

	t.Run("empty provider defaults to anthropic", func(t *testing.T) {
		p, err := NewFromConfig(context.Background(), config.LLMConfig{APIKey: "k"})
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		if p.Model() != DefaultAnthropicModel {
			t.Errorf("Model() = %q", p.Model())
		}
	})

	t.Run("gemini", func(t *testing.T) {
		p, err := NewFromConfig(context.Background(), config.LLMConfig{
			Provider: "gemini",
			Model:    DefaultAnthropicModel,
			APIKey:   "k",
		})
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		if p.Name() != ProviderGemini {
			t.Errorf("Name() = %q", p.Name())
		}
		if p.Model() != DefaultGeminiModel {
			t.Errorf("claude model should fall back to %s, got %s", DefaultGeminiModel, p.Model())
		}
	})

	t.Run("missing key", func(t *testing.T) {
		for _, provider := range []string{"anthropic", "gemini"} {
			_, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: provider})
			if !errors.Is(err, errors.ErrMissingAPIKey) {
				t.Errorf("%s: expected ErrMissingAPIKey, got %v", provider, err)
			}
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewFromConfig(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "k"})
		if !errors.Is(err, errors.ErrUnknownProvider) {
			t.Errorf("expected ErrUnknownProvider, got %v", err)
		}
	})
}
