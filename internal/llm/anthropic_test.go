package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fixit-bot/fixit/internal/errors"
)

func TestNewAnthropicClient_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewAnthropicClient()
	if !errors.Is(err, errors.ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewAnthropicClient_WithAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	client, err := NewAnthropicClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Model() != DefaultAnthropicModel {
		t.Errorf("expected model %s, got %s", DefaultAnthropicModel, client.Model())
	}
	if client.Name() != ProviderAnthropic {
		t.Errorf("Name() = %q", client.Name())
	}
}

func TestNewAnthropicClient_WithOptions(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	client, err := NewAnthropicClient(
		WithAPIKey("explicit"),
		WithModel("custom-model"),
		WithTimeout(5*time.Second),
		WithBaseURL("http://localhost:1/v1/messages"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != "custom-model" {
		t.Errorf("expected model custom-model, got %s", client.model)
	}
	if client.apiKey != "explicit" {
		t.Errorf("apiKey = %q", client.apiKey)
	}
	if client.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", client.httpClient.Timeout)
	}
	if client.url != "http://localhost:1/v1/messages" {
		t.Errorf("url = %q", client.url)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewAnthropicClient(WithAPIKey("test-key"), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}
	return client
}

func TestAnthropicClient_Complete_Success(t *testing.T) {
	var got messagesRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing or invalid API key header")
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("missing or invalid anthropic-version header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-3-haiku-20240307",
			"content": [{"type": "text", "text": "  {\"instructions\": [\"fix it\"]}  "}],
			"usage": {"input_tokens": 120, "output_tokens": 34, "cache_read_input_tokens": 5}
		}`))
	})

	resp, err := client.Complete(context.Background(), Request{Prompt: "hello", JSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != `{"instructions": ["fix it"]}` {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 34 || resp.Usage.CacheReadTokens != 5 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if got.MaxTokens != DefaultMaxTokens {
		t.Errorf("max_tokens = %d, want %d", got.MaxTokens, DefaultMaxTokens)
	}
	if got.System == "" {
		t.Error("JSON request should set a system prompt")
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestAnthropicClient_Complete_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		contains  string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, true, "slow down"},
		{"overloaded", 529, `{"error":{"type":"overloaded_error","message":"overloaded"}}`, true, "status=529"},
		{"bad request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"bad model"}}`, false, "bad model"},
		{"plain text body", http.StatusBadGateway, "upstream down", true, "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Complete(context.Background(), Request{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			var llmErr *errors.LLMError
			if !errors.As(err, &llmErr) {
				t.Fatalf("expected *LLMError, got %T", err)
			}
			if llmErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", llmErr.StatusCode, tt.status)
			}
			if errors.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", errors.IsRetryable(err), tt.retryable)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q should contain %q", err.Error(), tt.contains)
			}
		})
	}
}

func TestAnthropicClient_Complete_RateLimitSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, errors.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited in chain, got %v", err)
	}
}

func TestAnthropicClient_Complete_EmptyContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content": [], "usage": {"input_tokens": 10, "output_tokens": 0}}`))
	})

	resp, err := client.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for empty response")
	}
	if resp == nil || resp.Usage.InputTokens != 10 {
		t.Error("usage should still be reported for an empty answer")
	}
}

func TestAnthropicClient_Complete_ContextCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if errors.IsRetryable(err) {
		t.Error("canceled requests should not be retried")
	}
}
