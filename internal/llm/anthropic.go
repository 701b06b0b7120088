package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fixit-bot/fixit/internal/errors"
)

const (
	// ProviderAnthropic is the provider name for the Anthropic Messages API.
	ProviderAnthropic = "anthropic"

	// anthropicAPIURL is the Anthropic Messages API endpoint.
	anthropicAPIURL = "https://api.anthropic.com/v1/messages"

	// anthropicVersion is sent as the anthropic-version header.
	anthropicVersion = "2023-06-01"

	// DefaultAnthropicModel is the small, fast model used for issue parsing.
	DefaultAnthropicModel = "claude-3-haiku-20240307"

	// DefaultMaxTokens bounds the answer length when a request sets none.
	DefaultMaxTokens = 1000

	defaultTimeout = 60 * time.Second

	// maxErrorBody bounds how much of a failed response ends up in an error.
	maxErrorBody = 512
)

// AnthropicClient implements Provider using the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// ClientOption configures an AnthropicClient.
type ClientOption func(*AnthropicClient)

// WithModel sets the model requests are sent to.
func WithModel(model string) ClientOption {
	return func(c *AnthropicClient) {
		c.model = model
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *AnthropicClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithAPIKey sets the API key instead of reading ANTHROPIC_API_KEY.
func WithAPIKey(key string) ClientOption {
	return func(c *AnthropicClient) {
		c.apiKey = key
	}
}

// WithBaseURL sends requests to a different Messages endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *AnthropicClient) {
		c.url = url
	}
}

// WithHTTPClient replaces the HTTP client. The configured timeout is kept
// unless the replacement sets its own.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *AnthropicClient) {
		if hc.Timeout == 0 {
			hc.Timeout = c.httpClient.Timeout
		}
		c.httpClient = hc
	}
}

// NewAnthropicClient creates a new client. The key comes from WithAPIKey or,
// failing that, the ANTHROPIC_API_KEY environment variable.
func NewAnthropicClient(opts ...ClientOption) (*AnthropicClient, error) {
	c := &AnthropicClient{
		apiKey: os.Getenv("ANTHROPIC_API_KEY"),
		model:  DefaultAnthropicModel,
		url:    anthropicAPIURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", errors.ErrMissingAPIKey)
	}
	return c, nil
}

// Name implements Provider.
func (c *AnthropicClient) Name() string { return ProviderAnthropic }

// Model implements Provider.
func (c *AnthropicClient) Model() string { return c.model }

// messagesRequest is the Anthropic Messages API request structure.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the Anthropic Messages API response structure.
type messagesResponse struct {
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   *messagesUsage `json:"usage,omitempty"`
	Error   *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const jsonSystemPrompt = "Respond with a single JSON object and nothing else."

// Complete sends req as a single user message.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.JSON {
		reqBody.System = jsonSystemPrompt
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.newError("send request", err).WithRetryable(ctx.Err() == nil)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.newError("read response", err).WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var respData messagesResponse
		if json.Unmarshal(body, &respData) == nil && respData.Error != nil {
			msg = respData.Error.Message
		}
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		cause := fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests {
			cause = errors.Join(cause, errors.ErrRateLimited)
		}
		return nil, c.newError("messages request failed", cause).WithStatus(resp.StatusCode)
	}

	var respData messagesResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return nil, c.newError("unmarshal response", err)
	}

	if respData.Error != nil {
		return nil, c.newError("messages request failed", fmt.Errorf("API error: %s", respData.Error.Message))
	}

	var text strings.Builder
	for _, block := range respData.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &Response{
		Text:  strings.TrimSpace(text.String()),
		Model: respData.Model,
	}
	if out.Model == "" {
		out.Model = c.model
	}
	if u := respData.Usage; u != nil {
		out.Usage = Usage{
			InputTokens:      u.InputTokens,
			OutputTokens:     u.OutputTokens,
			CacheReadTokens:  u.CacheReadInputTokens,
			CacheWriteTokens: u.CacheCreationInputTokens,
		}
	}

	if out.Text == "" {
		return out, c.newError("empty response from API", nil)
	}
	return out, nil
}

func (c *AnthropicClient) newError(msg string, cause error) *errors.LLMError {
	return errors.NewLLMError(msg, cause).WithProvider(ProviderAnthropic).WithModel(c.model)
}
