package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/fixit-bot/fixit/internal/errors"
)

const (
	// ProviderGemini is the provider name for Google's Gemini API.
	ProviderGemini = "gemini"

	// DefaultGeminiModel is used when no model is configured.
	DefaultGeminiModel = "gemini-2.0-flash"
)

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport used by the SDK.
	HTTPClient *http.Client
}

// GeminiClient implements Provider using the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a Gemini provider. The key falls back to
// GEMINI_API_KEY and then GOOGLE_API_KEY.
func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w", errors.ErrMissingAPIKey)
	}

	model := opts.Model
	if model == "" || strings.HasPrefix(model, "claude") {
		model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.NewLLMError("create client", err).WithProvider(ProviderGemini).WithModel(model)
	}

	return &GeminiClient{client: client, model: model, timeout: opts.Timeout}, nil
}

// Name implements Provider.
func (c *GeminiClient) Name() string { return ProviderGemini }

// Model implements Provider.
func (c *GeminiClient) Model() string { return c.model }

// Complete sends req as a single user turn.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	gc := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), gc)
	if err != nil {
		llmErr := errors.NewLLMError("generate content", err).WithProvider(ProviderGemini).WithModel(c.model)
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			llmErr = llmErr.WithStatus(apiErr.Code)
		} else if ctx.Err() == nil {
			llmErr = llmErr.WithRetryable(true)
		}
		return nil, llmErr
	}

	out := &Response{
		Text:  strings.TrimSpace(result.Text()),
		Model: c.model,
	}
	if result.ModelVersion != "" {
		out.Model = result.ModelVersion
	}
	if md := result.UsageMetadata; md != nil {
		out.Usage = Usage{
			InputTokens:     int64(md.PromptTokenCount),
			OutputTokens:    int64(md.CandidatesTokenCount),
			CacheReadTokens: int64(md.CachedContentTokenCount),
		}
	}

	if out.Text == "" {
		return out, errors.NewLLMError("empty response from API", nil).WithProvider(ProviderGemini).WithModel(c.model)
	}
	return out, nil
}
