// Package issueparse turns an issue description into a Plan: the
// instructions to hand the pair-programming agent and the files it should
// open.
package issueparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/util"
)

// Plan is the structured work extracted from an issue.
type Plan struct {
	Instructions []string `json:"instructions"`
	Files        []string `json:"files"`
}

// Prompt renders the instructions as the message sent to the agent, one
// numbered line per instruction.
func (p *Plan) Prompt() string {
	if len(p.Instructions) == 1 {
		return p.Instructions[0]
	}
	var b strings.Builder
	for i, inst := range p.Instructions {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, inst)
	}
	return b.String()
}

// promptTemplate asks the model to restate the issue without adding work.
const promptTemplate = `Extract information from this issue description:
1. List the instructions/changes exactly as they are mentioned in the issue, without adding any new steps or modifying the intent. Keep the original phrasing where possible.
2. List all files that are mentioned as being modified or created.

Respond ONLY with valid JSON in this exact format:
{"instructions": ["instruction 1", "instruction 2"], "files": ["file/path1.ext", "file/path2.ext"]}

Use an empty list when nothing applies. Do not include any text outside the JSON object.

Issue #{{.Number}}: {{.Title}}

{{.Body}}`

var promptTmpl = template.Must(template.New("issueparse").Parse(promptTemplate))

// Parser extracts a Plan from an issue using a model provider.
type Parser struct {
	provider  llm.Provider
	maxTokens int
	logger    *logging.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxTokens bounds the model answer.
func WithMaxTokens(n int) Option {
	return func(p *Parser) {
		p.maxTokens = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Parser) {
		p.logger = l
	}
}

// New creates a Parser backed by provider.
func New(provider llm.Provider, opts ...Option) *Parser {
	p := &Parser{
		provider:  provider,
		maxTokens: llm.DefaultMaxTokens,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provider returns the model provider the parser asks.
func (p *Parser) Provider() llm.Provider {
	return p.provider
}

// Parse asks the model for a Plan. Usage is returned whenever the provider
// reported it, including when parsing the answer fails.
func (p *Parser) Parse(ctx context.Context, issue *github.Issue) (*Plan, *llm.Usage, error) {
	if issue == nil || strings.TrimSpace(issue.Body) == "" {
		return nil, nil, errors.NewValidationError("issue has no description").WithField("body")
	}

	var prompt bytes.Buffer
	if err := promptTmpl.Execute(&prompt, issue); err != nil {
		return nil, nil, fmt.Errorf("render prompt: %w", err)
	}

	resp, err := p.provider.Complete(ctx, llm.Request{
		Prompt:    prompt.String(),
		MaxTokens: p.maxTokens,
		JSON:      true,
	})
	var usage *llm.Usage
	if resp != nil && !resp.Usage.IsZero() {
		u := resp.Usage
		usage = &u
	}
	if err != nil {
		return nil, usage, err
	}

	plan, err := ParseResponse(resp.Text)
	if err != nil {
		p.logger.Warn("unparsable model response",
			"issue", issue.Number,
			"model", resp.Model,
			"response", util.TruncateString(resp.Text, 500),
		)
		return nil, usage, err
	}

	p.logger.Debug("parsed issue",
		"issue", issue.Number,
		"instructions", len(plan.Instructions),
		"files", len(plan.Files),
	)

	if len(plan.Instructions) == 0 {
		return plan, usage, errors.ErrNoInstructions
	}
	return plan, usage, nil
}

// ParseResponse decodes a model answer into a Plan. The JSON object may be
// wrapped in a markdown fence or surrounded by prose.
func ParseResponse(text string) (*Plan, error) {
	raw := extractJSON(strings.TrimSpace(text))
	if raw == "" {
		return nil, errors.ErrUnparsableResponse
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnparsableResponse, err)
	}

	plan.Instructions = cleanInstructions(plan.Instructions)
	plan.Files = NormalizeFiles(plan.Files)
	return &plan, nil
}

// extractJSON returns the outermost {...} span of s, or "" when there is none.
func extractJSON(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func cleanInstructions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeFiles trims paths, strips a leading "./", drops absolute paths and
// paths escaping the repository, and removes duplicates keeping first order.
func NormalizeFiles(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.Trim(strings.TrimSpace(f), "`\"'")
		if f == "" {
			continue
		}
		f = strings.ReplaceAll(f, "\\", "/")
		if strings.HasPrefix(f, "/") || (len(f) > 1 && f[1] == ':') {
			continue
		}
		f = path.Clean(f)
		if f == "." || f == ".." || strings.HasPrefix(f, "../") {
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
