package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/usage"
)

// ClaudeBackend drives Claude Code in one-shot print mode.
type ClaudeBackend struct {
	command   string
	model     string
	extraArgs []string
	status    *statusLineParser
}

// NewClaudeBackend creates a Claude backend from config.
func NewClaudeBackend(cfg config.AgentConfig) *ClaudeBackend {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	model := cfg.Model
	if !strings.HasPrefix(model, "claude") && model != "sonnet" && model != "opus" && model != "haiku" {
		model = ""
	}
	return &ClaudeBackend{
		command:   command,
		model:     model,
		extraArgs: cfg.ExtraArgs,
		status:    newStatusLineParser(),
	}
}

func (c *ClaudeBackend) Name() BackendName { return BackendClaude }

// AutoCommits is false: Claude Code leaves edits in the working tree.
func (c *ClaudeBackend) AutoCommits() bool { return false }

func (c *ClaudeBackend) BuildCommand(req Request) (string, []string, error) {
	if strings.TrimSpace(req.Instructions) == "" {
		return "", nil, fmt.Errorf("instructions required")
	}

	args := []string{"--print", "--output-format", "json", "--dangerously-skip-permissions"}
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, c.extraArgs...)
	args = append(args, buildClaudePrompt(req))
	return c.command, args, nil
}

func buildClaudePrompt(req Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Instructions))
	if len(req.Files) > 0 {
		b.WriteString("\n\nFiles to change:\n")
		for _, f := range req.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(req.ReadOnlyFiles) > 0 {
		b.WriteString("\nRead these files first and follow their conventions; do not modify them:\n")
		for _, f := range req.ReadOnlyFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	b.WriteString("\nDo not commit; leave your edits in the working tree.")
	return b.String()
}

// claudeResult is the object printed by --output-format json.
type claudeResult struct {
	Type         string  `json:"type"`
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	Usage        *struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// decodeResult finds the result object, which is the last JSON value in the
// output when the CLI also printed warnings.
func decodeResult(output []byte) (*claudeResult, bool) {
	trimmed := bytes.TrimSpace(output)
	start := bytes.LastIndex(trimmed, []byte("\n{"))
	if start >= 0 {
		trimmed = trimmed[start+1:]
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var res claudeResult
	if err := json.Unmarshal(trimmed, &res); err != nil || res.Type != "result" {
		return nil, false
	}
	return &res, true
}

func (c *ClaudeBackend) ParseUsage(output []byte) *Metrics {
	res, ok := decodeResult(output)
	if !ok {
		return c.status.Parse(output)
	}
	m := &Metrics{APICalls: res.NumTurns}
	if res.Usage != nil {
		m.Usage = llm.Usage{
			InputTokens:      res.Usage.InputTokens,
			OutputTokens:     res.Usage.OutputTokens,
			CacheReadTokens:  res.Usage.CacheReadInputTokens,
			CacheWriteTokens: res.Usage.CacheCreationInputTokens,
		}
	}
	if res.TotalCostUSD > 0 {
		m.Cost = res.TotalCostUSD
		m.HasCost = true
	}
	if m.Usage.IsZero() && !m.HasCost {
		return nil
	}
	return m
}

func (c *ClaudeBackend) Summary(output []byte) string {
	if res, ok := decodeResult(output); ok {
		return summarize([]byte(res.Result), nil)
	}
	return summarize(output, nil)
}

// EstimateCost falls back to Sonnet pricing, the Claude Code default.
func (c *ClaudeBackend) EstimateCost(model string, u llm.Usage) (float64, bool) {
	if model == "" {
		model = c.model
	}
	if model == "" {
		model = "sonnet"
	}
	return usage.EstimateCost(model, u)
}
