package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/usage"
	"github.com/fixit-bot/fixit/internal/util"
)

// maxSummaryLength bounds the agent summary quoted in a pull request.
const maxSummaryLength = 4000

// AiderBackend drives aider in non-interactive --message mode.
type AiderBackend struct {
	command     string
	model       string
	autoCommits bool
	showDiffs   bool
	extraArgs   []string
}

// NewAiderBackend creates an aider backend from config.
func NewAiderBackend(cfg config.AgentConfig) *AiderBackend {
	command := cfg.Command
	if command == "" {
		command = "aider"
	}
	return &AiderBackend{
		command:     command,
		model:       cfg.Model,
		autoCommits: cfg.AutoCommits,
		showDiffs:   cfg.ShowDiffs,
		extraArgs:   cfg.ExtraArgs,
	}
}

func (a *AiderBackend) Name() BackendName { return BackendAider }

func (a *AiderBackend) AutoCommits() bool { return a.autoCommits }

// BuildCommand renders:
//
//	aider --yes-always --no-pretty --no-stream --model M
//	      [--auto-commits|--no-auto-commits] [--show-diffs]
//	      [--read F]... --message "..." files...
func (a *AiderBackend) BuildCommand(req Request) (string, []string, error) {
	if strings.TrimSpace(req.Instructions) == "" {
		return "", nil, fmt.Errorf("instructions required")
	}

	args := []string{"--yes-always", "--no-pretty", "--no-stream"}

	model := req.Model
	if model == "" {
		model = a.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	if a.autoCommits {
		args = append(args, "--auto-commits")
	} else {
		args = append(args, "--no-auto-commits")
	}
	if a.showDiffs {
		args = append(args, "--show-diffs")
	}

	for _, f := range req.ReadOnlyFiles {
		args = append(args, "--read", f)
	}
	args = append(args, a.extraArgs...)
	args = append(args, "--message", req.Instructions)
	args = append(args, req.Files...)

	return a.command, args, nil
}

func (a *AiderBackend) ParseUsage(output []byte) *Metrics {
	return parseAiderUsage(output)
}

func (a *AiderBackend) EstimateCost(model string, u llm.Usage) (float64, bool) {
	if model == "" {
		model = a.model
	}
	return usage.EstimateCost(model, u)
}

// aiderNoise matches bookkeeping lines that say nothing about the change.
var aiderNoise = regexp.MustCompile(`^(Tokens:|Aider v|Main model:|Weak model:|Git repo:|Repo-map:|Added .* to the chat|Use /help|Cost:)`)

// Summary returns the tail of aider's transcript without its bookkeeping
// lines.
func (a *AiderBackend) Summary(output []byte) string {
	return summarize(output, func(line string) bool {
		return aiderNoise.MatchString(strings.TrimSpace(line))
	})
}

// summarize keeps the last lines of output, dropping those skip rejects,
// bounded to maxSummaryLength runes from the end.
func summarize(output []byte, skip func(string) bool) string {
	text := ansi.Strip(string(output))
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if skip != nil && skip(line) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \r\t"))
	}

	summary := strings.TrimSpace(util.TailLines(strings.Join(kept, "\n"), 60))
	if summary == "" {
		return DefaultSummary
	}
	if runes := []rune(summary); len(runes) > maxSummaryLength {
		summary = "..." + string(runes[len(runes)-maxSummaryLength+3:])
	}
	return summary
}
