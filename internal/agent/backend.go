// Package agent runs the pair-programming CLI that edits the repository for
// an issue. Backends know how to build the command line for their tool and
// how to read token usage back out of its output; Runner executes them.
package agent

import (
	"fmt"
	"strings"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/llm"
)

// BackendName identifies a supported CLI.
type BackendName string

const (
	BackendAider  BackendName = "aider"
	BackendClaude BackendName = "claude"
)

// DefaultSummary is reported when the tool printed nothing worth quoting.
const DefaultSummary = "Commands executed successfully"

// Request describes one agent invocation.
type Request struct {
	// Dir is the worktree the agent runs in.
	Dir          string
	Instructions string
	// Files are opened for editing.
	Files []string
	// ReadOnlyFiles are added as context only (conventions, docs).
	ReadOnlyFiles []string
	Model         string
}

// Metrics is the usage a tool reported about itself.
type Metrics struct {
	Usage llm.Usage
	// Cost is the tool's own cost figure; valid when HasCost is set.
	Cost     float64
	HasCost  bool
	APICalls int
}

// Backend is implemented per CLI.
type Backend interface {
	Name() BackendName
	// BuildCommand returns the executable and its arguments.
	BuildCommand(req Request) (string, []string, error)
	// ParseUsage extracts usage from the captured output, or nil.
	ParseUsage(output []byte) *Metrics
	// Summary extracts the text worth quoting in the pull request.
	Summary(output []byte) string
	// EstimateCost prices usage when the tool reports no cost.
	EstimateCost(model string, u llm.Usage) (float64, bool)
	// AutoCommits reports whether the tool commits its own edits.
	AutoCommits() bool
}

// NewFromConfig builds the backend named by cfg.Backend.
func NewFromConfig(cfg config.AgentConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case string(BackendAider), "":
		return NewAiderBackend(cfg), nil
	case string(BackendClaude):
		return NewClaudeBackend(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownBackend, cfg.Backend)
	}
}
