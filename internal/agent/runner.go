package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/util"
)

// defaultMaxOutput bounds captured output when no limit is configured.
const defaultMaxOutput = 1 << 20

// Executor runs a command, streaming combined output to out.
type Executor interface {
	Execute(ctx context.Context, dir, name string, args []string, out io.Writer) error
}

// execExecutor runs commands with os/exec.
type execExecutor struct{}

func (execExecutor) Execute(ctx context.Context, dir, name string, args []string, out io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 10 * time.Second
	return cmd.Run()
}

// Result is the outcome of one agent run.
type Result struct {
	Output   string
	Summary  string
	Usage    llm.Usage
	Cost     float64
	Model    string
	APICalls int
	Duration time.Duration
}

// Runner executes a Backend inside a worktree.
type Runner struct {
	backend   Backend
	executor  Executor
	model     string
	timeout   time.Duration
	maxOutput int
	logger    *logging.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExecutor replaces the process executor.
func WithExecutor(e Executor) RunnerOption {
	return func(r *Runner) {
		r.executor = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a runner for backend using the agent config section.
func NewRunner(backend Backend, cfg config.AgentConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		backend:   backend,
		executor:  execExecutor{},
		model:     cfg.Model,
		timeout:   cfg.Timeout(),
		maxOutput: cfg.MaxOutputBytes,
		logger:    logging.NopLogger(),
		now:       time.Now,
	}
	if r.maxOutput <= 0 {
		r.maxOutput = defaultMaxOutput
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the backend the runner drives.
func (r *Runner) Backend() Backend {
	return r.backend
}

// Run executes the agent. A Result is returned alongside run failures so
// the caller can still account for the tokens spent.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		req.Model = r.model
	}
	req.ReadOnlyFiles = r.readOnlyFiles(req)

	name, args, err := r.backend.BuildCommand(req)
	if err != nil {
		return nil, errors.NewAgentError("build command", err).WithBackend(string(r.backend.Name()))
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Info("starting agent",
		"backend", r.backend.Name(),
		"model", req.Model,
		"files", len(req.Files),
		"read_only", len(req.ReadOnlyFiles),
	)

	out := newTailBuffer(r.maxOutput)
	start := r.now()
	runErr := r.executor.Execute(runCtx, req.Dir, name, args, out)
	output := out.Bytes()

	res := &Result{
		Output:   string(output),
		Summary:  r.backend.Summary(output),
		Model:    req.Model,
		Duration: r.now().Sub(start),
	}
	if m := r.backend.ParseUsage(output); m != nil {
		res.Usage = m.Usage
		res.APICalls = m.APICalls
		if m.HasCost {
			res.Cost = m.Cost
		} else if cost, ok := r.backend.EstimateCost(req.Model, m.Usage); ok {
			res.Cost = cost
		}
	}

	if runErr != nil {
		return res, r.classify(ctx, runCtx, runErr, res)
	}

	r.logger.Info("agent finished",
		"backend", r.backend.Name(),
		"duration", res.Duration.Round(time.Millisecond).String(),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"cost", res.Cost,
	)
	return res, nil
}

func (r *Runner) classify(parent, runCtx context.Context, runErr error, res *Result) error {
	backend := string(r.backend.Name())
	tail := util.TailLines(res.Output, 20)

	if parent.Err() != nil {
		return errors.Wrapf(errors.ErrCanceled, "%s run", backend)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(backend+" run", r.timeout).WithCause(runErr).WithRetryable(false)
	}

	agentErr := errors.NewAgentError(fmt.Sprintf("%s failed", backend), errors.Join(errors.ErrAgentFailed, runErr)).
		WithBackend(backend).
		WithOutput(tail)

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		agentErr = agentErr.WithExitCode(exitErr.ExitCode())
	} else {
		// The binary could not be started at all.
		agentErr = agentErr.WithExitCode(-1)
	}

	r.logger.Error("agent failed",
		"backend", backend,
		"exit_code", agentErr.ExitCode,
		"error", runErr,
	)
	return agentErr
}

// readOnlyFiles drops blank and repeated entries from the request's
// read-only files. The caller decides which files belong there.
func (r *Runner) readOnlyFiles(req Request) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range req.ReadOnlyFiles {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{max: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if len(p) >= t.max {
		t.buf.Reset()
		t.buf.Write(p[len(p)-t.max:])
		return n, nil
	}
	if over := t.buf.Len() + len(p) - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf.Bytes()...)
}
