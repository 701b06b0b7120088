package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fixit-bot/fixit/internal/agent"
	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/issueparse"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/pr"
	"github.com/fixit-bot/fixit/internal/repoconfig"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
	"github.com/fixit-bot/fixit/internal/usage"
	"github.com/fixit-bot/fixit/internal/util"
	"github.com/fixit-bot/fixit/internal/worktree"
)

const (
	// cleanupTimeout bounds worktree removal after the run context is gone.
	cleanupTimeout = 2 * time.Minute
	// maxStoredError bounds the error text kept on a run.
	maxStoredError = 2000
	// maxCommentOutput bounds agent output quoted in a failure comment.
	maxCommentOutput = 1500
)

// Config holds the settings a Fixer reads from the fixit configuration.
type Config struct {
	Repo            string
	BaseBranch      string
	BranchPrefix    string
	ConventionsFile string
	PR              config.PRConfig
}

// ConfigFrom extracts the pipeline settings from cfg.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Repo:            cfg.GitHub.Repository,
		BaseBranch:      cfg.GitHub.BaseBranch,
		BranchPrefix:    cfg.Branch.Prefix,
		ConventionsFile: cfg.Agent.ConventionsFile,
		PR:              cfg.PR,
	}
}

// Deps are the collaborators a Fixer drives.
type Deps struct {
	Tracker   github.Tracker
	Worktrees Worktrees
	Parser    Parser
	Agent     Agent
	Runs      Runs
	Ledger    *usage.Ledger
	Budget    *usage.Monitor
	Logger    *logging.Logger
}

// Fixer processes fix jobs.
type Fixer struct {
	tracker   github.Tracker
	worktrees Worktrees
	parser    Parser
	agent     Agent
	runs      Runs
	ledger    *usage.Ledger
	budget    *usage.Monitor
	logger    *logging.Logger
	cfg       Config
	now       func() time.Time
}

// New creates a Fixer.
func New(d Deps, cfg Config) (*Fixer, error) {
	switch {
	case d.Tracker == nil:
		return nil, fmt.Errorf("pipeline: Tracker is required")
	case d.Worktrees == nil:
		return nil, fmt.Errorf("pipeline: Worktrees is required")
	case d.Parser == nil:
		return nil, fmt.Errorf("pipeline: Parser is required")
	case d.Agent == nil:
		return nil, fmt.Errorf("pipeline: Agent is required")
	case d.Runs == nil:
		return nil, fmt.Errorf("pipeline: Runs is required")
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "fixit"
	}

	f := &Fixer{
		tracker:   d.Tracker,
		worktrees: d.Worktrees,
		parser:    d.Parser,
		agent:     d.Agent,
		runs:      d.Runs,
		ledger:    d.Ledger,
		budget:    d.Budget,
		logger:    d.Logger,
		cfg:       cfg,
		now:       time.Now,
	}
	if f.logger == nil {
		f.logger = logging.NopLogger()
	}
	if f.ledger == nil {
		f.ledger = usage.NewLedger(nil, f.logger)
	}
	if f.budget == nil {
		f.budget = usage.NewMonitor(usage.Budget{}, f.logger)
	}
	return f, nil
}

// skipError ends a run without failing it.
type skipError struct {
	reason string
}

func (e *skipError) Error() string { return "skipped: " + e.reason }

func skip(reason string) error { return &skipError{reason: reason} }

// runState carries one run through the stages.
type runState struct {
	run      *store.Run
	job      *taskqueue.Job
	issue    *github.Issue
	worktree string
	logger   *logging.Logger
}

// Process runs a job to completion and returns the final run record.
// Skipped runs return a nil error.
func (f *Fixer) Process(ctx context.Context, job *taskqueue.Job) (*store.Run, error) {
	run, err := f.startRun(ctx, job)
	if err != nil {
		return nil, err
	}

	rs := &runState{
		run:    run,
		job:    job,
		logger: f.logger.WithRun(run.ID).WithIssue(run.IssueNumber),
	}
	rs.logger.Info("run started", "attempt", run.Attempts, "trigger", run.Trigger)

	err = f.execute(ctx, rs)
	f.cleanup(ctx, rs)
	return rs.run, f.finish(ctx, rs, err)
}

func (f *Fixer) startRun(ctx context.Context, job *taskqueue.Job) (*store.Run, error) {
	if job == nil {
		return nil, errors.NewValidationError("job required")
	}

	var run *store.Run
	if job.RunID != "" {
		r, err := f.runs.GetRun(ctx, job.RunID)
		if err != nil {
			return nil, err
		}
		run = r
		if run.Status == store.StatusFailed {
			if err := run.Transition(store.StatusQueued, f.now()); err != nil {
				return nil, err
			}
		}
	} else {
		trigger := job.Trigger
		if trigger == "" {
			trigger = store.TriggerManual
		}
		run = store.NewRun(f.cfg.Repo, job.IssueNumber, "", trigger)
		if err := f.runs.CreateRun(ctx, run); err != nil {
			return nil, err
		}
		job.RunID = run.ID
	}

	run.Attempts++
	run.Error = ""
	if err := run.Transition(store.StatusRunning, f.now()); err != nil {
		return nil, err
	}
	if err := f.runs.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// enter records that the run reached stage.
func (f *Fixer) enter(ctx context.Context, rs *runState, stage Stage) {
	rs.run.Stage = stage.String()
	rs.logger = f.logger.WithRun(rs.run.ID).WithIssue(rs.run.IssueNumber).WithStage(stage.String())
	rs.logger.Debug("entering stage")
	if err := f.runs.UpdateRun(ctx, rs.run); err != nil {
		rs.logger.Warn("failed to update run", "error", err)
	}
}

func (f *Fixer) execute(ctx context.Context, rs *runState) error {
	base := f.cfg.BaseBranch

	f.enter(ctx, rs, StageLoadIssue)
	issue, err := f.tracker.GetIssue(ctx, rs.run.IssueNumber)
	if err != nil {
		return err
	}
	rs.issue = issue
	rs.run.IssueTitle = issue.Title
	if !issue.IsOpen() {
		return skip(errors.ErrIssueClosed.Error())
	}

	f.enter(ctx, rs, StageCheckPR)
	branch := worktree.BranchName(f.cfg.BranchPrefix, issue.Number, issue.Title)
	rs.run.Branch = branch
	// Earlier runs may have named the branch after an older title.
	existing, err := f.tracker.FindOpenPullRequest(ctx, worktree.BranchStem(f.cfg.BranchPrefix, issue.Number))
	if err != nil {
		return err
	}
	if existing != nil {
		rs.run.PRURL = existing.HTMLURL
		rs.run.PRNumber = existing.Number
		rs.logger.Info("pull request already open", "pr", existing.HTMLURL)
		return skip("pull request already open: " + existing.HTMLURL)
	}

	f.enter(ctx, rs, StageBudget)
	if err := f.checkBudget(ctx, rs); err != nil {
		return err
	}

	f.enter(ctx, rs, StageWorktree)
	path, err := f.worktrees.Prepare(ctx, branch, base)
	if err != nil {
		return err
	}
	rs.worktree = path

	f.enter(ctx, rs, StageParse)
	repoCfg, err := repoconfig.Load(path)
	if err != nil {
		return err
	}
	plan, parseUsage, err := f.parser.Parse(ctx, issue)
	f.recordParseUsage(ctx, rs, parseUsage)
	if errors.Is(err, errors.ErrNoInstructions) {
		f.comment(ctx, rs, pr.NoInstructionsComment())
		return skip("no instructions found in issue")
	}
	if err != nil {
		return err
	}
	files, protected := repoCfg.FilterFiles(plan.Files)
	if len(protected) > 0 {
		rs.logger.Warn("dropping protected files from plan", "files", protected)
	}
	files = slices.DeleteFunc(files, func(p string) bool {
		if f.worktrees.IsSubmodulePath(p) {
			rs.logger.Warn("dropping file inside a submodule", "file", p)
			return true
		}
		return false
	})
	rs.logger.Info("issue parsed",
		"instructions", len(plan.Instructions),
		"files", len(files),
	)

	f.enter(ctx, rs, StagePatch)
	if err := f.checkBudget(ctx, rs); err != nil {
		return err
	}
	res, runErr := f.agent.Run(ctx, agent.Request{
		Dir:           path,
		Instructions:  plan.Prompt(),
		Files:         files,
		ReadOnlyFiles: readOnlyFiles(path, repoCfg, f.cfg.ConventionsFile),
	})
	if res != nil {
		f.recordPatchUsage(ctx, rs, res)
	}
	if runErr != nil {
		return runErr
	}

	f.enter(ctx, rs, StageCommit)
	dirty, err := f.worktrees.HasUncommittedChanges(ctx, path)
	if err != nil {
		return err
	}
	if dirty {
		if err := f.worktrees.CommitAll(ctx, path, commitMessage(issue)); err != nil {
			return err
		}
	}
	commits, err := f.worktrees.CountCommitsBeyond(ctx, path, base)
	if err != nil {
		return err
	}
	if commits == 0 {
		return errors.NewAgentError("agent produced no changes", errors.ErrNoChanges).
			WithBackend(string(f.agent.Backend().Name()))
	}

	f.enter(ctx, rs, StagePublish)
	if err := f.worktrees.Push(ctx, path, branch); err != nil {
		return err
	}
	changed, err := f.worktrees.GetChangedFiles(ctx, path, base)
	if err != nil {
		return err
	}
	commitLog, err := f.worktrees.CommitLog(ctx, path, base)
	if err != nil {
		rs.logger.Warn("failed to read commit log", "error", err)
	}

	totals := f.ledger.RunTotals(rs.run.ID)
	summary := ""
	if res != nil {
		summary = res.Summary
	}
	content, err := pr.Compose(pr.Input{
		Issue:             issue,
		RunID:             rs.run.ID,
		Branch:            branch,
		Summary:           summary,
		Instructions:      plan.Instructions,
		ChangedFiles:      changed,
		CommitLog:         commitLog,
		Usage:             totals.Usage,
		Cost:              totals.Cost,
		Template:          f.cfg.PR.Template,
		ConventionalTitle: f.cfg.PR.ConventionalTitle,
	})
	if err != nil {
		return err
	}
	created, err := f.tracker.CreatePullRequest(ctx, github.NewPullRequest{
		Title: content.Title,
		Body:  content.Body,
		Head:  branch,
		Base:  base,
		Draft: f.cfg.PR.Draft,
	})
	if err != nil {
		return err
	}
	rs.run.PRURL = created.HTMLURL
	rs.run.PRNumber = created.Number
	rs.logger.Info("pull request created", "pr", created.HTMLURL, "commits", commits)

	if labels := mergeUnique(f.cfg.PR.Labels, repoCfg.Labels); len(labels) > 0 {
		if err := f.tracker.AddLabels(ctx, created.Number, labels); err != nil {
			rs.logger.Warn("failed to add labels", "labels", labels, "error", err)
		}
	}
	reviewers := pr.ResolveReviewers(changed,
		mergeUnique(f.cfg.PR.Reviewers.Default, repoCfg.Reviewers),
		f.cfg.PR.Reviewers.ByPath)
	if issue.Author != "" {
		// GitHub rejects a review request for the pull request's author, and
		// the issue author is already mentioned in the body.
		reviewers = slices.DeleteFunc(reviewers, func(r string) bool { return strings.EqualFold(r, issue.Author) })
	}
	if len(reviewers) > 0 {
		if err := f.tracker.RequestReviewers(ctx, created.Number, reviewers); err != nil {
			rs.logger.Warn("failed to request reviewers", "reviewers", reviewers, "error", err)
		}
	}

	f.enter(ctx, rs, StageComment)
	f.comment(ctx, rs, pr.IssueComment(created.HTMLURL))

	rs.run.Stage = StageDone.String()
	return nil
}

// checkBudget applies the run and daily limits.
func (f *Fixer) checkBudget(ctx context.Context, rs *runState) error {
	daily, err := f.runs.DailyCost(ctx)
	if err != nil {
		return err
	}
	return f.budget.Check(rs.run.ID, f.ledger.RunTotals(rs.run.ID), daily)
}

func (f *Fixer) recordParseUsage(ctx context.Context, rs *runState, u *llm.Usage) {
	if u == nil || u.IsZero() {
		return
	}
	provider := f.parser.Provider()
	ev := usage.Event{
		RunID: rs.run.ID,
		Stage: usage.StageParse,
		Usage: *u,
	}
	if provider != nil {
		ev.Provider = provider.Name()
		ev.Model = provider.Model()
	}
	f.record(ctx, rs, ev)
}

func (f *Fixer) recordPatchUsage(ctx context.Context, rs *runState, res *agent.Result) {
	if res.Usage.IsZero() && res.Cost == 0 {
		return
	}
	f.record(ctx, rs, usage.Event{
		RunID:    rs.run.ID,
		Stage:    usage.StagePatch,
		Provider: string(f.agent.Backend().Name()),
		Model:    res.Model,
		Usage:    res.Usage,
		Cost:     res.Cost,
	})
}

func (f *Fixer) record(ctx context.Context, rs *runState, ev usage.Event) {
	if _, err := f.ledger.Record(context.WithoutCancel(ctx), ev); err != nil {
		rs.logger.Warn("failed to persist usage", "stage", ev.Stage, "error", err)
	}
}

func (f *Fixer) comment(ctx context.Context, rs *runState, body string) {
	if err := f.tracker.CreateComment(ctx, rs.run.IssueNumber, body); err != nil {
		rs.logger.Warn("failed to comment on issue", "error", err)
	}
}

// cleanup removes the worktree and its local branch even when the run
// context is done. The pushed branch stays on the remote for the pull
// request.
func (f *Fixer) cleanup(ctx context.Context, rs *runState) {
	if rs.worktree == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := f.worktrees.Remove(ctx, rs.worktree); err != nil {
		rs.logger.Warn("failed to remove worktree", "path", rs.worktree, "error", err)
		return
	}
	if err := f.worktrees.DeleteBranch(ctx, rs.run.Branch); err != nil {
		rs.logger.Warn("failed to delete local branch", "branch", rs.run.Branch, "error", err)
	}
}

// finish records the outcome of the run and reports failures on the issue.
func (f *Fixer) finish(ctx context.Context, rs *runState, err error) error {
	canceled := ctx.Err() != nil
	ctx = context.WithoutCancel(ctx)
	run := rs.run
	now := f.now()

	totals := f.ledger.RunTotals(run.ID)
	run.InputTokens = totals.Usage.InputTokens
	run.OutputTokens = totals.Usage.OutputTokens
	run.Cost = totals.Cost

	final := true
	var sk *skipError
	switch {
	case err == nil:
		if tErr := run.Transition(store.StatusSucceeded, now); tErr != nil {
			rs.logger.Error("invalid run transition", "error", tErr)
		}
		stages := f.ledger.ByStage(run.ID)
		rs.logger.Info("run succeeded",
			"pr", run.PRURL,
			"cost", usage.FormatCost(run.Cost),
			"parse_cost", usage.FormatCost(stages[usage.StageParse].Cost),
			"patch_cost", usage.FormatCost(stages[usage.StagePatch].Cost),
		)

	case errors.As(err, &sk):
		if tErr := run.Transition(store.StatusSkipped, now); tErr != nil {
			rs.logger.Error("invalid run transition", "error", tErr)
		}
		run.Error = sk.reason
		rs.logger.Info("run skipped", "reason", sk.reason)
		err = nil

	case canceled:
		err = errors.Join(errors.ErrCanceled, err)
		// Interrupted runs are picked up again on the next start.
		if tErr := run.Requeue(util.TruncateString(err.Error(), maxStoredError), now); tErr != nil {
			rs.logger.Error("invalid run transition", "error", tErr)
		}
		final = false
		rs.logger.Warn("run interrupted", "stage", run.Stage, "error", err)

	default:
		reason := util.TruncateString(err.Error(), maxStoredError)
		final = !errors.IsRetryable(err) || rs.job.Attempts >= rs.job.MaxAttempts
		// A run whose job goes back to the queue stays active so no second
		// run is created for the issue meanwhile.
		transition := run.Fail
		if !final {
			transition = run.Requeue
		}
		if tErr := transition(reason, now); tErr != nil {
			rs.logger.Error("invalid run transition", "error", tErr)
		}
		logFailure := rs.logger.Error
		if !final || errors.GetSeverity(err) < errors.SeverityError {
			logFailure = rs.logger.Warn
		}
		logFailure("run failed",
			"stage", run.Stage,
			"retryable", errors.IsRetryable(err),
			"final", final,
			"error", err,
		)
		if final && f.cfg.PR.CommentOnFailure && errors.IsUserFacing(err) {
			f.comment(ctx, rs, failureComment(err))
		}
	}

	if uErr := f.runs.UpdateRun(ctx, run); uErr != nil {
		rs.logger.Error("failed to save run", "error", uErr)
	}
	if final {
		f.ledger.Forget(run.ID)
		f.budget.Release(run.ID)
	}
	return err
}

// failureComment explains a failure on the issue, quoting agent output
// when there is some.
func failureComment(err error) string {
	reason, _, _ := strings.Cut(err.Error(), "\n")
	body := pr.FailureComment(util.TruncateString(reason, 300))

	var agentErr *errors.AgentError
	if errors.As(err, &agentErr) && strings.TrimSpace(agentErr.Output) != "" {
		out := util.TruncateString(strings.TrimSpace(agentErr.Output), maxCommentOutput)
		body += "\n\n<details><summary>Agent output</summary>\n\n```\n" + out + "\n```\n</details>"
	}
	return body
}

func commitMessage(issue *github.Issue) string {
	return fmt.Sprintf("fix: %s (#%d)", strings.TrimSpace(issue.Title), issue.Number)
}

// readOnlyFiles returns the conventions file and the repository's
// always-read files that exist in the worktree.
func readOnlyFiles(dir string, rc *repoconfig.Config, conventions string) []string {
	var out []string
	for _, f := range append([]string{rc.ConventionsOr(conventions)}, rc.AlwaysRead...) {
		if f == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, f)); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// mergeUnique concatenates lists, dropping blanks and case-insensitive
// duplicates while keeping first-seen order.
func mergeUnique(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			key := strings.ToLower(strings.TrimPrefix(s, "@"))
			if s == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

// DryRun parses issue number without touching git or GitHub state. The
// parse tokens are still recorded, under a run ID of their own.
func (f *Fixer) DryRun(ctx context.Context, number int) (*issueparse.Plan, usage.Totals, error) {
	issue, err := f.tracker.GetIssue(ctx, number)
	if err != nil {
		return nil, usage.Totals{}, err
	}

	rs := &runState{
		run:    &store.Run{ID: uuid.NewString(), IssueNumber: number},
		logger: f.logger.WithIssue(number).WithStage(StageParse.String()),
	}
	plan, u, err := f.parser.Parse(ctx, issue)
	f.recordParseUsage(ctx, rs, u)
	totals := f.ledger.RunTotals(rs.run.ID)
	f.ledger.Forget(rs.run.ID)
	if err != nil {
		return nil, totals, err
	}
	return plan, totals, nil
}
