package pipeline

import (
	"context"

	"github.com/fixit-bot/fixit/internal/agent"
	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/issueparse"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/store"
)

// Stage names a step of a run.
type Stage string

const (
	StageLoadIssue Stage = "load_issue"
	StageCheckPR   Stage = "check_pr"
	StageBudget    Stage = "budget"
	StageWorktree  Stage = "worktree"
	StageParse     Stage = "parse"
	StagePatch     Stage = "patch"
	StageCommit    Stage = "commit"
	StagePublish   Stage = "publish"
	StageComment   Stage = "comment"
	StageDone      Stage = "done"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// Worktrees is the git surface a run needs. *worktree.Manager implements it.
type Worktrees interface {
	Prepare(ctx context.Context, branch, base string) (string, error)
	Remove(ctx context.Context, path string) error
	HasUncommittedChanges(ctx context.Context, path string) (bool, error)
	CommitAll(ctx context.Context, path, message string) error
	CountCommitsBeyond(ctx context.Context, path, base string) (int, error)
	GetChangedFiles(ctx context.Context, path, base string) ([]string, error)
	CommitLog(ctx context.Context, path, base string) (string, error)
	Push(ctx context.Context, path, branch string) error
	DeleteBranch(ctx context.Context, branch string) error
	IsSubmodulePath(relativePath string) bool
}

// Parser turns an issue into a plan. *issueparse.Parser implements it.
type Parser interface {
	Parse(ctx context.Context, issue *github.Issue) (*issueparse.Plan, *llm.Usage, error)
	Provider() llm.Provider
}

// Agent writes the patch. *agent.Runner implements it.
type Agent interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
	Backend() agent.Backend
}

// Runs persists run records. *store.Repository implements it.
type Runs interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, run *store.Run) error
	GetRun(ctx context.Context, id string) (*store.Run, error)
	DailyCost(ctx context.Context) (float64, error)
}
