package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/logging"
)

// Manager creates and tears down the per-run worktrees of one repository.
type Manager struct {
	repoDir     string
	worktreeDir string
	remote      string
	executor    CommandExecutor
	logger      *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithExecutor replaces the git command executor.
func WithExecutor(e CommandExecutor) Option {
	return func(m *Manager) { m.executor = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRemote sets the remote name used for fetch and push (default "origin").
func WithRemote(name string) Option {
	return func(m *Manager) { m.remote = name }
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ErrNotGitRepository
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir. Worktrees are
// created under worktreeDir.
func New(repoDir, worktreeDir string, opts ...Option) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, errors.NewGitError("cannot manage worktrees", err).WithRepository(repoDir)
	}
	return newManager(gitRoot, worktreeDir, opts...), nil
}

func newManager(repoDir, worktreeDir string, opts ...Option) *Manager {
	m := &Manager{
		repoDir:     repoDir,
		worktreeDir: worktreeDir,
		remote:      "origin",
		executor:    NewCLICommandExecutor(),
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	out, err := m.executor.Run(ctx, dir, "git", args...)
	m.logger.Debug("git command", "dir", dir, "args", args, "output", truncateOutput(string(out), 500))
	return out, err
}

// PathFor returns the worktree path used for branch.
func (m *Manager) PathFor(branch string) string {
	return filepath.Join(m.worktreeDir, strings.ReplaceAll(branch, "/", "-"))
}

// Prepare fetches base from the remote and checks out branch from it in a
// fresh worktree. A leftover worktree or local branch from an earlier
// attempt is replaced. It returns the worktree path.
func (m *Manager) Prepare(ctx context.Context, branch, base string) (string, error) {
	path := m.PathFor(branch)

	if out, err := m.git(ctx, m.repoDir, "fetch", m.remote, base); err != nil {
		return "", errors.NewGitError("failed to fetch base branch", err).
			WithBranch(base).
			WithRepository(m.repoDir).
			WithGitOutput(string(out)).
			WithRetryable(true)
	}

	if _, err := os.Stat(path); err == nil {
		m.logger.Warn("removing stale worktree", "path", path)
		if err := m.Remove(ctx, path); err != nil {
			m.logger.Warn("stale worktree removal incomplete", "path", path, "error", err)
		}
	}

	if err := os.MkdirAll(m.worktreeDir, 0o755); err != nil {
		return "", errors.NewGitError("failed to create worktree directory", err).WithWorktree(m.worktreeDir)
	}

	// -B resets a local branch left behind by a failed attempt.
	out, err := m.git(ctx, m.repoDir, "worktree", "add", "-B", branch, path, m.remote+"/"+base)
	if err != nil {
		cause := error(nil)
		if strings.Contains(string(out), "already checked out") || strings.Contains(string(out), "already used by worktree") {
			cause = errors.ErrBranchExists
		}
		return "", errors.NewGitError("failed to create worktree", cause).
			WithBranch(branch).
			WithWorktree(path).
			WithRepository(m.repoDir).
			WithGitOutput(string(out))
	}

	if err := m.InitSubmodules(ctx, path); err != nil {
		_ = m.Remove(ctx, path)
		return "", err
	}

	m.logger.Info("worktree prepared", "branch", branch, "base", base, "path", path)
	return path, nil
}

// Remove removes a worktree, falling back to deleting the directory and
// pruning worktree metadata when git refuses.
func (m *Manager) Remove(ctx context.Context, path string) error {
	out, err := m.git(ctx, m.repoDir, "worktree", "remove", "--force", path)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = m.git(ctx, m.repoDir, "worktree", "prune")
		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithWorktree(path).
			WithGitOutput(string(out))
	}
	return nil
}

// List returns the paths of all worktrees of the repository.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	out, err := m.git(ctx, m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).WithGitOutput(string(out))
	}

	var worktrees []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(ctx context.Context, branch string) bool {
	_, err := m.git(ctx, m.repoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// DeleteBranch deletes a local branch. A missing branch is not an error.
func (m *Manager) DeleteBranch(ctx context.Context, branch string) error {
	if !m.BranchExists(ctx, branch) {
		return nil
	}
	out, err := m.git(ctx, m.repoDir, "branch", "-D", branch)
	if err != nil {
		return errors.NewGitError("failed to delete branch", err).
			WithBranch(branch).
			WithGitOutput(string(out))
	}
	return nil
}

// HasUncommittedChanges returns true if the worktree has staged, unstaged,
// or untracked changes.
func (m *Manager) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	out, err := m.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check git status", err).
			WithWorktree(path).
			WithGitOutput(string(out))
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// CommitAll stages and commits all changes with the given message.
// Returns nil if there is nothing to commit.
func (m *Manager) CommitAll(ctx context.Context, path, message string) error {
	out, err := m.git(ctx, path, "add", "-A")
	if err != nil {
		return errors.NewGitError("failed to stage changes", err).
			WithWorktree(path).
			WithGitOutput(string(out))
	}

	out, err = m.git(ctx, path, "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(out), "nothing to commit") {
			return nil
		}
		return errors.NewGitError("failed to commit changes", err).
			WithWorktree(path).
			WithGitOutput(string(out))
	}
	return nil
}

// CountCommitsBeyond returns how many commits HEAD has that remote/base lacks.
func (m *Manager) CountCommitsBeyond(ctx context.Context, path, base string) (int, error) {
	out, err := m.git(ctx, path, "rev-list", "--count", m.remote+"/"+base+"..HEAD")
	if err != nil {
		return 0, errors.NewGitError("failed to count commits", err).
			WithWorktree(path).
			WithGitOutput(string(out))
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, errors.NewGitError("unexpected rev-list output", err).WithGitOutput(string(out))
	}
	return n, nil
}

// GetChangedFiles lists files changed on HEAD since it diverged from remote/base.
func (m *Manager) GetChangedFiles(ctx context.Context, path, base string) ([]string, error) {
	out, err := m.git(ctx, path, "diff", "--name-only", m.remote+"/"+base+"...HEAD")
	if err != nil {
		return nil, errors.NewGitError("failed to list changed files", err).
			WithWorktree(path).
			WithGitOutput(string(out))
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// CommitLog returns the one-line log of commits beyond remote/base.
func (m *Manager) CommitLog(ctx context.Context, path, base string) (string, error) {
	out, err := m.git(ctx, path, "log", "--oneline", m.remote+"/"+base+"..HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to read commit log", err).
			WithWorktree(path).
			WithGitOutput(string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// Push publishes branch to the remote and sets it as upstream.
func (m *Manager) Push(ctx context.Context, path, branch string) error {
	out, err := m.git(ctx, path, "push", "--set-upstream", m.remote, branch)
	if err != nil {
		if strings.Contains(string(out), "rejected") {
			return errors.NewGitError("failed to push branch", errors.ErrPushRejected).
				WithBranch(branch).
				WithGitOutput(string(out))
		}
		// anything else is usually network or auth flakiness
		return errors.NewGitError("failed to push branch", err).
			WithBranch(branch).
			WithWorktree(path).
			WithGitOutput(string(out)).
			WithRetryable(true)
	}
	return nil
}

// RemoteURL returns the fetch URL of the configured remote.
func (m *Manager) RemoteURL(ctx context.Context) (string, error) {
	out, err := m.git(ctx, m.repoDir, "remote", "get-url", m.remote)
	if err != nil {
		return "", errors.NewGitError(fmt.Sprintf("failed to read remote %q", m.remote), err).
			WithGitOutput(string(out))
	}
	return strings.TrimSpace(string(out)), nil
}
