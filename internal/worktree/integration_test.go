package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fixit-bot/fixit/internal/testutil"
)

func TestManager_RealGitLifecycle(t *testing.T) {
	repo, remote := testutil.SetupTestRepoWithRemote(t)
	testutil.CommitFile(t, repo, "calc.go", "package calc\n", "add calc")
	testutil.Git(t, repo, "push", "origin", "main")

	m, err := New(repo, filepath.Join(t.TempDir(), "worktrees"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	branch := BranchName("fixit", 7, "Fix the adder")

	path, err := m.Prepare(ctx, branch, "main")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "calc.go")); err != nil {
		t.Fatalf("worktree is missing base content: %v", err)
	}

	if n, err := m.CountCommitsBeyond(ctx, path, "main"); err != nil || n != 0 {
		t.Fatalf("CountCommitsBeyond() on fresh worktree = %d, %v", n, err)
	}

	testutil.WriteFile(t, path, "calc.go", "package calc\n\nfunc Add(a, b int) int { return a + b }\n")
	dirty, err := m.HasUncommittedChanges(ctx, path)
	if err != nil || !dirty {
		t.Fatalf("HasUncommittedChanges() = %v, %v", dirty, err)
	}
	if err := m.CommitAll(ctx, path, "fix: Fix the adder (#7)"); err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}
	if err := m.CommitAll(ctx, path, "nothing"); err != nil {
		t.Errorf("CommitAll() with a clean tree should be a no-op, got %v", err)
	}

	if n, err := m.CountCommitsBeyond(ctx, path, "main"); err != nil || n != 1 {
		t.Errorf("CountCommitsBeyond() = %d, %v; want 1", n, err)
	}
	files, err := m.GetChangedFiles(ctx, path, "main")
	if err != nil || len(files) != 1 || files[0] != "calc.go" {
		t.Errorf("GetChangedFiles() = %v, %v", files, err)
	}

	if err := m.Push(ctx, path, branch); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !testutil.RemoteHasBranch(t, remote, branch) {
		t.Errorf("remote is missing branch %s", branch)
	}

	// A second attempt replaces the worktree and resets the branch to base.
	again, err := m.Prepare(ctx, branch, "main")
	if err != nil {
		t.Fatalf("second Prepare() error = %v", err)
	}
	if n, _ := m.CountCommitsBeyond(ctx, again, "main"); n != 0 {
		t.Errorf("re-prepared branch has %d commits beyond main, want 0", n)
	}

	if err := m.Remove(ctx, again); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(again); !os.IsNotExist(err) {
		t.Errorf("worktree directory still exists: %v", err)
	}
}
