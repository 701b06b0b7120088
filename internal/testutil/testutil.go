// Package testutil provides git fixtures for tests that drive the real git
// binary.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// SkipIfNoGit skips the test when git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

// SetupTestRepo creates a repository on branch main with one commit.
func SetupTestRepo(t *testing.T) string {
	t.Helper()
	SkipIfNoGit(t)

	dir := t.TempDir()
	Git(t, dir, "init")
	Git(t, dir, "config", "user.email", "bot@fixit.test")
	Git(t, dir, "config", "user.name", "fixit test")
	Git(t, dir, "config", "commit.gpgsign", "false")
	WriteFile(t, dir, "README.md", "# test\n")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "initial commit")
	Git(t, dir, "branch", "-M", "main")
	return dir
}

// SetupTestRepoWithRemote creates a repository whose origin is a bare
// repository holding main.
func SetupTestRepoWithRemote(t *testing.T) (repoDir, remoteDir string) {
	t.Helper()
	remoteDir = t.TempDir()
	Git(t, remoteDir, "init", "--bare")

	repoDir = SetupTestRepo(t)
	Git(t, repoDir, "remote", "add", "origin", remoteDir)
	Git(t, repoDir, "push", "-u", "origin", "main")
	return repoDir, remoteDir
}

// WriteFile writes content to path under dir, creating parent directories.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// CommitFile writes path and commits it.
func CommitFile(t *testing.T, dir, path, content, message string) {
	t.Helper()
	WriteFile(t, dir, path, content)
	Git(t, dir, "add", path)
	Git(t, dir, "commit", "-m", message)
}

// RemoteHasBranch reports whether the bare repository at remoteDir has branch.
func RemoteHasBranch(t *testing.T, remoteDir, branch string) bool {
	t.Helper()
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = remoteDir
	return cmd.Run() == nil
}

// CommitCount returns the number of commits reachable from ref.
func CommitCount(t *testing.T, dir, ref string) int {
	t.Helper()
	n, err := strconv.Atoi(strings.TrimSpace(Git(t, dir, "rev-list", "--count", ref)))
	if err != nil {
		t.Fatalf("rev-list output: %v", err)
	}
	return n
}

// Git runs git in dir and fails the test on error. It returns stdout and
// stderr combined.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}
