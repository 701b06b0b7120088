package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const gitmodules = `[submodule "mylib"]
	path = vendor/mylib
	url = https://github.com/example/mylib.git
	branch = main
; comment
[submodule "docs"]
	path = docs/site
	url = ../docs.git
`

func TestParseGitmodules(t *testing.T) {
	got, err := parseGitmodules(strings.NewReader(gitmodules))
	if err != nil {
		t.Fatalf("parseGitmodules() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	want := SubmoduleInfo{Name: "mylib", Path: "vendor/mylib", URL: "https://github.com/example/mylib.git", Branch: "main"}
	if got[0] != want {
		t.Errorf("first = %+v, want %+v", got[0], want)
	}
	if got[1].Path != "docs/site" {
		t.Errorf("second path = %q", got[1].Path)
	}
}

func writeGitmodules(t *testing.T, m *Manager) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(m.RepoDir(), ".gitmodules"), []byte(gitmodules), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManager_IsSubmodulePath(t *testing.T) {
	m := testManager(t, newMockExecutor())
	if m.IsSubmodulePath("vendor/mylib/a.go") {
		t.Error("no .gitmodules yet, should be false")
	}

	writeGitmodules(t, m)
	tests := map[string]bool{
		"vendor/mylib":          true,
		"vendor/mylib/x/y.go":   true,
		"vendor/mylibrary/a.go": false,
		"docs/site/index.md":    true,
		"src/main.go":           false,
	}
	for path, want := range tests {
		if got := m.IsSubmodulePath(path); got != want {
			t.Errorf("IsSubmodulePath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestManager_InitSubmodules(t *testing.T) {
	t.Run("no submodules is a no-op", func(t *testing.T) {
		exec := newMockExecutor()
		m := testManager(t, exec)
		if err := m.InitSubmodules(context.Background(), "/wt"); err != nil {
			t.Fatalf("InitSubmodules() error = %v", err)
		}
		if len(exec.calls) != 0 {
			t.Errorf("expected no git calls, got %v", exec.calls)
		}
	})

	t.Run("initializes recursively", func(t *testing.T) {
		exec := newMockExecutor()
		m := testManager(t, exec)
		writeGitmodules(t, m)

		if err := m.InitSubmodules(context.Background(), "/wt"); err != nil {
			t.Fatalf("InitSubmodules() error = %v", err)
		}
		want := "git -c protocol.file.allow=always submodule update --init --recursive"
		if got := exec.lastCall().String(); got != want {
			t.Errorf("call = %q, want %q", got, want)
		}
		if exec.lastCall().dir != "/wt" {
			t.Errorf("ran in %q, want /wt", exec.lastCall().dir)
		}
	})

	t.Run("critical failure", func(t *testing.T) {
		exec := newMockExecutor()
		exec.addResponse("fatal: repository not found", fmt.Errorf("exit 128"))
		m := testManager(t, exec)
		writeGitmodules(t, m)

		if err := m.InitSubmodules(context.Background(), "/wt"); err == nil {
			t.Error("expected error for critical submodule failure")
		}
	})

	t.Run("warning is tolerated", func(t *testing.T) {
		exec := newMockExecutor()
		exec.addResponse("warning: could not lookup configuration", fmt.Errorf("exit 1"))
		m := testManager(t, exec)
		writeGitmodules(t, m)

		if err := m.InitSubmodules(context.Background(), "/wt"); err != nil {
			t.Errorf("InitSubmodules() error = %v, want nil for non-critical output", err)
		}
	})
}
