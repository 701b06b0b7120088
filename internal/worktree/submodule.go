package worktree

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fixit-bot/fixit/internal/errors"
)

// SubmoduleInfo contains information about a git submodule.
type SubmoduleInfo struct {
	Name   string
	Path   string
	URL    string
	Branch string
}

// HasSubmodules reports whether the repository has a non-empty .gitmodules.
func (m *Manager) HasSubmodules() bool {
	info, err := os.Stat(filepath.Join(m.repoDir, ".gitmodules"))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// Submodules returns the submodules declared in .gitmodules.
func (m *Manager) Submodules() ([]SubmoduleInfo, error) {
	file, err := os.Open(filepath.Join(m.repoDir, ".gitmodules"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = file.Close() }()

	return parseGitmodules(file)
}

// IsSubmodulePath reports whether relativePath lies inside a submodule.
// The agent must not be pointed at such files since its commits would land
// in the submodule rather than on the fix branch.
func (m *Manager) IsSubmodulePath(relativePath string) bool {
	submodules, err := m.Submodules()
	if err != nil {
		return false
	}
	relativePath = filepath.ToSlash(relativePath)
	for _, sm := range submodules {
		p := filepath.ToSlash(sm.Path)
		if p != "" && (relativePath == p || strings.HasPrefix(relativePath, p+"/")) {
			return true
		}
	}
	return false
}

// InitSubmodules initializes submodules in a freshly created worktree.
// It is a no-op for repositories without submodules. Warnings from git are
// logged; only failures matching isSubmoduleCriticalError are returned.
func (m *Manager) InitSubmodules(ctx context.Context, worktreePath string) error {
	if !m.HasSubmodules() {
		return nil
	}

	// protocol.file.allow=always keeps local file:// submodule URLs working on git >= 2.38.1
	out, err := m.git(ctx, worktreePath, "-c", "protocol.file.allow=always", "submodule", "update", "--init", "--recursive")
	if err != nil {
		if isSubmoduleCriticalError(string(out)) {
			return errors.NewGitError("failed to initialize submodules", err).
				WithWorktree(worktreePath).
				WithGitOutput(truncateOutput(string(out), 2000))
		}
		m.logger.Warn("submodule initialization had issues",
			"path", worktreePath,
			"output", truncateOutput(string(out), 500))
		return nil
	}

	m.logger.Info("submodules initialized", "path", worktreePath)
	return nil
}

func parseGitmodules(r io.Reader) ([]SubmoduleInfo, error) {
	var submodules []SubmoduleInfo
	var current *SubmoduleInfo

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[submodule ") {
			if current != nil && current.Path != "" {
				submodules = append(submodules, *current)
			}
			name := strings.TrimSuffix(strings.TrimPrefix(line, "[submodule "), "]")
			current = &SubmoduleInfo{Name: strings.Trim(name, "\"")}
			continue
		}
		if current == nil {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "path":
			current.Path = strings.TrimSpace(value)
		case "url":
			current.URL = strings.TrimSpace(value)
		case "branch":
			current.Branch = strings.TrimSpace(value)
		}
	}

	if current != nil && current.Path != "" {
		submodules = append(submodules, *current)
	}
	return submodules, scanner.Err()
}

func isSubmoduleCriticalError(output string) bool {
	criticalPatterns := []string{
		"fatal:",
		"permission denied",
		"could not read from remote",
		"repository not found",
		"unable to access",
		"authentication failed",
		"host key verification failed",
		"no submodule mapping found",
	}

	lower := strings.ToLower(output)
	for _, pattern := range criticalPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
