// Package repoconfig loads the optional .fixit.yml a repository can carry to
// adjust how fixit works on it.
//
// Example:
//
//	conventions_file: docs/CONVENTIONS.md
//	always_read:
//	  - ARCHITECTURE.md
//	protected_paths:
//	  - ".github/**"
//	  - "**/*.lock"
//	labels: [fixit]
//	reviewers: ["@alice"]
package repoconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/fixit-bot/fixit/internal/errors"
)

// FileNames are tried in order at the repository root.
var FileNames = []string{".fixit.yml", ".fixit.yaml"}

// Config is the per-repository override file.
type Config struct {
	// ConventionsFile replaces agent.conventions_file for this repository.
	ConventionsFile string `yaml:"conventions_file"`
	// AlwaysRead files are given to the agent read-only on every run.
	AlwaysRead []string `yaml:"always_read"`
	// ProtectedPaths are globs the agent is never asked to edit.
	ProtectedPaths []string `yaml:"protected_paths"`
	// Labels are added to every pull request.
	Labels []string `yaml:"labels"`
	// Reviewers are requested on every pull request.
	Reviewers []string `yaml:"reviewers"`

	// Path is the file the config was read from, empty when none exists.
	Path string `yaml:"-"`

	protected []glob.Glob
}

// Load reads the config file from dir. A missing file yields an empty
// Config; a malformed one a ValidationError.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, err
		}
		cfg.Path = path
		return cfg, nil
	}
	return &Config{}, nil
}

// Parse decodes and validates config data. Unknown keys are rejected so
// typos do not silently disable a protection.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.NewValidationError("malformed .fixit.yml").WithCause(err)
		}
	}

	for _, pattern := range cfg.ProtectedPaths {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid protected path pattern").
				WithField("protected_paths").WithValue(pattern).WithCause(err)
		}
		cfg.protected = append(cfg.protected, g)
	}

	for _, f := range append([]string{cfg.ConventionsFile}, cfg.AlwaysRead...) {
		if filepath.IsAbs(f) || strings.HasPrefix(filepath.ToSlash(filepath.Clean(f)), "../") {
			return nil, errors.NewValidationError("path must stay inside the repository").
				WithField("always_read").WithValue(f)
		}
	}
	return cfg, nil
}

// IsProtected reports whether path matches a protected pattern.
func (c *Config) IsProtected(path string) bool {
	path = filepath.ToSlash(path)
	for _, g := range c.protected {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// FilterFiles splits files into those the agent may edit and those that
// are protected.
func (c *Config) FilterFiles(files []string) (allowed, protected []string) {
	for _, f := range files {
		if c.IsProtected(f) {
			protected = append(protected, f)
			continue
		}
		allowed = append(allowed, f)
	}
	return allowed, protected
}

// ConventionsOr returns the repository's conventions file, or fallback when
// it sets none.
func (c *Config) ConventionsOr(fallback string) string {
	if c.ConventionsFile != "" {
		return c.ConventionsFile
	}
	return fallback
}
