package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Trigger.Mention != "@fixit-bot" {
		t.Errorf("Trigger.Mention = %q, want %q", cfg.Trigger.Mention, "@fixit-bot")
	}
	if len(cfg.Trigger.Labels) != 1 || cfg.Trigger.Labels[0] != "urgent" {
		t.Errorf("Trigger.Labels = %v, want [urgent]", cfg.Trigger.Labels)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("LLM.Provider = %q, want anthropic", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "claude-3-haiku-20240307" {
		t.Errorf("LLM.Model = %q, want claude-3-haiku-20240307", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 1000 {
		t.Errorf("LLM.MaxTokens = %d, want 1000", cfg.LLM.MaxTokens)
	}
	if cfg.Agent.Backend != "aider" {
		t.Errorf("Agent.Backend = %q, want aider", cfg.Agent.Backend)
	}
	if cfg.Agent.ConventionsFile != "conventions.md" {
		t.Errorf("Agent.ConventionsFile = %q, want conventions.md", cfg.Agent.ConventionsFile)
	}
	if !cfg.Agent.AutoCommits || !cfg.Agent.ShowDiffs {
		t.Error("Agent.AutoCommits and Agent.ShowDiffs should be true by default")
	}
	if cfg.GitHub.BaseBranch != "main" {
		t.Errorf("GitHub.BaseBranch = %q, want main", cfg.GitHub.BaseBranch)
	}
	if cfg.Branch.Prefix != "fixit" {
		t.Errorf("Branch.Prefix = %q, want fixit", cfg.Branch.Prefix)
	}
	if cfg.Poller.IntervalSeconds != 5 {
		t.Errorf("Poller.IntervalSeconds = %d, want 5", cfg.Poller.IntervalSeconds)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.PR.Draft {
		t.Error("PR.Draft should be false by default")
	}
	if cfg.Resources.CostLimitPerRun != 0 || cfg.Resources.TokenLimitPerRun != 0 {
		t.Error("budgets should be disabled by default")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.Poller.Interval(); got != 5*time.Second {
		t.Errorf("Poller.Interval() = %v, want 5s", got)
	}
	if got := cfg.Agent.Timeout(); got != 30*time.Minute {
		t.Errorf("Agent.Timeout() = %v, want 30m", got)
	}
	if got := cfg.LLM.Timeout(); got != time.Minute {
		t.Errorf("LLM.Timeout() = %v, want 1m", got)
	}
}

func TestResolveWorktreeDir(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name    string
		dir     string
		baseDir string
		want    string
	}{
		{"default", "", "/repo", "/repo/.fixit/worktrees"},
		{"absolute", "/tmp/wt", "/repo", "/tmp/wt"},
		{"relative", "work", "/repo", "/repo/work"},
		{"home", "~/wt", "/repo", filepath.Join(home, "wt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PathsConfig{WorktreeDir: tt.dir}
			if got := p.ResolveWorktreeDir(tt.baseDir); got != tt.want {
				t.Errorf("ResolveWorktreeDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/fixit" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/fixit")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "fixit")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/fixit/config.yaml" {
		t.Errorf("ConfigFile() = %q, want %q", got, "/custom/config/fixit/config.yaml")
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Trigger.Mention != "@fixit-bot" {
		t.Errorf("Get().Trigger.Mention = %q, want @fixit-bot", cfg.Trigger.Mention)
	}
}

func TestLoad_FromYAMLAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
github:
  repository: acme/api
trigger:
  labels: [urgent, bug]
worker:
  concurrency: 4
pr:
  reviewers:
    by_path:
      "docs/**": [writer]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GITHUB_TOKEN", "tok")
	BindSecrets()
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GitHub.Repository != "acme/api" {
		t.Errorf("GitHub.Repository = %q, want acme/api", cfg.GitHub.Repository)
	}
	if cfg.GitHub.Token != "tok" {
		t.Errorf("GitHub.Token = %q, want tok from GITHUB_TOKEN", cfg.GitHub.Token)
	}
	if len(cfg.Trigger.Labels) != 2 {
		t.Errorf("Trigger.Labels = %v, want 2 labels", cfg.Trigger.Labels)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("Worker.Concurrency = %d, want 4", cfg.Worker.Concurrency)
	}
	if got := cfg.PR.Reviewers.ByPath["docs/**"]; len(got) != 1 || got[0] != "writer" {
		t.Errorf("PR.Reviewers.ByPath = %v", cfg.PR.Reviewers.ByPath)
	}
	// Untouched keys keep their defaults
	if cfg.LLM.MaxTokens != 1000 {
		t.Errorf("LLM.MaxTokens = %d, want default 1000", cfg.LLM.MaxTokens)
	}
}

func TestLoad_InvalidReturnsValidationErrors(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("worker.concurrency", 0)
	viper.Set("llm.provider", "openai")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("len(errors) = %d, want 2: %v", len(verrs), verrs)
	}
}
