package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete fixit configuration
type Config struct {
	GitHub    GitHubConfig   `mapstructure:"github"`
	Trigger   TriggerConfig  `mapstructure:"trigger"`
	LLM       LLMConfig      `mapstructure:"llm"`
	Agent     AgentConfig    `mapstructure:"agent"`
	Branch    BranchConfig   `mapstructure:"branch"`
	PR        PRConfig       `mapstructure:"pr"`
	Resources ResourceConfig `mapstructure:"resources"`
	Server    ServerConfig   `mapstructure:"server"`
	Poller    PollerConfig   `mapstructure:"poller"`
	Worker    WorkerConfig   `mapstructure:"worker"`
	Store     StoreConfig    `mapstructure:"store"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Paths     PathsConfig    `mapstructure:"paths"`
}

// GitHubConfig identifies the repository fixit works on and how it talks to it.
type GitHubConfig struct {
	// Token is the API token. Usually supplied as GITHUB_TOKEN.
	Token string `mapstructure:"token"`
	// Repository in owner/name form
	Repository string `mapstructure:"repository"`
	// BaseBranch is the branch fix branches start from and PRs target (default: "main")
	BaseBranch string `mapstructure:"base_branch"`
	// Remote is the git remote branches are fetched from and pushed to (default: "origin")
	Remote string `mapstructure:"remote"`
	// BotUsername is the account fixit acts as; its own comments never trigger runs
	BotUsername string `mapstructure:"bot_username"`
	// APIURL overrides the REST endpoint for GitHub Enterprise
	APIURL string `mapstructure:"api_url"`
	// WebhookSecret verifies X-Hub-Signature-256 on incoming deliveries
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// TriggerConfig decides which issues get picked up
type TriggerConfig struct {
	// Mention is the handle that summons the bot in an issue body or comment
	Mention string `mapstructure:"mention"`
	// Labels that mark an issue for fixing (case-insensitive)
	Labels []string `mapstructure:"labels"`
	// Assignee restricts polling to issues assigned to this login (empty = any)
	Assignee string `mapstructure:"assignee"`
	// RequireLabelAndMention needs both a trigger label and a mention
	RequireLabelAndMention bool `mapstructure:"require_label_and_mention"`
}

// LLMConfig controls the model used to turn an issue into instructions
type LLMConfig struct {
	// Provider is "anthropic" or "gemini"
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens"`
	// BaseURL overrides the provider endpoint (proxies, tests)
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AgentConfig controls the pair-programming CLI that writes the patch
type AgentConfig struct {
	// Backend is "aider" or "claude"
	Backend string `mapstructure:"backend"`
	// Command overrides the executable name or path
	Command string `mapstructure:"command"`
	Model   string `mapstructure:"model"`
	// ConventionsFile is passed read-only so the agent follows house style
	ConventionsFile string   `mapstructure:"conventions_file"`
	AutoCommits     bool     `mapstructure:"auto_commits"`
	ShowDiffs       bool     `mapstructure:"show_diffs"`
	ExtraArgs       []string `mapstructure:"extra_args"`
	TimeoutMinutes  int      `mapstructure:"timeout_minutes"`
	MaxOutputBytes  int      `mapstructure:"max_output_bytes"`
}

// BranchConfig controls branch naming conventions
type BranchConfig struct {
	// Prefix is the branch name prefix (default: "fixit")
	// Branches are named <prefix>/<issue-number>-<slug>
	Prefix string `mapstructure:"prefix"`
}

// PRConfig controls pull request creation behavior
type PRConfig struct {
	Draft bool `mapstructure:"draft"`
	// ConventionalTitle prefixes PR titles with "fix: "
	ConventionalTitle bool `mapstructure:"conventional_title"`
	// Template is a custom PR body template using Go text/template syntax
	Template string `mapstructure:"template"`
	// Reviewers configuration for automatic reviewer assignment
	Reviewers ReviewerConfig `mapstructure:"reviewers"`
	// Labels to add to all PRs by default
	Labels []string `mapstructure:"labels"`
	// CommentOnFailure posts a comment on the issue when a run fails
	CommentOnFailure bool `mapstructure:"comment_on_failure"`
}

// ReviewerConfig controls automatic reviewer assignment
type ReviewerConfig struct {
	// Default reviewers to always assign
	Default []string `mapstructure:"default"`
	// ByPath maps file path patterns to reviewers (glob patterns supported)
	ByPath map[string][]string `mapstructure:"by_path"`
}

// ResourceConfig controls token accounting limits
type ResourceConfig struct {
	// TokenLimitPerRun stops a run once it has used this many tokens (0 = no limit)
	TokenLimitPerRun int64 `mapstructure:"token_limit_per_run"`
	// CostLimitPerRun stops a run once its estimated cost exceeds this amount (USD, 0 = no limit)
	CostLimitPerRun float64 `mapstructure:"cost_limit_per_run"`
	// CostWarningThreshold logs a warning when a run passes this amount (USD)
	CostWarningThreshold float64 `mapstructure:"cost_warning_threshold"`
	// DailyCostLimit refuses new runs once the last 24h exceed this amount (USD, 0 = no limit)
	DailyCostLimit float64 `mapstructure:"daily_cost_limit"`
}

// ServerConfig controls the webhook and API listener
type ServerConfig struct {
	Addr                     string   `mapstructure:"addr"`
	ReadHeaderTimeoutSeconds int      `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `mapstructure:"shutdown_timeout_seconds"`
	CORSOrigins              []string `mapstructure:"cors_origins"`
}

// PollerConfig controls issue polling
type PollerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	// Batch is the number of prioritized issues enqueued per tick
	Batch int `mapstructure:"batch"`
}

// WorkerConfig controls the fix job pool
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue_size"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// StoreConfig controls where runs and usage are persisted
type StoreConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File is the log file path; empty logs to stderr
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PathsConfig controls file system locations
type PathsConfig struct {
	// RepoDir is the local clone fixit works in (default: current directory)
	RepoDir string `mapstructure:"repo_dir"`
	// WorktreeDir is where per-run worktrees are created (default: <repo>/.fixit/worktrees)
	WorktreeDir string `mapstructure:"worktree_dir"`
}

// ResolveWorktreeDir returns the resolved worktree directory path.
// Empty means <baseDir>/.fixit/worktrees; ~ is expanded; relative paths are
// resolved against baseDir.
func (p *PathsConfig) ResolveWorktreeDir(baseDir string) string {
	if p.WorktreeDir == "" {
		return filepath.Join(baseDir, ".fixit", "worktrees")
	}
	path := expandHome(p.WorktreeDir)
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			BaseBranch:  "main",
			Remote:      "origin",
			BotUsername: "fixit-bot",
		},
		Trigger: TriggerConfig{
			Mention: "@fixit-bot",
			Labels:  []string{"urgent"},
		},
		LLM: LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-3-haiku-20240307",
			MaxTokens:      1000,
			TimeoutSeconds: 60,
		},
		Agent: AgentConfig{
			Backend:         "aider",
			Model:           "claude-3-haiku-20240307",
			ConventionsFile: "conventions.md",
			AutoCommits:     true,
			ShowDiffs:       true,
			ExtraArgs:       []string{},
			TimeoutMinutes:  30,
			MaxOutputBytes:  1 << 20,
		},
		Branch: BranchConfig{
			Prefix: "fixit",
		},
		PR: PRConfig{
			Labels:           []string{},
			CommentOnFailure: true,
			Reviewers: ReviewerConfig{
				Default: []string{},
				ByPath:  map[string][]string{},
			},
		},
		Resources: ResourceConfig{
			CostWarningThreshold: 1.00,
		},
		Server: ServerConfig{
			Addr:                     ":8080",
			ReadHeaderTimeoutSeconds: 10,
			ShutdownTimeoutSeconds:   15,
			CORSOrigins:              []string{},
		},
		Poller: PollerConfig{
			IntervalSeconds: 5,
			Batch:           1,
		},
		Worker: WorkerConfig{
			Concurrency: 1,
			QueueSize:   100,
			MaxAttempts: 3,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "fixit.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Timeout returns the provider call timeout.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the maximum runtime of one agent invocation.
func (c *AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Interval returns the poll interval.
func (c *PollerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("github.token", defaults.GitHub.Token)
	viper.SetDefault("github.repository", defaults.GitHub.Repository)
	viper.SetDefault("github.base_branch", defaults.GitHub.BaseBranch)
	viper.SetDefault("github.remote", defaults.GitHub.Remote)
	viper.SetDefault("github.bot_username", defaults.GitHub.BotUsername)
	viper.SetDefault("github.api_url", defaults.GitHub.APIURL)
	viper.SetDefault("github.webhook_secret", defaults.GitHub.WebhookSecret)

	viper.SetDefault("trigger.mention", defaults.Trigger.Mention)
	viper.SetDefault("trigger.labels", defaults.Trigger.Labels)
	viper.SetDefault("trigger.assignee", defaults.Trigger.Assignee)
	viper.SetDefault("trigger.require_label_and_mention", defaults.Trigger.RequireLabelAndMention)

	viper.SetDefault("llm.provider", defaults.LLM.Provider)
	viper.SetDefault("llm.model", defaults.LLM.Model)
	viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	viper.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)
	viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	viper.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)

	viper.SetDefault("agent.backend", defaults.Agent.Backend)
	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.model", defaults.Agent.Model)
	viper.SetDefault("agent.conventions_file", defaults.Agent.ConventionsFile)
	viper.SetDefault("agent.auto_commits", defaults.Agent.AutoCommits)
	viper.SetDefault("agent.show_diffs", defaults.Agent.ShowDiffs)
	viper.SetDefault("agent.extra_args", defaults.Agent.ExtraArgs)
	viper.SetDefault("agent.timeout_minutes", defaults.Agent.TimeoutMinutes)
	viper.SetDefault("agent.max_output_bytes", defaults.Agent.MaxOutputBytes)

	viper.SetDefault("branch.prefix", defaults.Branch.Prefix)

	viper.SetDefault("pr.draft", defaults.PR.Draft)
	viper.SetDefault("pr.conventional_title", defaults.PR.ConventionalTitle)
	viper.SetDefault("pr.template", defaults.PR.Template)
	viper.SetDefault("pr.reviewers.default", defaults.PR.Reviewers.Default)
	viper.SetDefault("pr.reviewers.by_path", defaults.PR.Reviewers.ByPath)
	viper.SetDefault("pr.labels", defaults.PR.Labels)
	viper.SetDefault("pr.comment_on_failure", defaults.PR.CommentOnFailure)

	viper.SetDefault("resources.token_limit_per_run", defaults.Resources.TokenLimitPerRun)
	viper.SetDefault("resources.cost_limit_per_run", defaults.Resources.CostLimitPerRun)
	viper.SetDefault("resources.cost_warning_threshold", defaults.Resources.CostWarningThreshold)
	viper.SetDefault("resources.daily_cost_limit", defaults.Resources.DailyCostLimit)

	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.read_header_timeout_seconds", defaults.Server.ReadHeaderTimeoutSeconds)
	viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)
	viper.SetDefault("server.cors_origins", defaults.Server.CORSOrigins)

	viper.SetDefault("poller.enabled", defaults.Poller.Enabled)
	viper.SetDefault("poller.interval_seconds", defaults.Poller.IntervalSeconds)
	viper.SetDefault("poller.batch", defaults.Poller.Batch)

	viper.SetDefault("worker.concurrency", defaults.Worker.Concurrency)
	viper.SetDefault("worker.queue_size", defaults.Worker.QueueSize)
	viper.SetDefault("worker.max_attempts", defaults.Worker.MaxAttempts)

	viper.SetDefault("store.driver", defaults.Store.Driver)
	viper.SetDefault("store.dsn", defaults.Store.DSN)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	viper.SetDefault("paths.repo_dir", defaults.Paths.RepoDir)
	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
}

// BindSecrets maps the conventional unprefixed environment variables onto
// their config keys so a plain GITHUB_TOKEN or ANTHROPIC_API_KEY works
// alongside FIXIT_GITHUB_TOKEN.
func BindSecrets() {
	_ = viper.BindEnv("github.token", "FIXIT_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = viper.BindEnv("github.webhook_secret", "FIXIT_GITHUB_WEBHOOK_SECRET", "GITHUB_WEBHOOK_SECRET")
	_ = viper.BindEnv("llm.api_key", "FIXIT_LLM_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY")
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fixit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fixit"
	}
	return filepath.Join(home, ".config", "fixit")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
