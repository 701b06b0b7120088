package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/fixit-bot/fixit/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "worker.concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefix characters
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// repositoryRegex validates owner/name repository slugs
var repositoryRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ValidProviders returns the supported task-parsing model providers
func ValidProviders() []string {
	return []string{"anthropic", "gemini"}
}

// ValidBackends returns the supported pair-programming CLIs
func ValidBackends() []string {
	return []string{"aider", "claude"}
}

// ValidStoreDrivers returns the supported persistence drivers
func ValidStoreDrivers() []string {
	return []string{"sqlite", "postgres"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateGitHub()...)
	errors = append(errors, c.validateTrigger()...)
	errors = append(errors, c.validateLLM()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateBranch()...)
	errors = append(errors, c.validateResources()...)
	errors = append(errors, c.validateRuntime()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateGitHub() []ValidationError {
	var errors []ValidationError

	// Repository is allowed to be empty here; commands that need it detect
	// it from the git remote and fail there.
	if c.GitHub.Repository != "" && !repositoryRegex.MatchString(c.GitHub.Repository) {
		errors = append(errors, ValidationError{
			Field:   "github.repository",
			Value:   c.GitHub.Repository,
			Message: "must be in owner/name form",
		})
	}
	if strings.TrimSpace(c.GitHub.BaseBranch) == "" {
		errors = append(errors, ValidationError{
			Field:   "github.base_branch",
			Value:   c.GitHub.BaseBranch,
			Message: "cannot be empty",
		})
	}

	return errors
}

func (c *Config) validateTrigger() []ValidationError {
	var errors []ValidationError

	if c.Trigger.Mention == "" && len(c.Trigger.Labels) == 0 && c.Trigger.Assignee == "" {
		errors = append(errors, ValidationError{
			Field:   "trigger",
			Value:   "",
			Message: "at least one of mention, labels or assignee must be set",
		})
	}
	if c.Trigger.Mention != "" && !strings.HasPrefix(c.Trigger.Mention, "@") {
		errors = append(errors, ValidationError{
			Field:   "trigger.mention",
			Value:   c.Trigger.Mention,
			Message: "must start with @",
		})
	}
	if c.Trigger.RequireLabelAndMention && (c.Trigger.Mention == "" || len(c.Trigger.Labels) == 0) {
		errors = append(errors, ValidationError{
			Field:   "trigger.require_label_and_mention",
			Value:   true,
			Message: "requires both mention and labels to be set",
		})
	}
	for _, label := range c.Trigger.Labels {
		if strings.TrimSpace(label) == "" {
			errors = append(errors, ValidationError{
				Field:   "trigger.labels",
				Value:   label,
				Message: "labels cannot be blank",
			})
		}
	}

	return errors
}

func (c *Config) validateLLM() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidProviders(), c.LLM.Provider) {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Value:   c.LLM.Provider,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProviders(), ", ")),
		})
	}
	if c.LLM.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.model",
			Value:   c.LLM.Model,
			Message: "cannot be empty",
		})
	}

	const maxTokensLimit = 64000
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > maxTokensLimit {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Value:   c.LLM.MaxTokens,
			Message: fmt.Sprintf("must be between 1 and %d", maxTokensLimit),
		})
	}
	if c.LLM.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout_seconds",
			Value:   c.LLM.TimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Agent.Backend) {
		errors = append(errors, ValidationError{
			Field:   "agent.backend",
			Value:   c.Agent.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}
	if c.Agent.TimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.timeout_minutes",
			Value:   c.Agent.TimeoutMinutes,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	const minOutputBytes = 1024
	if c.Agent.MaxOutputBytes < minOutputBytes {
		errors = append(errors, ValidationError{
			Field:   "agent.max_output_bytes",
			Value:   c.Agent.MaxOutputBytes,
			Message: fmt.Sprintf("must be at least %d bytes", minOutputBytes),
		})
	}

	return errors
}

func (c *Config) validateBranch() []ValidationError {
	var errors []ValidationError

	if c.Branch.Prefix == "" {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: "cannot be empty",
		})
	} else if !branchPrefixRegex.MatchString(c.Branch.Prefix) {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
		})
	}

	const maxBranchPrefixLength = 50
	if len(c.Branch.Prefix) > maxBranchPrefixLength {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", maxBranchPrefixLength),
		})
	}

	return errors
}

func (c *Config) validateResources() []ValidationError {
	var errors []ValidationError

	r := c.Resources
	if r.TokenLimitPerRun < 0 {
		errors = append(errors, ValidationError{
			Field:   "resources.token_limit_per_run",
			Value:   r.TokenLimitPerRun,
			Message: "must be non-negative (0 disables limit)",
		})
	}
	if r.CostLimitPerRun < 0 {
		errors = append(errors, ValidationError{
			Field:   "resources.cost_limit_per_run",
			Value:   r.CostLimitPerRun,
			Message: "must be non-negative (0 disables limit)",
		})
	}
	if r.CostWarningThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "resources.cost_warning_threshold",
			Value:   r.CostWarningThreshold,
			Message: "must be non-negative",
		})
	}
	if r.DailyCostLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "resources.daily_cost_limit",
			Value:   r.DailyCostLimit,
			Message: "must be non-negative (0 disables limit)",
		})
	}
	if r.CostLimitPerRun > 0 && r.CostWarningThreshold > r.CostLimitPerRun {
		errors = append(errors, ValidationError{
			Field:   "resources.cost_warning_threshold",
			Value:   r.CostWarningThreshold,
			Message: fmt.Sprintf("should be less than cost_limit_per_run (%v)", r.CostLimitPerRun),
		})
	}

	return errors
}

// validateRuntime covers the server, poller and worker sections.
func (c *Config) validateRuntime() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "cannot be empty",
		})
	}
	if c.Poller.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "poller.interval_seconds",
			Value:   c.Poller.IntervalSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Poller.Batch < 1 {
		errors = append(errors, ValidationError{
			Field:   "poller.batch",
			Value:   c.Poller.Batch,
			Message: "must be at least 1",
		})
	}

	const maxConcurrency = 32
	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > maxConcurrency {
		errors = append(errors, ValidationError{
			Field:   "worker.concurrency",
			Value:   c.Worker.Concurrency,
			Message: fmt.Sprintf("must be between 1 and %d", maxConcurrency),
		})
	}
	if c.Worker.QueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.queue_size",
			Value:   c.Worker.QueueSize,
			Message: "must be at least 1",
		})
	}
	if c.Worker.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "worker.max_attempts",
			Value:   c.Worker.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStoreDrivers(), c.Store.Driver) {
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreDrivers(), ", ")),
		})
	}
	if c.Store.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dsn",
			Value:   c.Store.DSN,
			Message: "cannot be empty",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), strings.ToUpper(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.ToLower(strings.Join(logging.ValidLevels(), ", "))),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 1 and %d", maxLogSizeMB),
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxAgeDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_age_days",
			Value:   c.Logging.MaxAgeDays,
			Message: "must be non-negative",
		})
	}

	return errors
}
