package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "worker.concurrency",
		Value:   0,
		Message: "must be between 1 and 32",
	}

	want := "worker.concurrency: must be between 1 and 32 (got: 0)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := (ValidationErrors{}).Error(); got != "" {
			t.Errorf("Error() = %q, want empty", got)
		}
	})

	t.Run("single", func(t *testing.T) {
		errs := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
		if got := errs.Error(); got != "a: bad (got: 1)" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("multiple", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "a", Value: 1, Message: "bad"},
			{Field: "b", Value: 2, Message: "worse"},
		}
		got := errs.Error()
		if !strings.Contains(got, "2 validation errors:") {
			t.Errorf("missing count header: %q", got)
		}
		if !strings.Contains(got, "1. a: bad") || !strings.Contains(got, "2. b: worse") {
			t.Errorf("missing numbered entries: %q", got)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("Default().Validate() returned errors: %v", errs)
	}
}

// hasFieldError reports whether errs contains an error for field.
func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad repository", func(c *Config) { c.GitHub.Repository = "not-a-slug" }, "github.repository"},
		{"empty base branch", func(c *Config) { c.GitHub.BaseBranch = " " }, "github.base_branch"},
		{"no trigger at all", func(c *Config) {
			c.Trigger.Mention = ""
			c.Trigger.Labels = nil
		}, "trigger"},
		{"mention without @", func(c *Config) { c.Trigger.Mention = "fixit-bot" }, "trigger.mention"},
		{"blank label", func(c *Config) { c.Trigger.Labels = []string{"urgent", " "} }, "trigger.labels"},
		{"both required but no labels", func(c *Config) {
			c.Trigger.RequireLabelAndMention = true
			c.Trigger.Labels = nil
		}, "trigger.require_label_and_mention"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "llm.provider"},
		{"empty model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"zero max tokens", func(c *Config) { c.LLM.MaxTokens = 0 }, "llm.max_tokens"},
		{"unknown backend", func(c *Config) { c.Agent.Backend = "cursor" }, "agent.backend"},
		{"negative agent timeout", func(c *Config) { c.Agent.TimeoutMinutes = -1 }, "agent.timeout_minutes"},
		{"tiny output cap", func(c *Config) { c.Agent.MaxOutputBytes = 10 }, "agent.max_output_bytes"},
		{"negative token limit", func(c *Config) { c.Resources.TokenLimitPerRun = -1 }, "resources.token_limit_per_run"},
		{"negative cost limit", func(c *Config) { c.Resources.CostLimitPerRun = -1 }, "resources.cost_limit_per_run"},
		{"negative daily limit", func(c *Config) { c.Resources.DailyCostLimit = -5 }, "resources.daily_cost_limit"},
		{"warning above limit", func(c *Config) {
			c.Resources.CostLimitPerRun = 1
			c.Resources.CostWarningThreshold = 2
		}, "resources.cost_warning_threshold"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"zero interval", func(c *Config) { c.Poller.IntervalSeconds = 0 }, "poller.interval_seconds"},
		{"zero batch", func(c *Config) { c.Poller.Batch = 0 }, "poller.batch"},
		{"too many workers", func(c *Config) { c.Worker.Concurrency = 100 }, "worker.concurrency"},
		{"zero queue", func(c *Config) { c.Worker.QueueSize = 0 }, "worker.queue_size"},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }, "worker.max_attempts"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"empty dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if !hasFieldError(errs, tt.field) {
				t.Errorf("Validate() = %v, want error for %s", errs, tt.field)
			}
		})
	}
}

func TestConfig_Validate_Branch(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		hasError bool
	}{
		{"valid simple", "fixit", false},
		{"valid with hyphen", "fix-bot", false},
		{"valid with underscore", "my_prefix", false},
		{"empty prefix", "", true},
		{"starts with number", "123branch", true},
		{"contains slash", "my/branch", true},
		{"contains space", "my branch", true},
		{"too long", strings.Repeat("a", 51), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Branch.Prefix = tt.prefix
			if got := hasFieldError(cfg.Validate(), "branch.prefix"); got != tt.hasError {
				t.Errorf("Validate() for prefix=%q: hasError=%v, want %v", tt.prefix, got, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_LogLevelCaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	if hasFieldError(cfg.Validate(), "logging.level") {
		t.Error("upper-case log level should be accepted")
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Worker.Concurrency = 0
	cfg.Store.Driver = ""
	cfg.Agent.Backend = ""

	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("Validate() returned %d errors, want 3: %v", len(errs), errs)
	}
}
