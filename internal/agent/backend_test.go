package agent

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/llm"
)

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		backend string
		want    BackendName
		wantErr bool
	}{
		{"", BackendAider, false},
		{"aider", BackendAider, false},
		{"Claude", BackendClaude, false},
		{"codex", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			b, err := NewFromConfig(config.AgentConfig{Backend: tt.backend})
			if tt.wantErr {
				if !errors.Is(err, errors.ErrUnknownBackend) {
					t.Errorf("expected ErrUnknownBackend, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromConfig() error = %v", err)
			}
			if b.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", b.Name(), tt.want)
			}
		})
	}
}

func TestAiderBackend_BuildCommand(t *testing.T) {
	b := NewAiderBackend(config.AgentConfig{
		Model:       "claude-3-haiku-20240307",
		AutoCommits: true,
		ShowDiffs:   true,
		ExtraArgs:   []string{"--no-check-update"},
	})

	name, args, err := b.BuildCommand(Request{
		Instructions:  "1. Fix typo\n2. Add test",
		Files:         []string{"README.md", "main_test.go"},
		ReadOnlyFiles: []string{"conventions.md"},
	})
	if err != nil {
		t.Fatalf("BuildCommand() error = %v", err)
	}
	if name != "aider" {
		t.Errorf("name = %q", name)
	}
	want := []string{
		"--yes-always", "--no-pretty", "--no-stream",
		"--model", "claude-3-haiku-20240307",
		"--auto-commits", "--show-diffs",
		"--read", "conventions.md",
		"--no-check-update",
		"--message", "1. Fix typo\n2. Add test",
		"README.md", "main_test.go",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if !b.AutoCommits() {
		t.Error("AutoCommits() should follow config")
	}
}

func TestAiderBackend_BuildCommand_NoAutoCommits(t *testing.T) {
	b := NewAiderBackend(config.AgentConfig{Command: "/opt/aider"})
	name, args, err := b.BuildCommand(Request{Instructions: "do it", Model: "sonnet"})
	if err != nil {
		t.Fatalf("BuildCommand() error = %v", err)
	}
	if name != "/opt/aider" {
		t.Errorf("name = %q", name)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--no-auto-commits") || strings.Contains(joined, "--show-diffs") {
		t.Errorf("args = %v", args)
	}
	if !strings.Contains(joined, "--model sonnet") {
		t.Errorf("request model should win: %v", args)
	}

	if _, _, err := b.BuildCommand(Request{Instructions: "  "}); err == nil {
		t.Error("expected error for empty instructions")
	}
}

func TestParseAiderUsage(t *testing.T) {
	output := []byte(strings.Join([]string{
		"Aider v0.60.0",
		"Main model: claude-3-haiku-20240307 with diff edit format",
		"Applied edit to README.md",
		"Tokens: 2.3k sent, 456 received. Cost: $0.0012 message, $0.0012 session.",
		"Commit abc1234 fix: correct README typo",
		"Tokens: 3.1k sent, 1.5k cache write, 8k cache hit, 1,024 received. Cost: $0.01 message, $0.0112 session.",
	}, "\n"))

	m := parseAiderUsage(output)
	if m == nil {
		t.Fatal("expected metrics")
	}
	want := llm.Usage{InputTokens: 5400, OutputTokens: 1480, CacheWriteTokens: 1500, CacheReadTokens: 8000}
	if m.Usage != want {
		t.Errorf("Usage = %+v, want %+v", m.Usage, want)
	}
	if !m.HasCost || m.Cost != 0.0112 {
		t.Errorf("Cost = %v (has=%v), want session cost 0.0112", m.Cost, m.HasCost)
	}
	if m.APICalls != 2 {
		t.Errorf("APICalls = %d", m.APICalls)
	}

	if parseAiderUsage([]byte("no usage here")) != nil {
		t.Error("expected nil for output without token lines")
	}
}

func TestStatusLineParser(t *testing.T) {
	p := newStatusLineParser()
	m := p.Parse([]byte("\x1b[2mTotal: 45.2K input, 12.8K output | Cost: $0.42\x1b[0m"))
	if m == nil {
		t.Fatal("expected metrics")
	}
	if m.Usage.InputTokens != 45200 || m.Usage.OutputTokens != 12800 {
		t.Errorf("Usage = %+v", m.Usage)
	}
	if !m.HasCost || m.Cost != 0.42 {
		t.Errorf("Cost = %v", m.Cost)
	}
	if p.Parse(nil) != nil || p.Parse([]byte("hello")) != nil {
		t.Error("expected nil without metrics")
	}
}

func TestParseTokenValue(t *testing.T) {
	tests := []struct {
		num, suffix string
		want        int64
	}{
		{"45.2", "K", 45200},
		{"2.3", "k", 2300},
		{"1", "M", 1000000},
		{"12,800", "", 12800},
		{"", "", 0},
		{"abc", "", 0},
	}
	for _, tt := range tests {
		if got := parseTokenValue(tt.num, tt.suffix); got != tt.want {
			t.Errorf("parseTokenValue(%q, %q) = %d, want %d", tt.num, tt.suffix, got, tt.want)
		}
	}
}

func TestAiderBackend_Summary(t *testing.T) {
	b := NewAiderBackend(config.AgentConfig{})

	out := []byte("Aider v0.60.0\nMain model: x\nI fixed the typo in README.md.\nTokens: 1k sent, 10 received.\n")
	if got := b.Summary(out); got != "I fixed the typo in README.md." {
		t.Errorf("Summary() = %q", got)
	}
	if got := b.Summary([]byte("Aider v0.60.0\n\n")); got != DefaultSummary {
		t.Errorf("Summary() = %q, want default", got)
	}

	long := []byte(strings.Repeat("line of output\n", 400))
	if got := b.Summary(long); len([]rune(got)) > maxSummaryLength {
		t.Errorf("summary length %d exceeds %d", len([]rune(got)), maxSummaryLength)
	}
}

func TestClaudeBackend(t *testing.T) {
	b := NewClaudeBackend(config.AgentConfig{Model: "claude-3-haiku-20240307"})

	name, args, err := b.BuildCommand(Request{
		Instructions:  "Fix the typo",
		Files:         []string{"README.md"},
		ReadOnlyFiles: []string{"conventions.md"},
	})
	if err != nil {
		t.Fatalf("BuildCommand() error = %v", err)
	}
	if name != "claude" {
		t.Errorf("name = %q", name)
	}
	wantPrefix := []string{"--print", "--output-format", "json", "--dangerously-skip-permissions", "--model", "claude-3-haiku-20240307"}
	if diff := cmp.Diff(wantPrefix, args[:len(wantPrefix)]); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	prompt := args[len(args)-1]
	for _, s := range []string{"Fix the typo", "- README.md", "- conventions.md", "Do not commit"} {
		if !strings.Contains(prompt, s) {
			t.Errorf("prompt missing %q:\n%s", s, prompt)
		}
	}
	if b.AutoCommits() {
		t.Error("claude backend does not commit")
	}

	// Non-Claude models are not forwarded to the Claude CLI.
	if NewClaudeBackend(config.AgentConfig{Model: "gemini-2.0-flash"}).model != "" {
		t.Error("expected non-claude model to be dropped")
	}
}

func TestClaudeBackend_ParseUsageAndSummary(t *testing.T) {
	b := NewClaudeBackend(config.AgentConfig{})
	output := []byte(`warning: something
{"type":"result","subtype":"success","is_error":false,"result":"Fixed the typo in README.md","total_cost_usd":0.0231,"num_turns":4,"usage":{"input_tokens":1200,"output_tokens":300,"cache_read_input_tokens":5000,"cache_creation_input_tokens":700}}`)

	m := b.ParseUsage(output)
	if m == nil {
		t.Fatal("expected metrics")
	}
	want := llm.Usage{InputTokens: 1200, OutputTokens: 300, CacheReadTokens: 5000, CacheWriteTokens: 700}
	if m.Usage != want || m.Cost != 0.0231 || m.APICalls != 4 {
		t.Errorf("metrics = %+v", m)
	}
	if got := b.Summary(output); got != "Fixed the typo in README.md" {
		t.Errorf("Summary() = %q", got)
	}

	plain := []byte("Done.\nTotal: 1.5K input, 500 output")
	if m := b.ParseUsage(plain); m == nil || m.Usage.InputTokens != 1500 {
		t.Errorf("status-line fallback = %+v", m)
	}
	if cost, ok := b.EstimateCost("", llm.Usage{InputTokens: 1_000_000}); !ok || cost != 3.0 {
		t.Errorf("EstimateCost() = %v, %v; want sonnet input price", cost, ok)
	}
}
