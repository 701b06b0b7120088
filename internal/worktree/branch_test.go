package worktree

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"simple", "Fix login bug", 50, "fix-login-bug"},
		{"punctuation collapses", "Crash: nil pointer!! in /api/users", 50, "crash-nil-pointer-in-api-users"},
		{"leading and trailing noise", "  [urgent] Broken build  ", 50, "urgent-broken-build"},
		{"non ascii", "Café ordering fails", 50, "caf-ordering-fails"},
		{"only symbols", "!!!", 50, ""},
		{"truncated without trailing hyphen", "aaaa bbbb cccc", 10, "aaaa-bbbb"},
		{"no limit", strings.Repeat("a", 60), 0, strings.Repeat("a", 60)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.input, tt.max); got != tt.want {
				t.Errorf("Slugify(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		prefix string
		number int
		title  string
		want   string
	}{
		{"fixit", 42, "Fix the README typo", "fixit/42-fix-the-readme-typo"},
		{"bot", 7, "???", "bot/7"},
		{"fixit", 1, strings.Repeat("word ", 30), "fixit/1-" + strings.TrimRight(strings.Repeat("word-", 10), "-")},
	}

	for _, tt := range tests {
		if got := BranchName(tt.prefix, tt.number, tt.title); got != tt.want {
			t.Errorf("BranchName(%q, %d, %q) = %q, want %q", tt.prefix, tt.number, tt.title, got, tt.want)
		}
	}
}

func TestBranchStem(t *testing.T) {
	if got := BranchStem("fixit", 42); got != "fixit/42" {
		t.Errorf("BranchStem() = %q", got)
	}
	if !strings.HasPrefix(BranchName("fixit", 42, "New title"), BranchStem("fixit", 42)+"-") {
		t.Error("branch names should start with the stem")
	}
}
