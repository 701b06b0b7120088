package pr

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/llm"
)

func testIssue() *github.Issue {
	return &github.Issue{
		Number:  12,
		Title:   "Typo in README",
		Author:  "octocat",
		HTMLURL: "https://github.com/acme/widgets/issues/12",
	}
}

func TestCompose_DefaultBody(t *testing.T) {
	c, err := Compose(Input{
		Issue:        testIssue(),
		Branch:       "fixit/12-typo-in-readme",
		Summary:      "Corrected the spelling of 'receive'.",
		ChangedFiles: []string{"README.md"},
		Usage:        llm.Usage{InputTokens: 2300, OutputTokens: 456},
		Cost:         0.0123,
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if c.Title != "Typo in README" {
		t.Errorf("Title = %q", c.Title)
	}

	wantPrefix := "Fixes #12\n\nThis is the result of fixit for issue #12\ncc @octocat\n"
	if !strings.HasPrefix(c.Body, wantPrefix) {
		t.Errorf("Body prefix mismatch:\n%s", c.Body)
	}
	for _, s := range []string{
		"Corrected the spelling of 'receive'.",
		"## Changed file\n",
		"- `README.md`",
		"Token usage: 2.3K input, 456 output ($0.01)",
	} {
		if !strings.Contains(c.Body, s) {
			t.Errorf("Body missing %q:\n%s", s, c.Body)
		}
	}
}

func TestCompose_ClosesReferencedIssues(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantPrefix string
	}{
		{name: "closing keyword in body", body: "Same root cause, closes #7.", wantPrefix: "Fixes #12\nFixes #7\n\n"},
		{name: "bare mention is not closed", body: "Related to #7.", wantPrefix: "Fixes #12\n\n"},
		{name: "self reference is not repeated", body: "fixes #12", wantPrefix: "Fixes #12\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := testIssue()
			issue.Body = tt.body
			c, err := Compose(Input{Issue: issue})
			if err != nil {
				t.Fatalf("Compose() error = %v", err)
			}
			if !strings.HasPrefix(c.Body, tt.wantPrefix) {
				t.Errorf("Body = %q, want prefix %q", c.Body, tt.wantPrefix)
			}
		})
	}
}

func TestCompose_NoUsageFooterWhenZero(t *testing.T) {
	c, err := Compose(Input{Issue: testIssue()})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if strings.Contains(c.Body, "Token usage") || strings.Contains(c.Body, "## Changed") {
		t.Errorf("unexpected sections:\n%s", c.Body)
	}
}

func TestCompose_ManyFiles(t *testing.T) {
	files := make([]string, maxListedFiles+5)
	for i := range files {
		files[i] = "f.go"
	}
	c, err := Compose(Input{Issue: testIssue(), ChangedFiles: files})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !strings.Contains(c.Body, "- ... and 5 more") {
		t.Errorf("expected truncation marker:\n%s", c.Body)
	}
}

func TestCompose_Title(t *testing.T) {
	tests := []struct {
		name         string
		title        string
		conventional bool
		want         string
	}{
		{"plain", "Typo in README", false, "Typo in README"},
		{"conventional", "Typo in README", true, "fix: Typo in README"},
		{"already prefixed", "Fix: typo", true, "Fix: typo"},
		{"empty title", "  ", false, "Fix issue #12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := testIssue()
			issue.Title = tt.title
			c, err := Compose(Input{Issue: issue, ConventionalTitle: tt.conventional})
			if err != nil {
				t.Fatalf("Compose() error = %v", err)
			}
			if c.Title != tt.want {
				t.Errorf("Title = %q, want %q", c.Title, tt.want)
			}
		})
	}
}

func TestCompose_Template(t *testing.T) {
	c, err := Compose(Input{
		Issue:        testIssue(),
		Summary:      "done",
		Instructions: []string{"Fix typo"},
		Template:     "{{ .LinkedIssue }} by @{{ .Author }}: {{ .Summary }}{{ range .Instructions }}\n* {{ . }}{{ end }}",
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if c.Body != "#12 by @octocat: done\n* Fix typo" {
		t.Errorf("Body = %q", c.Body)
	}

	if _, err := Compose(Input{Issue: testIssue(), Template: "{{ .Nope }}"}); err == nil {
		t.Error("expected error for unknown template field")
	}
	if _, err := Compose(Input{}); err == nil {
		t.Error("expected error without issue")
	}
}

func TestResolveReviewers_Sorted(t *testing.T) {
	got := ResolveReviewers(
		[]string{"docs/guide.md"},
		[]string{"@zoe", "bob", " "},
		map[string][]string{"docs/*.md": {"@alice"}, "[": {"broken"}},
	)
	if diff := cmp.Diff([]string{"alice", "bob", "zoe"}, got); diff != "" {
		t.Errorf("ResolveReviewers() mismatch (-want +got):\n%s", diff)
	}
}

func TestComments(t *testing.T) {
	if got := IssueComment("https://github.com/acme/widgets/pull/3"); got != "A pull request has been created to address this issue: https://github.com/acme/widgets/pull/3" {
		t.Errorf("IssueComment() = %q", got)
	}
	if got := FailureComment("agent produced no changes"); got != "fixit could not complete this issue: agent produced no changes" {
		t.Errorf("FailureComment() = %q", got)
	}
}
