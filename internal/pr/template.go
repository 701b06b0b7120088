package pr

import (
	"bytes"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/gobwas/glob"
)

// TemplateData contains all data available to PR body templates.
type TemplateData struct {
	// IssueNumber is the issue the run was triggered by.
	IssueNumber int
	// IssueTitle is the issue title.
	IssueTitle string
	// IssueURL links to the issue on GitHub.
	IssueURL string
	// Author is the login of the issue author.
	Author string
	// Summary is what the agent reported about its changes.
	Summary string
	// Instructions are the instructions the agent was given.
	Instructions []string
	// Branch is the head branch of the pull request.
	Branch string
	// ChangedFiles is a list of modified file paths.
	ChangedFiles []string
	// CommitLog is the git commit history beyond the base branch.
	CommitLog string
	// LinkedIssue is the issue reference, e.g. "#42".
	LinkedIssue string
	// Usage is the formatted token usage line.
	Usage string
	// RunID identifies the fixit run.
	RunID string
}

// RenderTemplate renders a custom PR body template with the given data.
func RenderTemplate(tmplStr string, data TemplateData) (string, error) {
	tmpl, err := template.New("pr-template").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var (
	// closingRefPattern matches a reference GitHub closes on merge.
	closingRefPattern = regexp.MustCompile(`(?i)\b(?:fixes|fixed|fix|closes|closed|close|resolves|resolved|resolve)\s*:?\s*#(\d+)`)
	bareRefPattern    = regexp.MustCompile(`#(\d+)`)
)

// ExtractIssueReference returns the first issue reference in text, e.g.
// "#42". A reference after a closing keyword wins over a bare one.
func ExtractIssueReference(text string) string {
	if ref := closingReference(text); ref != "" {
		return ref
	}
	if m := bareRefPattern.FindStringSubmatch(text); len(m) >= 2 {
		return "#" + m[1]
	}
	return ""
}

// closingReference returns the first reference introduced by a closing
// keyword. A bare mention does not count.
func closingReference(text string) string {
	if m := closingRefPattern.FindStringSubmatch(text); len(m) >= 2 {
		return "#" + m[1]
	}
	return ""
}

// FormatClosesClause formats one "Fixes #N" line per issue reference.
func FormatClosesClause(issues []string) string {
	if len(issues) == 0 {
		return ""
	}

	clauses := make([]string, 0, len(issues))
	for _, issue := range issues {
		if !strings.HasPrefix(issue, "#") {
			issue = "#" + issue
		}
		clauses = append(clauses, "Fixes "+issue)
	}
	return strings.Join(clauses, "\n")
}

// ResolveReviewers determines reviewers from the defaults and the path rules
// matching any changed file. The result is sorted and free of duplicates.
func ResolveReviewers(changedFiles []string, defaultReviewers []string, byPath map[string][]string) []string {
	reviewerSet := make(map[string]bool)
	add := func(r string) {
		if r = normalizeReviewer(r); r != "" {
			reviewerSet[r] = true
		}
	}

	for _, r := range defaultReviewers {
		add(r)
	}

	for pattern, reviewers := range byPath {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		for _, file := range changedFiles {
			if g.Match(file) {
				for _, r := range reviewers {
					add(r)
				}
				break
			}
		}
	}

	result := make([]string, 0, len(reviewerSet))
	for r := range reviewerSet {
		result = append(result, r)
	}
	sort.Strings(result)
	return result
}

// normalizeReviewer removes the @ prefix from reviewer handles.
func normalizeReviewer(reviewer string) string {
	return strings.TrimPrefix(strings.TrimSpace(reviewer), "@")
}

func issueRef(n int) string {
	return "#" + strconv.Itoa(n)
}
