// Package pr composes the pull request fixit opens for an issue.
package pr

import (
	"fmt"
	"strings"

	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/usage"
	"github.com/fixit-bot/fixit/internal/util"
)

// maxListedFiles caps the changed-files section of the default body.
const maxListedFiles = 50

// Input is everything a pull request is built from.
type Input struct {
	Issue        *github.Issue
	RunID        string
	Branch       string
	Summary      string
	Instructions []string
	ChangedFiles []string
	CommitLog    string
	Usage        llm.Usage
	Cost         float64

	// Template replaces the default body when set.
	Template string
	// ConventionalTitle prefixes the title with "fix: ".
	ConventionalTitle bool
}

// Content is the title and body of the pull request.
type Content struct {
	Title string
	Body  string
}

// Compose builds the pull request title and body.
func Compose(in Input) (*Content, error) {
	if in.Issue == nil {
		return nil, fmt.Errorf("compose pull request: issue required")
	}

	title := strings.TrimSpace(in.Issue.Title)
	if title == "" {
		title = "Fix issue " + issueRef(in.Issue.Number)
	}
	if in.ConventionalTitle && !strings.HasPrefix(strings.ToLower(title), "fix:") {
		title = "fix: " + title
	}

	if in.Template != "" {
		body, err := RenderTemplate(in.Template, templateData(in))
		if err != nil {
			return nil, fmt.Errorf("render pr template: %w", err)
		}
		return &Content{Title: title, Body: body}, nil
	}
	return &Content{Title: title, Body: defaultBody(in)}, nil
}

// linkedIssues lists the issues the pull request closes: the triggering
// issue, then one the issue body asks to close along with it.
func linkedIssues(issue *github.Issue) []string {
	own := issueRef(issue.Number)
	refs := []string{own}
	if ref := closingReference(issue.Body); ref != "" && ref != own {
		refs = append(refs, ref)
	}
	return refs
}

func templateData(in Input) TemplateData {
	return TemplateData{
		IssueNumber:  in.Issue.Number,
		IssueTitle:   in.Issue.Title,
		IssueURL:     in.Issue.HTMLURL,
		Author:       in.Issue.Author,
		Summary:      in.Summary,
		Instructions: in.Instructions,
		Branch:       in.Branch,
		ChangedFiles: in.ChangedFiles,
		CommitLog:    in.CommitLog,
		LinkedIssue:  issueRef(in.Issue.Number),
		Usage:        UsageLine(in.Usage, in.Cost),
		RunID:        in.RunID,
	}
}

func defaultBody(in Input) string {
	ref := issueRef(in.Issue.Number)

	var b strings.Builder
	b.WriteString(FormatClosesClause(linkedIssues(in.Issue)))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "This is the result of fixit for issue %s\n", ref)
	if in.Issue.Author != "" {
		fmt.Fprintf(&b, "cc @%s\n", in.Issue.Author)
	}

	if s := strings.TrimSpace(in.Summary); s != "" {
		b.WriteString("\n## Summary\n\n")
		b.WriteString(s)
		b.WriteString("\n")
	}

	if len(in.ChangedFiles) > 0 {
		fmt.Fprintf(&b, "\n## Changed %s\n\n", util.Plural(len(in.ChangedFiles), "file", "files"))
		for i, f := range in.ChangedFiles {
			if i == maxListedFiles {
				fmt.Fprintf(&b, "- ... and %d more\n", len(in.ChangedFiles)-maxListedFiles)
				break
			}
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}

	if !in.Usage.IsZero() || in.Cost > 0 {
		b.WriteString("\n---\n")
		b.WriteString(UsageLine(in.Usage, in.Cost))
		b.WriteString("\n")
	}
	return b.String()
}

// UsageLine formats the token usage footer.
func UsageLine(u llm.Usage, cost float64) string {
	return fmt.Sprintf("Token usage: %s input, %s output (%s)",
		usage.FormatTokens(u.InputTokens), usage.FormatTokens(u.OutputTokens), usage.FormatCost(cost))
}

// IssueComment is posted on the issue once the pull request exists.
func IssueComment(prURL string) string {
	return "A pull request has been created to address this issue: " + prURL
}

// FailureComment is posted on the issue when a run fails with an error the
// reporter can act on.
func FailureComment(reason string) string {
	return "fixit could not complete this issue: " + reason
}

// NoInstructionsComment is posted when the issue yields nothing to do.
func NoInstructionsComment() string {
	return "fixit could not find actionable instructions in this issue. " +
		"Describe the change you want and which files it touches, then tag the issue again."
}
