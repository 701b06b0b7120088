// Package github talks to the GitHub REST API on behalf of fixit: it reads
// issues, opens pull requests, comments on issues, and decodes the webhook
// deliveries that start a run.
package github

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Issue is the subset of a GitHub issue fixit works with.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Author    string    `json:"author"`
	Assignees []string  `json:"assignees,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt moves on edits, comments and label changes.
	UpdatedAt time.Time `json:"updated_at"`
	HTMLURL   string    `json:"html_url"`
}

// IsOpen reports whether the issue is open.
func (i *Issue) IsOpen() bool {
	return strings.EqualFold(i.State, "open")
}

// HasLabel reports whether the issue carries label, ignoring case.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// IsAssignedTo reports whether login is among the assignees, ignoring case
// and a leading "@".
func (i *Issue) IsAssignedTo(login string) bool {
	login = strings.TrimPrefix(login, "@")
	for _, a := range i.Assignees {
		if strings.EqualFold(a, login) {
			return true
		}
	}
	return false
}

// Comment is an issue comment.
type Comment struct {
	ID     int64  `json:"id"`
	Body   string `json:"body"`
	Author string `json:"author"`
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Head    string `json:"head"`
	Base    string `json:"base"`
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// Tracker is the issue tracker surface the pipeline depends on.
type Tracker interface {
	GetIssue(ctx context.Context, number int) (*Issue, error)
	// ListOpenIssues returns every open issue, excluding pull requests.
	ListOpenIssues(ctx context.Context) ([]*Issue, error)
	CreatePullRequest(ctx context.Context, pr NewPullRequest) (*PullRequest, error)
	RequestReviewers(ctx context.Context, prNumber int, reviewers []string) error
	AddLabels(ctx context.Context, number int, labels []string) error
	CreateComment(ctx context.Context, number int, body string) error
	// FindOpenPullRequest returns an open pull request whose head branch
	// carries stem (see HasBranchStem), or nil when there is none.
	FindOpenPullRequest(ctx context.Context, stem string) (*PullRequest, error)
}

// HasBranchStem reports whether ref is stem itself or stem followed by a
// "-" and a suffix, so "fixit/4" matches "fixit/4-old-title" but not
// "fixit/42".
func HasBranchStem(ref, stem string) bool {
	return ref == stem || strings.HasPrefix(ref, stem+"-")
}

// Repo is an owner/name pair.
type Repo struct {
	Owner string
	Name  string
}

// String returns "owner/name".
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

// ParseRemoteURL extracts owner/name from a git remote URL such as
// git@github.com:owner/name.git or https://github.com/owner/name.
func ParseRemoteURL(remote string) (Repo, error) {
	s := strings.TrimSpace(remote)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	switch {
	case strings.HasPrefix(s, "git@"):
		if _, path, ok := strings.Cut(s, ":"); ok {
			return ParseRepo(path)
		}
	case strings.Contains(s, "://"):
		_, rest, _ := strings.Cut(s, "://")
		if _, path, ok := strings.Cut(rest, "/"); ok {
			return ParseRepo(path)
		}
	}
	return Repo{}, fmt.Errorf("cannot determine repository from remote %q", remote)
}
