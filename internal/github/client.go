package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/fixit-bot/fixit/internal/errors"
)

const listPageSize = 100

// Client implements Tracker with the GitHub REST API.
type Client struct {
	gh   *gh.Client
	repo Repo
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at a GitHub Enterprise or test API root.
func WithBaseURL(u string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = u
	}
}

// WithHTTPClient sets the transport used beneath the token source.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// NewClient creates a client for repository ("owner/name") authenticated with
// token.
func NewClient(ctx context.Context, token, repository string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, errors.ErrMissingToken
	}
	repo, err := ParseRepo(repository)
	if err != nil {
		return nil, errors.NewValidationError(err.Error()).WithField("github.repository").WithValue(repository)
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client := gh.NewClient(httpClient)

	if o.baseURL != "" {
		base := o.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, errors.NewValidationError("invalid api url").WithField("github.api_url").WithValue(o.baseURL).WithCause(err)
		}
		client.BaseURL = u
	}

	return &Client{gh: client, repo: repo}, nil
}

// Repo returns the repository the client operates on.
func (c *Client) Repo() Repo {
	return c.repo
}

// GetIssue fetches a single issue.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	issue, resp, err := c.gh.Issues.Get(ctx, c.repo.Owner, c.repo.Name, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, c.trackerError("get issue", errors.ErrIssueNotFound, resp).WithIssue(number)
		}
		return nil, c.trackerError("get issue", err, resp).WithIssue(number)
	}
	return convertIssue(issue), nil
}

// ListOpenIssues pages through all open issues, skipping pull requests.
func (c *Client) ListOpenIssues(ctx context.Context) ([]*Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}

	var out []*Issue
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, c.repo.Owner, c.repo.Name, opts)
		if err != nil {
			return nil, c.trackerError("list issues", err, resp)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, convertIssue(issue))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, pr NewPullRequest) (*PullRequest, error) {
	created, resp, err := c.gh.PullRequests.Create(ctx, c.repo.Owner, c.repo.Name, &gh.NewPullRequest{
		Title: gh.String(pr.Title),
		Head:  gh.String(pr.Head),
		Base:  gh.String(pr.Base),
		Body:  gh.String(pr.Body),
		Draft: gh.Bool(pr.Draft),
	})
	if err != nil {
		return nil, c.trackerError("create pull request", err, resp)
	}
	return convertPullRequest(created), nil
}

// RequestReviewers asks the given users to review a pull request.
func (c *Client) RequestReviewers(ctx context.Context, prNumber int, reviewers []string) error {
	if len(reviewers) == 0 {
		return nil
	}
	_, resp, err := c.gh.PullRequests.RequestReviewers(ctx, c.repo.Owner, c.repo.Name, prNumber, gh.ReviewersRequest{
		Reviewers: reviewers,
	})
	if err != nil {
		return c.trackerError("request reviewers", err, resp).WithIssue(prNumber)
	}
	return nil
}

// AddLabels adds labels to an issue or pull request.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	_, resp, err := c.gh.Issues.AddLabelsToIssue(ctx, c.repo.Owner, c.repo.Name, number, labels)
	if err != nil {
		return c.trackerError("add labels", err, resp).WithIssue(number)
	}
	return nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, number int, body string) error {
	_, resp, err := c.gh.Issues.CreateComment(ctx, c.repo.Owner, c.repo.Name, number, &gh.IssueComment{
		Body: gh.String(body),
	})
	if err != nil {
		return c.trackerError("create comment", err, resp).WithIssue(number)
	}
	return nil
}

// FindOpenPullRequest returns the first open pull request from this
// repository whose head branch carries stem, if any.
func (c *Client) FindOpenPullRequest(ctx context.Context, stem string) (*PullRequest, error) {
	opts := &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: listPageSize},
	}
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, c.repo.Owner, c.repo.Name, opts)
		if err != nil {
			return nil, c.trackerError("list pull requests", err, resp)
		}
		for _, pr := range prs {
			if pr.GetHead().GetLabel() != c.repo.Owner+":"+pr.GetHead().GetRef() {
				continue
			}
			if HasBranchStem(pr.GetHead().GetRef(), stem) {
				return convertPullRequest(pr), nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) trackerError(op string, err error, resp *gh.Response) *errors.TrackerError {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		err = fmt.Errorf("%w: %w", errors.ErrRateLimited, err)
	}

	te := errors.NewTrackerError(op, err).WithRepo(c.repo.String())
	if resp != nil {
		te = te.WithStatus(resp.StatusCode)
	}
	if errors.Is(err, errors.ErrRateLimited) {
		te = te.WithRetryable(true)
	}
	return te
}

func convertIssue(issue *gh.Issue) *Issue {
	out := &Issue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     issue.GetState(),
		Author:    issue.GetUser().GetLogin(),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
		HTMLURL:   issue.GetHTMLURL(),
	}
	for _, a := range issue.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	for _, l := range issue.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

func convertPullRequest(pr *gh.PullRequest) *PullRequest {
	return &PullRequest{
		Number:  pr.GetNumber(),
		HTMLURL: pr.GetHTMLURL(),
		Head:    pr.GetHead().GetRef(),
		Base:    pr.GetBase().GetRef(),
	}
}
