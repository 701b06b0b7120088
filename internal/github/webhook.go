package github

import (
	"fmt"
	"io"
	"net/http"

	gh "github.com/google/go-github/v66/github"

	"github.com/fixit-bot/fixit/internal/errors"
)

// Webhook event kinds fixit understands.
const (
	KindPing         = "ping"
	KindIssues       = "issues"
	KindIssueComment = "issue_comment"
)

// maxPayloadBytes bounds webhook bodies; GitHub caps deliveries at 25MB.
const maxPayloadBytes = 25 << 20

// Event is a normalized webhook delivery.
type Event struct {
	Kind       string
	Action     string
	DeliveryID string
	Repo       string
	Issue      *Issue
	Comment    *Comment
	Sender     string
	// Label is the label added by a "labeled" action.
	Label string
	// Assignee is the user added by an "assigned" action.
	Assignee string
	// OnPullRequest is set for comments made on a pull request.
	OnPullRequest bool
}

// ParseWebhook reads and validates a webhook delivery. The
// X-Hub-Signature-256 HMAC is checked when secret is non-empty.
// Event types other than ping, issues and issue_comment return
// ErrUnsupportedEvent.
func ParseWebhook(r *http.Request, secret string) (*Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		return nil, errors.NewValidationError("read webhook body").WithCause(err)
	}

	if secret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" {
			signature = r.Header.Get("X-Hub-Signature")
		}
		if signature == "" {
			return nil, fmt.Errorf("%w: missing signature header", errors.ErrInvalidSignature)
		}
		if err := gh.ValidateSignature(signature, payload, []byte(secret)); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidSignature, err)
		}
	}

	kind := gh.WebHookType(r)
	ev := &Event{Kind: kind, DeliveryID: gh.DeliveryID(r)}

	switch kind {
	case KindPing, KindIssues, KindIssueComment:
	case "":
		return nil, errors.NewValidationError("missing X-GitHub-Event header")
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedEvent, kind)
	}

	parsed, err := gh.ParseWebHook(kind, payload)
	if err != nil {
		return nil, errors.NewValidationError("malformed webhook payload").WithField(kind).WithCause(err)
	}

	switch e := parsed.(type) {
	case *gh.PingEvent:
	case *gh.IssuesEvent:
		ev.Action = e.GetAction()
		ev.Repo = e.GetRepo().GetFullName()
		ev.Sender = e.GetSender().GetLogin()
		ev.Label = e.GetLabel().GetName()
		ev.Assignee = e.GetAssignee().GetLogin()
		if e.Issue != nil {
			ev.Issue = convertIssue(e.Issue)
		}
	case *gh.IssueCommentEvent:
		ev.Action = e.GetAction()
		ev.Repo = e.GetRepo().GetFullName()
		ev.Sender = e.GetSender().GetLogin()
		if e.Issue != nil {
			ev.Issue = convertIssue(e.Issue)
			ev.OnPullRequest = e.Issue.IsPullRequest()
		}
		if e.Comment != nil {
			ev.Comment = &Comment{
				ID:     e.Comment.GetID(),
				Body:   e.Comment.GetBody(),
				Author: e.Comment.GetUser().GetLogin(),
			}
		}
	}

	if kind != KindPing && ev.Issue == nil {
		return nil, errors.NewValidationError("webhook payload has no issue").WithField(kind)
	}
	return ev, nil
}
