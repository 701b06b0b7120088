// Package trigger decides which issues fixit should work on.
//
// Webhook deliveries are evaluated one at a time with Rules.Evaluate. The
// poller uses Rules.Prioritize to pick work from the list of open issues.
package trigger

import (
	"sort"
	"strings"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/github"
)

// Rules describe how an issue gets tagged for fixit.
type Rules struct {
	// Mention is the handle that summons the bot, e.g. "@fixit-bot".
	Mention string
	// Labels are trigger labels, matched case-insensitively.
	Labels []string
	// Assignee, when set, is the login the poller requires issues to be
	// assigned to, and the login that fires on "assigned".
	Assignee string
	// RequireLabelAndMention demands both a trigger label and a mention.
	RequireLabelAndMention bool
	// BotLogin is ignored as a comment author so the bot never triggers itself.
	BotLogin string
}

// FromConfig builds Rules from the trigger and github config sections.
func FromConfig(tc config.TriggerConfig, gc config.GitHubConfig) Rules {
	return Rules{
		Mention:                tc.Mention,
		Labels:                 tc.Labels,
		Assignee:               tc.Assignee,
		RequireLabelAndMention: tc.RequireLabelAndMention,
		BotLogin:               gc.BotUsername,
	}
}

// Decision is the outcome of evaluating an event.
type Decision struct {
	Fire   bool
	Reason string
}

func fire(reason string) Decision { return Decision{Fire: true, Reason: reason} }
func skip(reason string) Decision { return Decision{Reason: reason} }

// Evaluate decides whether a webhook event should start a run.
func (r Rules) Evaluate(ev *github.Event) Decision {
	if ev == nil || ev.Issue == nil {
		return skip("event has no issue")
	}
	if !ev.Issue.IsOpen() {
		return skip("issue is closed")
	}

	switch ev.Kind {
	case github.KindIssues:
		return r.evaluateIssue(ev)
	case github.KindIssueComment:
		return r.evaluateComment(ev)
	default:
		return skip("ignored event " + ev.Kind)
	}
}

func (r Rules) evaluateIssue(ev *github.Event) Decision {
	issue := ev.Issue
	switch ev.Action {
	case "opened", "edited", "reopened":
		mentioned := r.Mentioned(issue.Body)
		labeled := r.HasTriggerLabel(issue)
		return r.combine(mentioned, labeled, "issue "+ev.Action)
	case "labeled":
		if !r.IsTriggerLabel(ev.Label) {
			return skip("label " + ev.Label + " is not a trigger label")
		}
		return r.combine(r.Mentioned(issue.Body), true, "labeled "+ev.Label)
	case "assigned":
		if r.Assignee == "" || !strings.EqualFold(strings.TrimPrefix(r.Assignee, "@"), ev.Assignee) {
			return skip("assigned to " + ev.Assignee)
		}
		return r.combine(r.Mentioned(issue.Body), r.HasTriggerLabel(issue), "assigned to "+ev.Assignee)
	default:
		return skip("ignored issues action " + ev.Action)
	}
}

func (r Rules) evaluateComment(ev *github.Event) Decision {
	if ev.Action != "created" {
		return skip("ignored comment action " + ev.Action)
	}
	if ev.OnPullRequest {
		return skip("comment is on a pull request")
	}
	if ev.Comment == nil {
		return skip("event has no comment")
	}
	if r.BotLogin != "" && strings.EqualFold(ev.Comment.Author, r.BotLogin) {
		return skip("comment by the bot")
	}
	if !r.Mentioned(ev.Comment.Body) {
		return skip("comment does not mention " + r.Mention)
	}
	return r.combine(true, r.HasTriggerLabel(ev.Issue), "mentioned in comment")
}

// combine applies RequireLabelAndMention to the two signals.
func (r Rules) combine(mentioned, labeled bool, reason string) Decision {
	if r.RequireLabelAndMention {
		switch {
		case mentioned && labeled:
			return fire(reason)
		case mentioned:
			return skip("mentioned but no trigger label")
		case labeled:
			return skip("trigger label but no mention of " + r.Mention)
		default:
			return skip("no mention or trigger label")
		}
	}
	if mentioned || labeled {
		return fire(reason)
	}
	return skip("no mention or trigger label")
}

// Mentioned reports whether text contains the mention as a whole handle:
// "@fixit-bot," matches but "@fixit-bot2" does not.
func (r Rules) Mentioned(text string) bool {
	if r.Mention == "" {
		return false
	}
	lower := strings.ToLower(text)
	mention := strings.ToLower(r.Mention)
	for i := 0; ; {
		idx := strings.Index(lower[i:], mention)
		if idx < 0 {
			return false
		}
		end := i + idx + len(mention)
		if end == len(lower) || !isHandleChar(lower[end]) {
			return true
		}
		i = end
	}
}

func isHandleChar(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// IsTriggerLabel reports whether label is one of the trigger labels.
func (r Rules) IsTriggerLabel(label string) bool {
	for _, l := range r.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// HasTriggerLabel reports whether the issue carries any trigger label.
func (r Rules) HasTriggerLabel(issue *github.Issue) bool {
	for _, l := range r.Labels {
		if issue.HasLabel(l) {
			return true
		}
	}
	return false
}

// Prioritize returns the open issues that qualify for a run, oldest first.
// An issue qualifies when it carries a trigger label and, if Assignee is set,
// is assigned to it. With RequireLabelAndMention the body must also mention
// the bot.
func (r Rules) Prioritize(issues []*github.Issue) []*github.Issue {
	var out []*github.Issue
	for _, issue := range issues {
		if issue == nil || !issue.IsOpen() {
			continue
		}
		if r.Assignee != "" && !issue.IsAssignedTo(r.Assignee) {
			continue
		}
		if !r.HasTriggerLabel(issue) {
			continue
		}
		if r.RequireLabelAndMention && !r.Mentioned(issue.Body) {
			continue
		}
		out = append(out, issue)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
	return out
}
