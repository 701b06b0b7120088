// Package store persists runs and token usage with gorm. SQLite is the
// default backend; PostgreSQL is supported for shared deployments.
package store

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fixit-bot/fixit/internal/errors"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// transitions lists the states each state may move to.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusSkipped, StatusFailed},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusSkipped, StatusQueued},
	StatusFailed:  {StatusQueued},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusSkipped:
		return st, nil
	}
	return "", errors.NewValidationError("unknown run status").WithField("status").WithValue(s)
}

// IsActive reports whether a run in this state blocks new runs for its issue.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusRunning
}

// IsTerminal reports whether the run has finished.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// CanTransition reports whether a run may move from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to Status) bool {
	return from == to || slices.Contains(transitions[from], to)
}

// Trigger sources.
const (
	TriggerWebhook = "webhook"
	TriggerPoller  = "poller"
	TriggerManual  = "manual"
	TriggerCLI     = "cli"
)

// Run is one attempt at fixing an issue.
type Run struct {
	ID           string     `json:"id" validate:"required,uuid4"`
	Repo         string     `json:"repo" validate:"required"`
	IssueNumber  int        `json:"issue_number" validate:"min=1"`
	IssueTitle   string     `json:"issue_title"`
	Trigger      string     `json:"trigger" validate:"omitempty,oneof=webhook poller manual cli"`
	Status       Status     `json:"status" validate:"required,oneof=queued running succeeded failed skipped"`
	Stage        string     `json:"stage,omitempty"`
	Branch       string     `json:"branch,omitempty"`
	PRURL        string     `json:"pr_url,omitempty" validate:"omitempty,url"`
	PRNumber     int        `json:"pr_number,omitempty"`
	Error        string     `json:"error,omitempty"`
	Attempts     int        `json:"attempts" validate:"min=0"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	Cost         float64    `json:"cost"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewRun creates a queued run for an issue.
func NewRun(repo string, issueNumber int, title, trigger string) *Run {
	return &Run{
		ID:          uuid.NewString(),
		Repo:        repo,
		IssueNumber: issueNumber,
		IssueTitle:  title,
		Trigger:     trigger,
		Status:      StatusQueued,
	}
}

// Transition moves the run to a new state, stamping FinishedAt when it ends.
func (r *Run) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return errors.NewValidationError(fmt.Sprintf("cannot move run from %s to %s", r.Status, to)).
			WithField("status").WithValue(string(to))
	}
	r.Status = to
	switch {
	case to.IsTerminal():
		t := now.UTC()
		r.FinishedAt = &t
	case to == StatusQueued:
		r.FinishedAt = nil
		r.Error = ""
	}
	return nil
}

// Requeue returns a running or failed run to the queue for another attempt,
// keeping reason as the last error.
func (r *Run) Requeue(reason string, now time.Time) error {
	if err := r.Transition(StatusQueued, now); err != nil {
		return err
	}
	r.Error = reason
	return nil
}

// Fail marks the run failed with reason.
func (r *Run) Fail(reason string, now time.Time) error {
	if err := r.Transition(StatusFailed, now); err != nil {
		return err
	}
	r.Error = reason
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the run's fields.
func (r *Run) Validate() error {
	return validationError(validate.Struct(r))
}

// RunQuery filters ListRuns.
type RunQuery struct {
	Repo        string    `validate:"omitempty"`
	Status      Status    `validate:"omitempty,oneof=queued running succeeded failed skipped"`
	IssueNumber int       `validate:"min=0"`
	Since       time.Time `validate:"-"`
	Limit       int       `validate:"min=0,max=500"`
	Offset      int       `validate:"min=0"`
}

// Validate checks the query bounds.
func (q *RunQuery) Validate() error {
	return validationError(validate.Struct(q))
}

// validationError converts validator output into a ValidationError naming
// the first offending field.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		var msgs []string
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return errors.NewValidationError(strings.Join(msgs, "; ")).
			WithField(verrs[0].Field()).
			WithValue(verrs[0].Value())
	}
	return errors.NewValidationError("invalid input").WithCause(err)
}
