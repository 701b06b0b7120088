package server

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
	"github.com/fixit-bot/fixit/internal/usage"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}

// CreateRunRequest asks for an issue to be fixed.
type CreateRunRequest struct {
	IssueNumber int `json:"issue_number" validate:"required,min=1"`
}

// Validate checks the request fields.
func (r *CreateRunRequest) Validate() error {
	return validate.Struct(r)
}

// WebhookResponse reports what a delivery did.
type WebhookResponse struct {
	Queued bool   `json:"queued"`
	RunID  string `json:"run_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RunResponse is a run with its usage events.
type RunResponse struct {
	*store.Run
	Usage []usage.Event `json:"usage"`
}

// RunListResponse is a page of runs.
type RunListResponse struct {
	Runs   []*store.Run `json:"runs"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// UsageResponse summarizes usage since a point in time.
type UsageResponse struct {
	Since     time.Time        `json:"since"`
	Totals    usage.Totals     `json:"totals"`
	Breakdown []store.UsageRow `json:"breakdown"`
}

// QueueResponse lists the jobs the process knows about, oldest first.
type QueueResponse struct {
	taskqueue.QueueStatus
	Active int             `json:"active"`
	Jobs   []taskqueue.Job `json:"jobs"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status string                 `json:"status"`
	Queue  *taskqueue.QueueStatus `json:"queue,omitempty"`
}
