package taskqueue

import (
	"time"
)

// JobStatus represents the current state of a queued job.
type JobStatus string

const (
	// JobPending indicates the job is waiting to be claimed.
	JobPending JobStatus = "pending"

	// JobClaimed indicates a worker took the job but has not started it.
	JobClaimed JobStatus = "claimed"

	// JobRunning indicates the job is being processed.
	JobRunning JobStatus = "running"

	// JobCompleted indicates the job finished.
	JobCompleted JobStatus = "completed"

	// JobFailed indicates the job failed and will not be retried.
	JobFailed JobStatus = "failed"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job asks a worker to fix one issue.
type Job struct {
	ID          string `json:"id"`
	IssueNumber int    `json:"issue_number"`
	// RunID is the store run created when the job was accepted, if any.
	RunID   string    `json:"run_id,omitempty"`
	Trigger string    `json:"trigger"`
	Status  JobStatus `json:"status"`

	EnqueuedAt  time.Time  `json:"enqueued_at"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Attempts counts claims so far.
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// LastError is the reason given by the most recent failure.
	LastError string `json:"last_error,omitempty"`
}

// QueueStatus is a snapshot of the queue's state counts.
type QueueStatus struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Active returns the number of jobs not yet finished.
func (s QueueStatus) Active() int {
	return s.Pending + s.Claimed + s.Running
}
