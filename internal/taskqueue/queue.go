package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fixit-bot/fixit/internal/errors"
)

const (
	// Default maximum attempts per job.
	defaultMaxAttempts = 3
	// Finished jobs kept for Snapshot before the oldest are dropped.
	defaultRetainFinished = 100
)

// ErrInvalidTransition is returned when a job is not in a state that
// allows the requested operation.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Queue is a FIFO of fix jobs, deduplicated by issue number.
// All methods are safe for concurrent use via an internal mutex.
type Queue struct {
	mu       sync.Mutex
	jobs     map[string]*Job // jobID -> job
	order    []string        // job IDs, oldest first
	byIssue  map[int]string  // issue number -> unfinished job ID
	wake     chan struct{}   // closed and replaced whenever jobs become claimable
	closed   bool
	capacity int
	attempts int
	retain   int
	now      func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the number of unfinished jobs. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		q.capacity = n
	}
}

// WithMaxAttempts sets the default attempts for jobs that do not set one.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.attempts = n
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		jobs:     make(map[string]*Job),
		byIssue:  make(map[int]string),
		wake:     make(chan struct{}),
		attempts: defaultMaxAttempts,
		retain:   defaultRetainFinished,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewJob creates a job for an issue.
func NewJob(issueNumber int, trigger string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		IssueNumber: issueNumber,
		Trigger:     trigger,
	}
}

// Enqueue adds a job. It returns false without error when a job for the
// same issue is already pending, claimed or running.
func (q *Queue) Enqueue(job *Job) (bool, error) {
	if job == nil || job.IssueNumber <= 0 {
		return false, errors.NewValidationError("job requires an issue number").WithField("issue_number")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, errors.ErrQueueClosed
	}
	if _, dup := q.byIssue[job.IssueNumber]; dup {
		return false, nil
	}
	if q.capacity > 0 && len(q.byIssue) >= q.capacity {
		return false, errors.ErrQueueFull
	}

	cp := *job
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if _, exists := q.jobs[cp.ID]; exists {
		return false, errors.NewAlreadyExistsError("job", cp.ID)
	}
	if cp.MaxAttempts <= 0 {
		cp.MaxAttempts = q.attempts
	}
	cp.Status = JobPending
	cp.EnqueuedAt = q.now()
	cp.ClaimedBy = ""
	cp.ClaimedAt = nil
	cp.CompletedAt = nil

	q.jobs[cp.ID] = &cp
	q.order = append(q.order, cp.ID)
	q.byIssue[cp.IssueNumber] = cp.ID
	job.ID = cp.ID
	q.broadcast()
	return true, nil
}

// Claim blocks until a pending job is available and claims it for worker.
// It returns ErrQueueClosed once the queue is closed, or the context error.
func (q *Queue) Claim(ctx context.Context, worker string) (*Job, error) {
	if worker == "" {
		return nil, fmt.Errorf("worker must not be empty")
	}
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, errors.ErrQueueClosed
		}
		if job := q.claimLocked(worker); job != nil {
			q.mu.Unlock()
			return job, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// TryClaim claims the oldest pending job, or returns nil when none is
// available.
func (q *Queue) TryClaim(worker string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.ErrQueueClosed
	}
	return q.claimLocked(worker), nil
}

func (q *Queue) claimLocked(worker string) *Job {
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != JobPending {
			continue
		}
		now := q.now()
		job.Status = JobClaimed
		job.ClaimedBy = worker
		job.ClaimedAt = &now
		job.Attempts++
		// Return a copy to avoid data races on the internal job pointer.
		cp := *job
		return &cp
	}
	return nil
}

// MarkRunning transitions a claimed job to the running state.
func (q *Queue) MarkRunning(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobClaimed {
		return fmt.Errorf("%w: cannot transition %s from %s to running", ErrInvalidTransition, jobID, job.Status)
	}
	job.Status = JobRunning
	return nil
}

// AttachRun records the run a job is processed under, so a retried job
// continues the same run.
func (q *Queue) AttachRun(jobID, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(jobID)
	if err != nil {
		return err
	}
	job.RunID = runID
	return nil
}

// Complete marks a job as completed.
func (q *Queue) Complete(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobRunning && job.Status != JobClaimed {
		return fmt.Errorf("%w: cannot complete job %s in status %s", ErrInvalidTransition, jobID, job.Status)
	}
	q.finishLocked(job, JobCompleted)
	return nil
}

// Fail records a failed attempt. Retryable failures return the job to the
// end of the queue while attempts remain; requeued reports whether that
// happened.
func (q *Queue) Fail(jobID, reason string, retryable bool) (requeued bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(jobID)
	if err != nil {
		return false, err
	}
	if job.Status != JobRunning && job.Status != JobClaimed {
		return false, fmt.Errorf("%w: cannot fail job %s in status %s", ErrInvalidTransition, jobID, job.Status)
	}

	job.LastError = reason
	if retryable && job.Attempts < job.MaxAttempts && !q.closed {
		job.Status = JobPending
		job.ClaimedBy = ""
		job.ClaimedAt = nil
		q.moveToBackLocked(jobID)
		q.broadcast()
		return true, nil
	}
	q.finishLocked(job, JobFailed)
	return false, nil
}

// Release returns a claimed or running job to pending without counting the
// attempt. Used when a worker shuts down mid-job.
func (q *Queue) Release(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getLocked(jobID)
	if err != nil {
		return err
	}
	if job.Status != JobClaimed && job.Status != JobRunning {
		return fmt.Errorf("%w: cannot release job %s in status %s", ErrInvalidTransition, jobID, job.Status)
	}
	job.Status = JobPending
	job.ClaimedBy = ""
	job.ClaimedAt = nil
	if job.Attempts > 0 {
		job.Attempts--
	}
	q.broadcast()
	return nil
}

// ReleaseStaleClaimed releases jobs claimed but not marked running before
// cutoff. Returns the IDs of released jobs.
func (q *Queue) ReleaseStaleClaimed(cutoff time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var released []string
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status == JobClaimed && job.ClaimedAt != nil && job.ClaimedAt.Before(cutoff) {
			job.Status = JobPending
			job.ClaimedBy = ""
			job.ClaimedAt = nil
			released = append(released, id)
		}
	}
	if len(released) > 0 {
		q.broadcast()
	}
	return released
}

// Get returns a copy of the job with the given ID, or nil if not found.
func (q *Queue) Get(jobID string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// Pending reports whether an unfinished job exists for the issue.
func (q *Queue) Pending(issueNumber int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byIssue[issueNumber]
	return ok
}

// Snapshot returns copies of all known jobs, oldest first.
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.jobs[id])
	}
	return out
}

// Status returns a snapshot of the current queue state counts.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStatus
	s.Total = len(q.jobs)
	for _, job := range q.jobs {
		switch job.Status {
		case JobPending:
			s.Pending++
		case JobClaimed:
			s.Claimed++
		case JobRunning:
			s.Running++
		case JobCompleted:
			s.Completed++
		case JobFailed:
			s.Failed++
		}
	}
	return s
}

// Close stops the queue. Blocked and future Claim calls return
// ErrQueueClosed; jobs in flight may still be completed or failed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

func (q *Queue) getLocked(jobID string) (*Job, error) {
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrJobNotFound, jobID)
	}
	return job, nil
}

func (q *Queue) finishLocked(job *Job, status JobStatus) {
	now := q.now()
	job.Status = status
	job.CompletedAt = &now
	if q.byIssue[job.IssueNumber] == job.ID {
		delete(q.byIssue, job.IssueNumber)
	}
	q.pruneLocked()
}

func (q *Queue) moveToBackLocked(jobID string) {
	for i, id := range q.order {
		if id == jobID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.order = append(q.order, jobID)
}

// pruneLocked drops the oldest finished jobs beyond the retention limit.
func (q *Queue) pruneLocked() {
	finished := 0
	for _, id := range q.order {
		if q.jobs[id].Status.IsTerminal() {
			finished++
		}
	}
	if finished <= q.retain {
		return
	}
	drop := finished - q.retain
	kept := q.order[:0]
	for _, id := range q.order {
		if drop > 0 && q.jobs[id].Status.IsTerminal() {
			delete(q.jobs, id)
			drop--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

// broadcast wakes every blocked Claim. Must be called with q.mu held.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}
