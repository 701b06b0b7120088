// Package dispatch turns a decision to fix an issue into a stored run and a
// queued job. The webhook server, the poller and the CLI all submit work
// through a Dispatcher.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
)

// Runs is the part of the run store a Dispatcher needs.
type Runs interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRun(ctx context.Context, run *store.Run) error
	FindActiveRun(ctx context.Context, repo string, issueNumber int) (*store.Run, error)
	ListRuns(ctx context.Context, q store.RunQuery) ([]*store.Run, error)
}

// Dispatcher submits issues for fixing.
type Dispatcher struct {
	runs   Runs
	queue  *taskqueue.Queue
	repo   string
	logger *logging.Logger
}

// New creates a dispatcher for repo.
func New(runs Runs, queue *taskqueue.Queue, repo string, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dispatcher{runs: runs, queue: queue, repo: repo, logger: logger}
}

// Result describes a submission.
type Result struct {
	Run *store.Run
	// Created is false when an active run for the issue already existed.
	Created bool
}

// Submit creates a queued run for the issue and enqueues it. When the issue
// already has an active run, that run is returned and nothing is queued.
func (d *Dispatcher) Submit(ctx context.Context, issueNumber int, title, trigger string) (*Result, error) {
	if issueNumber <= 0 {
		return nil, errors.NewValidationError("issue number must be positive").
			WithField("issue_number").WithValue(issueNumber)
	}

	run := store.NewRun(d.repo, issueNumber, title, trigger)
	if err := d.runs.CreateRun(ctx, run); err != nil {
		var ae *errors.AlreadyExistsError
		if !errors.As(err, &ae) {
			return nil, err
		}
		existing, fErr := d.runs.FindActiveRun(ctx, d.repo, issueNumber)
		if fErr != nil {
			return nil, fErr
		}
		if existing == nil {
			return nil, err
		}
		d.logger.WithIssue(issueNumber).Debug("issue already has an active run", "run_id", existing.ID)
		return &Result{Run: existing}, nil
	}

	if err := d.enqueue(run); err != nil {
		reason := fmt.Sprintf("could not queue run: %v", err)
		if fErr := run.Fail(reason, time.Now()); fErr == nil {
			if uErr := d.runs.UpdateRun(context.WithoutCancel(ctx), run); uErr != nil {
				d.logger.Warn("failed to mark run failed", "run_id", run.ID, "error", uErr)
			}
		}
		return nil, err
	}

	d.logger.WithRun(run.ID).WithIssue(issueNumber).Info("run queued", "trigger", trigger)
	return &Result{Run: run, Created: true}, nil
}

func (d *Dispatcher) enqueue(run *store.Run) error {
	job := taskqueue.NewJob(run.IssueNumber, run.Trigger)
	job.RunID = run.ID
	ok, err := d.queue.Enqueue(job)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: issue #%d", errors.ErrAlreadyQueued, run.IssueNumber)
	}
	return nil
}

// Recover enqueues the repository's runs left queued or running by a
// previous process, oldest first. It returns how many were queued.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	var pending []*store.Run
	for _, status := range []store.Status{store.StatusQueued, store.StatusRunning} {
		runs, err := d.runs.ListRuns(ctx, store.RunQuery{Repo: d.repo, Status: status, Limit: 500})
		if err != nil {
			return 0, err
		}
		pending = append(pending, runs...)
	}

	// ListRuns is newest first.
	n := 0
	for i := len(pending) - 1; i >= 0; i-- {
		run := pending[i]
		if d.queue.Pending(run.IssueNumber) {
			continue
		}
		if err := d.enqueue(run); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		d.logger.Info("recovered runs", "count", n)
	}
	return n, nil
}
