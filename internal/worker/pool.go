// Package worker drains the fix queue with a fixed number of goroutines.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
	"github.com/fixit-bot/fixit/internal/util"
)

// staleClaimAge is how long a job may sit claimed before it is handed back.
const staleClaimAge = 5 * time.Minute

// Processor runs one job. *pipeline.Fixer implements it.
type Processor interface {
	Process(ctx context.Context, job *taskqueue.Job) (*store.Run, error)
}

// Pool runs jobs from a queue.
type Pool struct {
	queue       *taskqueue.Queue
	processor   Processor
	concurrency int
	logger      *logging.Logger
	now         func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency sets the number of workers. Values below one mean one.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		p.concurrency = max(n, 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pool.
func New(q *taskqueue.Queue, proc Processor, opts ...Option) *Pool {
	p := &Pool{
		queue:       q,
		processor:   proc,
		concurrency: 1,
		logger:      logging.NopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes jobs until ctx is canceled or the queue is closed. Jobs in
// flight at cancellation are released back to the queue.
func (p *Pool) Run(ctx context.Context) error {
	reapCtx, stopReap := context.WithCancel(ctx)
	reaped := make(chan struct{})
	go func() {
		defer close(reaped)
		p.reap(reapCtx)
	}()
	defer func() {
		stopReap()
		<-reaped
	}()

	g, ctx := errgroup.WithContext(ctx)
	for i := range p.concurrency {
		name := fmt.Sprintf("worker-%d", i+1)
		g.Go(func() error {
			return p.work(ctx, name)
		})
	}

	p.logger.Info("worker pool started", "concurrency", p.concurrency)
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, name string) error {
	logger := p.logger.With("worker", name)
	for {
		job, err := p.queue.Claim(ctx, name)
		if err != nil {
			if errors.Is(err, errors.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.handle(ctx, logger, job)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (p *Pool) handle(ctx context.Context, logger *logging.Logger, job *taskqueue.Job) {
	logger = logger.WithIssue(job.IssueNumber).With("job", job.ID)
	if err := p.queue.MarkRunning(job.ID); err != nil {
		logger.Warn("failed to mark job running", "error", err)
		return
	}

	run, err := p.safeProcess(ctx, job)
	if run != nil && job.RunID != run.ID {
		_ = p.queue.AttachRun(job.ID, run.ID)
	}

	switch {
	case ctx.Err() != nil:
		// Shutting down. The run went back to queued in the store and is
		// recovered on the next start.
		if rErr := p.queue.Release(job.ID); rErr != nil {
			logger.Warn("failed to release job", "error", rErr)
		}
	case err == nil:
		if cErr := p.queue.Complete(job.ID); cErr != nil {
			logger.Warn("failed to complete job", "error", cErr)
		}
	default:
		requeued, fErr := p.queue.Fail(job.ID, util.TruncateString(err.Error(), 500), errors.IsRetryable(err))
		if fErr != nil {
			logger.Warn("failed to record job failure", "error", fErr)
			return
		}
		if requeued {
			logger.Info("job requeued", "attempt", job.Attempts, "max_attempts", job.MaxAttempts)
		}
	}
}

// safeProcess keeps a panicking job from taking the pool down.
func (p *Pool) safeProcess(ctx context.Context, job *taskqueue.Job) (run *store.Run, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "job", job.ID, "panic", fmt.Sprint(r))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return p.processor.Process(ctx, job)
}

// reap hands back jobs whose worker never started them.
func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(staleClaimAge / 5)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := p.queue.ReleaseStaleClaimed(p.now().Add(-staleClaimAge)); len(ids) > 0 {
				p.logger.Warn("released stale jobs", "jobs", ids)
			}
		}
	}
}
