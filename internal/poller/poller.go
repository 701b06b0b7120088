// Package poller periodically scans open issues for ones tagged for fixit.
// It complements webhooks for repositories that cannot deliver them.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/fixit-bot/fixit/internal/dispatch"
	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/trigger"
)

// Submitter queues an issue. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, issueNumber int, title, trigger string) (*dispatch.Result, error)
}

// History reports the latest run of each issue. *store.Repository
// implements it.
type History interface {
	LatestRuns(ctx context.Context, repo string, issueNumbers []int) (map[int]*store.Run, error)
}

// Options configures a Poller.
type Options struct {
	Tracker   github.Tracker
	Submitter Submitter
	History   History
	// Repo is the owner/name the history is kept under.
	Repo  string
	Rules trigger.Rules
	// Interval between polls; five minutes when unset.
	Interval time.Duration
	// Batch caps the runs queued per tick. Zero or less queues every
	// qualifying issue.
	Batch  int
	Logger *logging.Logger
}

// Poller lists open issues on an interval and submits the qualifying ones.
type Poller struct {
	tracker  github.Tracker
	submit   Submitter
	history  History
	repo     string
	interval time.Duration
	batch    int
	logger   *logging.Logger

	mu    sync.RWMutex
	rules trigger.Rules
}

// New creates a poller.
func New(opts Options) (*Poller, error) {
	switch {
	case opts.Tracker == nil:
		return nil, errors.NewValidationError("poller requires a tracker")
	case opts.Submitter == nil:
		return nil, errors.NewValidationError("poller requires a submitter")
	case opts.History == nil:
		return nil, errors.NewValidationError("poller requires a run history")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		tracker:  opts.Tracker,
		submit:   opts.Submitter,
		history:  opts.History,
		repo:     opts.Repo,
		interval: interval,
		batch:    opts.Batch,
		logger:   logger.With("component", "poller"),
		rules:    opts.Rules,
	}, nil
}

// SetRules replaces the trigger rules, e.g. after a config reload.
func (p *Poller) SetRules(r trigger.Rules) {
	p.mu.Lock()
	p.rules = r
	p.mu.Unlock()
}

func (p *Poller) currentRules() trigger.Rules {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// Run polls immediately and then every interval until ctx is done. Tick
// errors are logged and do not stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval.String(), "batch", p.batch)
	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one poll and returns the runs it created. An issue is
// passed over while its latest run is active, and after that run finished
// unless the issue was updated since.
func (p *Poller) Tick(ctx context.Context) ([]*store.Run, error) {
	issues, err := p.tracker.ListOpenIssues(ctx)
	if err != nil {
		return nil, err
	}
	candidates := p.currentRules().Prioritize(issues)
	p.logger.Debug("polled issues", "open", len(issues), "candidates", len(candidates))
	if len(candidates) == 0 {
		return nil, nil
	}

	numbers := make([]int, len(candidates))
	for i, issue := range candidates {
		numbers[i] = issue.Number
	}
	latest, err := p.history.LatestRuns(ctx, p.repo, numbers)
	if err != nil {
		return nil, err
	}

	var created []*store.Run
	for _, issue := range candidates {
		if p.batch > 0 && len(created) >= p.batch {
			break
		}
		if reason, skip := settled(issue, latest[issue.Number]); skip {
			p.logger.Debug("passing over issue", "issue", issue.Number, "reason", reason)
			continue
		}
		res, err := p.submit.Submit(ctx, issue.Number, issue.Title, store.TriggerPoller)
		if errors.Is(err, errors.ErrQueueFull) {
			p.logger.Warn("queue full, deferring remaining issues", "queued", len(created))
			break
		}
		if errors.Is(err, errors.ErrAlreadyQueued) {
			continue
		}
		if err != nil {
			return created, err
		}
		if res.Created {
			created = append(created, res.Run)
		}
	}
	if len(created) > 0 {
		p.logger.Info("queued issues from poll", "count", len(created))
	}
	return created, nil
}

// settled reports whether last already answers the issue as it stands.
func settled(issue *github.Issue, last *store.Run) (string, bool) {
	switch {
	case last == nil:
		return "", false
	case last.Status.IsActive():
		return "run " + string(last.Status), true
	case issue.UpdatedAt.After(last.UpdatedAt):
		return "", false
	default:
		return "run " + string(last.Status) + " and issue unchanged since", true
	}
}
