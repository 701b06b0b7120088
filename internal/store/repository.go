package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/usage"
)

// defaultListLimit applies when a RunQuery sets no limit.
const defaultListLimit = 50

// Repository reads and writes runs and usage events.
type Repository struct {
	db     *gorm.DB
	logger *logging.Logger
	now    func() time.Time
}

// NewRepository creates a repository on db.
func NewRepository(db *gorm.DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Repository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun inserts a run. At most one queued or running run may exist per
// repository issue; a second one yields an AlreadyExistsError.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	now := r.now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if err := run.Validate(); err != nil {
		return err
	}

	model := &RunModel{}
	model.FromDomain(run)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if run.Status.IsActive() {
			var n int64
			if err := tx.Model(&RunModel{}).
				Where("repo = ? AND issue_number = ? AND status IN ?", run.Repo, run.IssueNumber, activeStatuses()).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return errors.NewAlreadyExistsError("active run", fmt.Sprintf("%s#%d", run.Repo, run.IssueNumber))
			}
		}
		return tx.Create(model).Error
	})
	if err != nil {
		if errors.Is(err, errors.ErrInvalidInput) || isAlreadyExists(err) {
			return err
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	r.logger.Debug("created run", "run_id", run.ID, "issue", run.IssueNumber)
	return nil
}

func isAlreadyExists(err error) bool {
	var ae *errors.AlreadyExistsError
	return errors.As(err, &ae)
}

func activeStatuses() []string {
	return []string{string(StatusQueued), string(StatusRunning)}
}

// UpdateRun saves run, enforcing the status machine against the stored state.
func (r *Repository) UpdateRun(ctx context.Context, run *Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current RunModel
		if err := tx.Where("id = ?", run.ID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NewNotFoundError("run", run.ID)
			}
			return fmt.Errorf("failed to fetch run: %w", err)
		}
		if from := Status(current.Status); !CanTransition(from, run.Status) {
			return errors.NewValidationError(fmt.Sprintf("cannot move run from %s to %s", from, run.Status)).
				WithField("status").WithValue(string(run.Status))
		}

		run.CreatedAt = current.CreatedAt
		run.UpdatedAt = r.now()
		model := &RunModel{}
		model.FromDomain(run)
		if err := tx.Save(model).Error; err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		return nil
	})
}

// GetRun fetches a run by ID.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	var model RunModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NewNotFoundError("run", id)
		}
		return nil, fmt.Errorf("failed to fetch run: %w", err)
	}
	return model.ToDomain(), nil
}

// ListRuns returns runs matching q, newest first.
func (r *Repository) ListRuns(ctx context.Context, q RunQuery) ([]*Run, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	dbQuery := r.db.WithContext(ctx).Model(&RunModel{})
	if q.Repo != "" {
		dbQuery = dbQuery.Where("repo = ?", q.Repo)
	}
	if q.Status != "" {
		dbQuery = dbQuery.Where("status = ?", string(q.Status))
	}
	if q.IssueNumber > 0 {
		dbQuery = dbQuery.Where("issue_number = ?", q.IssueNumber)
	}
	if !q.Since.IsZero() {
		dbQuery = dbQuery.Where("created_at >= ?", q.Since.UTC())
	}

	limit := q.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	dbQuery = dbQuery.Order("created_at desc").Limit(limit)
	if q.Offset > 0 {
		dbQuery = dbQuery.Offset(q.Offset)
	}

	var models []*RunModel
	if err := dbQuery.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch runs: %w", err)
	}

	runs := make([]*Run, len(models))
	for i, m := range models {
		runs[i] = m.ToDomain()
	}
	return runs, nil
}

// FindActiveRun returns the queued or running run for an issue, or nil when
// there is none.
func (r *Repository) FindActiveRun(ctx context.Context, repo string, issueNumber int) (*Run, error) {
	var models []RunModel
	err := r.db.WithContext(ctx).
		Where("repo = ? AND issue_number = ? AND status IN ?", repo, issueNumber, activeStatuses()).
		Order("created_at desc").
		Limit(1).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active run: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return models[0].ToDomain(), nil
}

// RecordUsage persists a usage event. It implements usage.Sink.
func (r *Repository) RecordUsage(ctx context.Context, ev usage.Event) error {
	if ev.ID == "" || ev.RunID == "" {
		return errors.NewValidationError("usage event requires id and run id")
	}
	model := &UsageModel{}
	model.FromDomain(ev)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageQuery filters usage aggregation.
type UsageQuery struct {
	RunID string
	Stage string
	Since time.Time
	Until time.Time
}

func (r *Repository) usageScope(ctx context.Context, q UsageQuery) *gorm.DB {
	db := r.db.WithContext(ctx).Model(&UsageModel{})
	if q.RunID != "" {
		db = db.Where("run_id = ?", q.RunID)
	}
	if q.Stage != "" {
		db = db.Where("stage = ?", q.Stage)
	}
	if !q.Since.IsZero() {
		db = db.Where("at >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		db = db.Where("at < ?", q.Until.UTC())
	}
	return db
}

type usageAggregate struct {
	Stage            string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Cost             float64
	Events           int
}

func (a usageAggregate) totals() usage.Totals {
	return usage.Totals{
		Usage: llm.Usage{
			InputTokens:      a.InputTokens,
			OutputTokens:     a.OutputTokens,
			CacheReadTokens:  a.CacheReadTokens,
			CacheWriteTokens: a.CacheWriteTokens,
		},
		Cost:   a.Cost,
		Events: a.Events,
	}
}

const usageSums = "COALESCE(SUM(input_tokens), 0) AS input_tokens, " +
	"COALESCE(SUM(output_tokens), 0) AS output_tokens, " +
	"COALESCE(SUM(cache_read_tokens), 0) AS cache_read_tokens, " +
	"COALESCE(SUM(cache_write_tokens), 0) AS cache_write_tokens, " +
	"COALESCE(SUM(cost), 0) AS cost, " +
	"COUNT(*) AS events"

// UsageTotals sums usage matching q.
func (r *Repository) UsageTotals(ctx context.Context, q UsageQuery) (usage.Totals, error) {
	var agg usageAggregate
	if err := r.usageScope(ctx, q).Select(usageSums).Scan(&agg).Error; err != nil {
		return usage.Totals{}, fmt.Errorf("failed to sum usage: %w", err)
	}
	return agg.totals(), nil
}

// UsageRow is one stage and model's share of usage.
type UsageRow struct {
	Stage  string       `json:"stage"`
	Model  string       `json:"model"`
	Totals usage.Totals `json:"totals"`
}

// UsageBreakdown groups usage matching q by stage and model.
func (r *Repository) UsageBreakdown(ctx context.Context, q UsageQuery) ([]UsageRow, error) {
	var aggs []usageAggregate
	err := r.usageScope(ctx, q).
		Select("stage, model, " + usageSums).
		Group("stage, model").
		Order("stage, model").
		Scan(&aggs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group usage: %w", err)
	}

	rows := make([]UsageRow, len(aggs))
	for i, a := range aggs {
		rows[i] = UsageRow{Stage: a.Stage, Model: a.Model, Totals: a.totals()}
	}
	return rows, nil
}

// RunUsage lists the usage events recorded for a run in order.
func (r *Repository) RunUsage(ctx context.Context, runID string) ([]usage.Event, error) {
	var models []UsageModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("at").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch usage for run %s: %w", runID, err)
	}
	events := make([]usage.Event, len(models))
	for i := range models {
		events[i] = models[i].ToDomain()
	}
	return events, nil
}

// CostSince returns the total cost recorded at or after t.
func (r *Repository) CostSince(ctx context.Context, t time.Time) (float64, error) {
	totals, err := r.UsageTotals(ctx, UsageQuery{Since: t})
	if err != nil {
		return 0, err
	}
	return totals.Cost, nil
}

// DailyCost returns the cost recorded over the last 24 hours.
func (r *Repository) DailyCost(ctx context.Context) (float64, error) {
	return r.CostSince(ctx, r.now().Add(-24*time.Hour))
}

// LatestRuns returns the most recent run of each listed issue, keyed by
// issue number. Issues that never ran are absent from the map.
func (r *Repository) LatestRuns(ctx context.Context, repo string, issueNumbers []int) (map[int]*Run, error) {
	out := make(map[int]*Run, len(issueNumbers))
	if len(issueNumbers) == 0 {
		return out, nil
	}

	var models []RunModel
	err := r.db.WithContext(ctx).
		Where("repo = ? AND issue_number IN ?", repo, issueNumbers).
		Order("created_at desc").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest runs: %w", err)
	}
	for i := range models {
		if _, seen := out[models[i].IssueNumber]; !seen {
			out[models[i].IssueNumber] = models[i].ToDomain()
		}
	}
	return out, nil
}

// parseRunNumber accepts a run ID or a bare issue number for CLI lookups.
func parseRunNumber(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil && n > 0
}

// LatestRunForIssue returns the most recent run for an issue.
func (r *Repository) LatestRunForIssue(ctx context.Context, repo string, issueNumber int) (*Run, error) {
	runs, err := r.ListRuns(ctx, RunQuery{Repo: repo, IssueNumber: issueNumber, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.NewNotFoundError("run", fmt.Sprintf("%s#%d", repo, issueNumber))
	}
	return runs[0], nil
}

// LookupRun resolves ref as a run ID, falling back to the latest run of the
// issue with that number.
func (r *Repository) LookupRun(ctx context.Context, repo, ref string) (*Run, error) {
	if n, ok := parseRunNumber(ref); ok {
		return r.LatestRunForIssue(ctx, repo, n)
	}
	return r.GetRun(ctx, ref)
}
