package usage

import (
	"sync"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/logging"
)

// Budget holds the spending limits. Zero disables a limit.
type Budget struct {
	TokenLimitPerRun     int64
	CostLimitPerRun      float64
	CostWarningThreshold float64
	DailyCostLimit       float64
}

// BudgetFromConfig reads the resources config section.
func BudgetFromConfig(rc config.ResourceConfig) Budget {
	return Budget{
		TokenLimitPerRun:     rc.TokenLimitPerRun,
		CostLimitPerRun:      rc.CostLimitPerRun,
		CostWarningThreshold: rc.CostWarningThreshold,
		DailyCostLimit:       rc.DailyCostLimit,
	}
}

// Check returns a BudgetError once run or the daily spend reaches a limit.
func (b Budget) Check(run Totals, dailyCost float64) error {
	if b.DailyCostLimit > 0 && dailyCost >= b.DailyCostLimit {
		return errors.NewBudgetError(errors.ErrCostLimit, "daily", dailyCost, b.DailyCostLimit)
	}
	if b.CostLimitPerRun > 0 && run.Cost >= b.CostLimitPerRun {
		return errors.NewBudgetError(errors.ErrCostLimit, "run", run.Cost, b.CostLimitPerRun)
	}
	if total := run.Usage.Total(); b.TokenLimitPerRun > 0 && total >= b.TokenLimitPerRun {
		return errors.NewBudgetError(errors.ErrTokenLimit, "run", float64(total), float64(b.TokenLimitPerRun))
	}
	return nil
}

// Monitor enforces a Budget across runs and logs the cost warning once per
// run. The budget can be swapped at runtime when the config is reloaded.
type Monitor struct {
	mu     sync.Mutex
	budget Budget
	warned map[string]bool
	logger *logging.Logger
}

// NewMonitor creates a monitor for b.
func NewMonitor(b Budget, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{budget: b, warned: make(map[string]bool), logger: logger}
}

// Budget returns the active budget.
func (m *Monitor) Budget() Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}

// UpdateBudget replaces the active budget.
func (m *Monitor) UpdateBudget(b Budget) {
	m.mu.Lock()
	m.budget = b
	m.mu.Unlock()
	m.logger.Info("budget updated",
		"token_limit_per_run", b.TokenLimitPerRun,
		"cost_limit_per_run", b.CostLimitPerRun,
		"daily_cost_limit", b.DailyCostLimit,
	)
}

// Check applies the budget to a run and logs the warning threshold the
// first time the run crosses it.
func (m *Monitor) Check(runID string, run Totals, dailyCost float64) error {
	m.mu.Lock()
	b := m.budget
	warn := b.CostWarningThreshold > 0 && run.Cost >= b.CostWarningThreshold && !m.warned[runID]
	if warn {
		m.warned[runID] = true
	}
	m.mu.Unlock()

	if warn {
		m.logger.Warn("budget warning threshold reached",
			"run_id", runID,
			"total_cost", run.Cost,
			"warning_threshold", b.CostWarningThreshold,
		)
	}

	if err := b.Check(run, dailyCost); err != nil {
		m.logger.Warn("budget limit reached", "run_id", runID, "error", err)
		return err
	}
	return nil
}

// Release forgets per-run warning state.
func (m *Monitor) Release(runID string) {
	m.mu.Lock()
	delete(m.warned, runID)
	m.mu.Unlock()
}
