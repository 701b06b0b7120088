package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/logging"
)

// Stages that consume tokens.
const (
	StageParse = "parse"
	StagePatch = "patch"
)

// Event is one model or agent call's token usage.
type Event struct {
	ID       string    `json:"id"`
	RunID    string    `json:"run_id"`
	Stage    string    `json:"stage"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Usage    llm.Usage `json:"usage"`
	Cost     float64   `json:"cost"`
	// Estimated is set when Cost came from the pricing table rather than
	// from the tool's own report.
	Estimated bool      `json:"estimated"`
	At        time.Time `json:"at"`
}

// Totals aggregates events.
type Totals struct {
	Usage  llm.Usage `json:"usage"`
	Cost   float64   `json:"cost"`
	Events int       `json:"events"`
}

// Add folds ev into t.
func (t Totals) Add(ev Event) Totals {
	return Totals{
		Usage:  t.Usage.Add(ev.Usage),
		Cost:   t.Cost + ev.Cost,
		Events: t.Events + 1,
	}
}

// Sink persists usage events.
type Sink interface {
	RecordUsage(ctx context.Context, ev Event) error
}

// Ledger accumulates usage events per run and forwards them to a Sink.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	sink    Sink
	pricing Pricing
	logger  *logging.Logger
	events  map[string][]Event
	now     func() time.Time
}

// NewLedger creates a ledger. sink may be nil for in-memory accounting only.
func NewLedger(sink Sink, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Ledger{
		sink:    sink,
		pricing: DefaultPricing,
		logger:  logger,
		events:  make(map[string][]Event),
		now:     time.Now,
	}
}

// Record fills in the event ID, timestamp and estimated cost when missing,
// keeps it against its run, and persists it. The stored event is returned.
func (l *Ledger) Record(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = l.now().UTC()
	}
	if ev.Cost == 0 && !ev.Usage.IsZero() {
		if cost, ok := l.pricing.EstimateCost(ev.Model, ev.Usage); ok {
			ev.Cost = cost
			ev.Estimated = true
		} else {
			l.logger.Debug("no pricing for model", "model", ev.Model)
		}
	}

	l.mu.Lock()
	l.events[ev.RunID] = append(l.events[ev.RunID], ev)
	l.mu.Unlock()

	l.logger.Info("usage recorded",
		"run_id", ev.RunID,
		"stage", ev.Stage,
		"model", ev.Model,
		"input_tokens", ev.Usage.InputTokens,
		"output_tokens", ev.Usage.OutputTokens,
		"cost", ev.Cost,
	)

	if l.sink != nil {
		if err := l.sink.RecordUsage(ctx, ev); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// Events returns a copy of the events recorded for a run.
func (l *Ledger) Events(runID string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events[runID]...)
}

// RunTotals sums the events of one run.
func (l *Ledger) RunTotals(runID string) Totals {
	var t Totals
	for _, ev := range l.Events(runID) {
		t = t.Add(ev)
	}
	return t
}

// ByStage sums a run's events per stage.
func (l *Ledger) ByStage(runID string) map[string]Totals {
	out := make(map[string]Totals)
	for _, ev := range l.Events(runID) {
		out[ev.Stage] = out[ev.Stage].Add(ev)
	}
	return out
}

// Forget drops a finished run from memory. Persisted events are untouched.
func (l *Ledger) Forget(runID string) {
	l.mu.Lock()
	delete(l.events, runID)
	l.mu.Unlock()
}
