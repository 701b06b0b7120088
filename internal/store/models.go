package store

import (
	"time"

	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/usage"
)

// RunModel is the gorm model for runs.
type RunModel struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	Repo         string `gorm:"not null;type:varchar(255);index:idx_runs_repo_issue"`
	IssueNumber  int    `gorm:"not null;index:idx_runs_repo_issue"`
	IssueTitle   string `gorm:"type:text"`
	Trigger      string `gorm:"type:varchar(20)"`
	Status       string `gorm:"not null;type:varchar(20);index"`
	Stage        string `gorm:"type:varchar(50)"`
	Branch       string `gorm:"type:varchar(255)"`
	PRURL        string `gorm:"column:pr_url;type:varchar(512)"`
	PRNumber     int    `gorm:"column:pr_number"`
	Error        string `gorm:"type:text"`
	Attempts     int    `gorm:"not null;default:0"`
	InputTokens  int64  `gorm:"not null;default:0"`
	OutputTokens int64  `gorm:"not null;default:0"`
	Cost         float64
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
	FinishedAt   *time.Time
}

// TableName specifies the table name for gorm.
func (RunModel) TableName() string {
	return "runs"
}

// ToDomain converts the model to a Run.
func (m *RunModel) ToDomain() *Run {
	return &Run{
		ID:           m.ID,
		Repo:         m.Repo,
		IssueNumber:  m.IssueNumber,
		IssueTitle:   m.IssueTitle,
		Trigger:      m.Trigger,
		Status:       Status(m.Status),
		Stage:        m.Stage,
		Branch:       m.Branch,
		PRURL:        m.PRURL,
		PRNumber:     m.PRNumber,
		Error:        m.Error,
		Attempts:     m.Attempts,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		Cost:         m.Cost,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		FinishedAt:   m.FinishedAt,
	}
}

// FromDomain copies a Run into the model.
func (m *RunModel) FromDomain(r *Run) {
	m.ID = r.ID
	m.Repo = r.Repo
	m.IssueNumber = r.IssueNumber
	m.IssueTitle = r.IssueTitle
	m.Trigger = r.Trigger
	m.Status = string(r.Status)
	m.Stage = r.Stage
	m.Branch = r.Branch
	m.PRURL = r.PRURL
	m.PRNumber = r.PRNumber
	m.Error = r.Error
	m.Attempts = r.Attempts
	m.InputTokens = r.InputTokens
	m.OutputTokens = r.OutputTokens
	m.Cost = r.Cost
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
	m.FinishedAt = r.FinishedAt
}

// UsageModel is the gorm model for usage events.
type UsageModel struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)"`
	RunID            string    `gorm:"not null;type:varchar(36);index"`
	Stage            string    `gorm:"not null;type:varchar(20)"`
	Provider         string    `gorm:"type:varchar(50)"`
	Model            string    `gorm:"type:varchar(100);index"`
	InputTokens      int64     `gorm:"not null;default:0"`
	OutputTokens     int64     `gorm:"not null;default:0"`
	CacheReadTokens  int64     `gorm:"not null;default:0"`
	CacheWriteTokens int64     `gorm:"not null;default:0"`
	Cost             float64   `gorm:"not null;default:0"`
	Estimated        bool      `gorm:"not null;default:false"`
	At               time.Time `gorm:"not null;index"`
}

// TableName specifies the table name for gorm.
func (UsageModel) TableName() string {
	return "usage_events"
}

// ToDomain converts the model to a usage event.
func (m *UsageModel) ToDomain() usage.Event {
	return usage.Event{
		ID:       m.ID,
		RunID:    m.RunID,
		Stage:    m.Stage,
		Provider: m.Provider,
		Model:    m.Model,
		Usage: llm.Usage{
			InputTokens:      m.InputTokens,
			OutputTokens:     m.OutputTokens,
			CacheReadTokens:  m.CacheReadTokens,
			CacheWriteTokens: m.CacheWriteTokens,
		},
		Cost:      m.Cost,
		Estimated: m.Estimated,
		At:        m.At,
	}
}

// FromDomain copies a usage event into the model.
func (m *UsageModel) FromDomain(ev usage.Event) {
	m.ID = ev.ID
	m.RunID = ev.RunID
	m.Stage = ev.Stage
	m.Provider = ev.Provider
	m.Model = ev.Model
	m.InputTokens = ev.Usage.InputTokens
	m.OutputTokens = ev.Usage.OutputTokens
	m.CacheReadTokens = ev.Usage.CacheReadTokens
	m.CacheWriteTokens = ev.Usage.CacheWriteTokens
	m.Cost = ev.Cost
	m.Estimated = ev.Estimated
	m.At = ev.At.UTC()
}
