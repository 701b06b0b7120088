package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fixit-bot/fixit/internal/store"
)

var (
	primaryColor = lipgloss.Color("#A78BFA")
	greenColor   = lipgloss.Color("#10B981")
	amberColor   = lipgloss.Color("#F59E0B")
	redColor     = lipgloss.Color("#F87171")
	blueColor    = lipgloss.Color("#60A5FA")
	mutedColor   = lipgloss.Color("#9CA3AF")
	borderColor  = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func statusStyle(s store.Status) lipgloss.Style {
	switch s {
	case store.StatusSucceeded:
		return lipgloss.NewStyle().Foreground(greenColor)
	case store.StatusFailed:
		return lipgloss.NewStyle().Foreground(redColor)
	case store.StatusRunning:
		return lipgloss.NewStyle().Foreground(blueColor)
	case store.StatusQueued:
		return lipgloss.NewStyle().Foreground(amberColor)
	default:
		return mutedStyle
	}
}

// newTable returns a bordered table with the shared header style.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
}

var errorMark = lipgloss.NewStyle().Foreground(redColor).Render("✗")

func lipglossOK(msg string) string {
	return lipgloss.NewStyle().Foreground(greenColor).Render("✓") + " " + msg
}
