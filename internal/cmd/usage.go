package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage and cost",
	Long: `Usage sums the tokens and estimated cost recorded by parse and patch
stages, grouped by stage and model.

--since accepts a duration (24h, 7d) or an RFC3339 timestamp.`,
	RunE: runUsage,
}

var (
	usageSince string
	usageRun   string
)

func init() {
	usageCmd.Flags().StringVar(&usageSince, "since", "24h", "window start, as a duration or RFC3339 time")
	usageCmd.Flags().StringVar(&usageRun, "run", "", "only usage for this run ID or issue number")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, _ []string) error {
	since, err := parseSince(usageSince, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(db) }()

	ctx := cmd.Context()
	q := store.UsageQuery{Since: since}
	if usageRun != "" {
		run, err := repo.LookupRun(ctx, cfg.GitHub.Repository, usageRun)
		if err != nil {
			return err
		}
		q = store.UsageQuery{RunID: run.ID}
	}

	rows, err := repo.UsageBreakdown(ctx, q)
	if err != nil {
		return err
	}
	totals, err := repo.UsageTotals(ctx, q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No usage recorded.")
		return nil
	}
	fmt.Fprintln(out, renderUsageTable(rows, totals))
	if limit := cfg.Resources.DailyCostLimit; limit > 0 && usageRun == "" {
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("Daily limit: %s", usage.FormatCost(limit))))
	}
	return nil
}

func renderUsageTable(rows []store.UsageRow, totals usage.Totals) string {
	t := newTable("STAGE", "MODEL", "CALLS", "INPUT", "OUTPUT", "CACHE", "COST")
	for _, r := range rows {
		t.Row(
			r.Stage,
			orDash(r.Model),
			fmt.Sprintf("%d", r.Totals.Events),
			usage.FormatTokens(r.Totals.Usage.InputTokens),
			usage.FormatTokens(r.Totals.Usage.OutputTokens),
			usage.FormatTokens(r.Totals.Usage.CacheReadTokens+r.Totals.Usage.CacheWriteTokens),
			usage.FormatCost(r.Totals.Cost),
		)
	}
	t.Row(
		headerStyle.Render("total"), "",
		fmt.Sprintf("%d", totals.Events),
		usage.FormatTokens(totals.Usage.InputTokens),
		usage.FormatTokens(totals.Usage.OutputTokens),
		usage.FormatTokens(totals.Usage.CacheReadTokens+totals.Usage.CacheWriteTokens),
		usage.FormatCost(totals.Cost),
	)
	return t.Render()
}

// parseSince reads a window start as an RFC3339 time or a duration back
// from now. A "d" suffix counts days.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	var days int
	if n, err := fmt.Sscanf(s, "%dd", &days); err == nil && n == 1 && fmt.Sprintf("%dd", days) == s {
		if days < 0 {
			return time.Time{}, errors.NewValidationError("since must not be negative").WithField("since").WithValue(s)
		}
		return now.Add(-time.Duration(days) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, errors.NewValidationError("since must be a duration or RFC3339 time").WithField("since").WithValue(s)
	}
	return now.Add(-d), nil
}
