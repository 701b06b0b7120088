package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/usage"
	"github.com/fixit-bot/fixit/internal/util"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id|issue-number]",
	Short: "List recent runs",
	Long: `Runs lists recent fix runs, newest first. Given a run ID or an issue
number it shows that run in detail instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var (
	runsStatus string
	runsLimit  int
	runsIssue  int
)

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "only runs in this status (queued, running, succeeded, failed, skipped)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to show")
	runsCmd.Flags().IntVar(&runsIssue, "issue", 0, "only runs for this issue")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
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
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		run, err := repo.LookupRun(ctx, cfg.GitHub.Repository, args[0])
		if err != nil {
			return err
		}
		events, err := repo.RunUsage(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Fprint(out, renderRunDetail(run, events))
		return nil
	}

	q := store.RunQuery{Repo: cfg.GitHub.Repository, Limit: runsLimit, IssueNumber: runsIssue}
	if runsStatus != "" {
		if q.Status, err = store.ParseStatus(runsStatus); err != nil {
			return err
		}
	}
	runs, err := repo.ListRuns(ctx, q)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}
	fmt.Fprintln(out, renderRunsTable(runs, time.Now(), titleWidth()))
	return nil
}

// Width of every runs table column except TITLE, borders included.
const runsFixedWidth = 96

// titleWidth is what is left of the terminal for issue titles. Output that
// is not a terminal gets a fixed width.
func titleWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || !term.IsTerminal(int(os.Stdout.Fd())) {
		return 40
	}
	return max(w-runsFixedWidth, 12)
}

func renderRunsTable(runs []*store.Run, now time.Time, titleMax int) string {
	t := newTable("RUN", "ISSUE", "TITLE", "STATUS", "STAGE", "PR", "TOKENS", "COST", "AGE")
	for _, r := range runs {
		pr := "-"
		if r.PRNumber > 0 {
			pr = "#" + strconv.Itoa(r.PRNumber)
		}
		t.Row(
			shortID(r.ID),
			"#"+strconv.Itoa(r.IssueNumber),
			util.TruncateANSI(orDash(r.IssueTitle), titleMax),
			statusStyle(r.Status).Render(string(r.Status)),
			orDash(r.Stage),
			pr,
			usage.FormatTokens(r.InputTokens+r.OutputTokens),
			usage.FormatCost(r.Cost),
			formatAge(now.Sub(r.CreatedAt)),
		)
	}
	return t.Render()
}

func renderRunDetail(r *store.Run, events []usage.Event) string {
	s := fmt.Sprintf("%s %s\n", headerStyle.Render("Run"), r.ID)
	s += fmt.Sprintf("Issue:    #%d %s\n", r.IssueNumber, r.IssueTitle)
	s += fmt.Sprintf("Status:   %s\n", statusStyle(r.Status).Render(string(r.Status)))
	s += fmt.Sprintf("Trigger:  %s\n", orDash(r.Trigger))
	s += fmt.Sprintf("Stage:    %s\n", orDash(r.Stage))
	s += fmt.Sprintf("Attempts: %d\n", r.Attempts)
	if r.Branch != "" {
		s += fmt.Sprintf("Branch:   %s\n", r.Branch)
	}
	if r.PRURL != "" {
		s += fmt.Sprintf("PR:       %s\n", r.PRURL)
	}
	if r.Error != "" {
		s += fmt.Sprintf("Error:    %s\n", r.Error)
	}
	s += fmt.Sprintf("Created:  %s\n", r.CreatedAt.Local().Format(time.DateTime))
	if r.FinishedAt != nil {
		s += fmt.Sprintf("Finished: %s (%s)\n", r.FinishedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.CreatedAt).Round(time.Second))
	}

	if len(events) > 0 {
		t := newTable("STAGE", "MODEL", "INPUT", "OUTPUT", "COST")
		for _, ev := range events {
			t.Row(ev.Stage, ev.Model,
				usage.FormatTokens(ev.Usage.InputTokens),
				usage.FormatTokens(ev.Usage.OutputTokens),
				usage.FormatCost(ev.Cost),
			)
		}
		s += "\n" + t.Render() + "\n"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge renders d in the largest whole unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
