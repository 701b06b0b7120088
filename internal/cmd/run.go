package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
	"github.com/fixit-bot/fixit/internal/usage"
)

var runCmd = &cobra.Command{
	Use:   "run <issue-number>",
	Short: "Fix one issue now",
	Long: `Run processes a single issue in the foreground: the issue is parsed
into instructions, aider writes the patch in a fresh worktree, and a pull
request is opened. Trigger labels and mentions are not checked.

With --dry-run only the parse step runs and the plan is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runDryRun bool

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "parse the issue and print the plan without changing anything")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	number, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
	if err != nil || number <= 0 {
		return fmt.Errorf("invalid issue number %q", args[0])
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if runDryRun {
		plan, totals, err := a.fixer.DryRun(ctx, number)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Issue #%d\n\n", number)
		fmt.Fprintln(out, headerStyle.Render("Instructions"))
		for i, in := range plan.Instructions {
			fmt.Fprintf(out, "  %d. %s\n", i+1, in)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, headerStyle.Render("Files"))
		if len(plan.Files) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("  (none named)"))
		}
		for _, f := range plan.Files {
			fmt.Fprintf(out, "  %s\n", f)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, mutedStyle.Render(usageSummary(totals)))
		return nil
	}

	lock, err := a.lock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	run := store.NewRun(cfg.GitHub.Repository, number, "", store.TriggerCLI)
	if err := a.repo.CreateRun(ctx, run); err != nil {
		var ae *errors.AlreadyExistsError
		if errors.As(err, &ae) {
			return fmt.Errorf("issue #%d already has an active run; see 'fixit runs --status running'", number)
		}
		return err
	}

	job := taskqueue.NewJob(number, store.TriggerCLI)
	job.RunID = run.ID
	job.Attempts, job.MaxAttempts = 1, 1

	fmt.Fprintf(out, "Fixing issue #%d (run %s)...\n", number, run.ID)
	result, err := a.fixer.Process(ctx, job)
	if result != nil {
		printRunResult(cmd, result)
	}
	return err
}

func printRunResult(cmd *cobra.Command, run *store.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status: %s\n", statusStyle(run.Status).Render(string(run.Status)))
	if run.PRURL != "" {
		fmt.Fprintf(out, "Pull request: %s\n", run.PRURL)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Reason: %s\n", run.Error)
	}
	fmt.Fprintf(out, "Tokens: %s input, %s output  Cost: %s\n",
		usage.FormatTokens(run.InputTokens),
		usage.FormatTokens(run.OutputTokens),
		usage.FormatCost(run.Cost),
	)
}

func usageSummary(t usage.Totals) string {
	return fmt.Sprintf("Token usage: %s input, %s output (%s)",
		usage.FormatTokens(t.Usage.InputTokens),
		usage.FormatTokens(t.Usage.OutputTokens),
		usage.FormatCost(t.Cost),
	)
}
