package cmd

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the fixit log",
	Long: `Logs reads the JSON log file configured under logging.file and prints
matching entries as text, oldest first.`,
	RunE: runLogs,
}

var (
	logsLevel string
	logsRun   string
	logsIssue int
	logsStage string
	logsSince string
	logsGrep  string
	logsTail  int
)

func init() {
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug, info, warn, error)")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "only entries for this run ID")
	logsCmd.Flags().IntVar(&logsIssue, "issue", 0, "only entries for this issue")
	logsCmd.Flags().StringVar(&logsStage, "stage", "", "only entries for this pipeline stage")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "window start, as a duration or RFC3339 time")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only entries whose message contains this text")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 0, "show only the last N entries")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Logging.File == "" {
		return fmt.Errorf("logging.file is not set; fixit is logging to stderr")
	}

	filter := logging.LogFilter{
		RunID:           logsRun,
		Issue:           logsIssue,
		Stage:           logsStage,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if filter.Since, err = parseSince(logsSince, time.Now()); err != nil {
		return err
	}

	entries, err := logging.ReadLogs(cfg.Logging.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "No log file yet.")
			return nil
		}
		return err
	}

	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	return logging.WriteText(cmd.OutOrStdout(), entries)
}
