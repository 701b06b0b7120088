package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/poller"
	"github.com/fixit-bot/fixit/internal/server"
	"github.com/fixit-bot/fixit/internal/trigger"
	"github.com/fixit-bot/fixit/internal/usage"
	"github.com/fixit-bot/fixit/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and the worker pool",
	Long: `Serve listens for GitHub webhook deliveries, queues a run for every
issue that is tagged for fixit, and works through the queue with the worker
pool. Runs left queued by a previous process are picked up on start.

The JSON API under /api/v1 lists runs and token usage.

Changes to the trigger rules and resource limits in the config file are
applied without a restart.`,
	RunE: runServe,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll for tagged issues and fix them, without an HTTP server",
	Long: `Poll lists the repository's open issues every poller.interval_seconds
and queues the oldest tagged issues without an active run. Use it where
GitHub cannot deliver webhooks.`,
	RunE: runPoll,
}

var servePoll bool

func init() {
	serveCmd.Flags().BoolVar(&servePoll, "poll", false, "also poll for tagged issues")
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Int("workers", 0, "concurrent fix jobs (overrides worker.concurrency)")
	bindFlags(serveCmd.Flags(), map[string]string{
		"server.addr":        "addr",
		"worker.concurrency": "workers",
	})
	pollCmd.Flags().Int("workers", 0, "concurrent fix jobs (overrides worker.concurrency)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return runDaemon(cmd.Context(), true, servePoll)
}

func runPoll(cmd *cobra.Command, args []string) error {
	bindFlags(cmd.Flags(), map[string]string{"worker.concurrency": "workers"})
	return runDaemon(cmd.Context(), false, true)
}

// runDaemon runs the worker pool plus the HTTP server and/or the poller
// until SIGINT or SIGTERM.
func runDaemon(parent context.Context, withServer, withPoller bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
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

	lock, err := a.lock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if n, err := a.dispatcher.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover queued runs: %w", err)
	} else if n > 0 {
		fmt.Printf("Recovered %d queued run(s)\n", n)
	}

	rules := trigger.FromConfig(cfg.Trigger, cfg.GitHub)
	pool := worker.New(a.queue, a.fixer,
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithLogger(a.logger),
	)

	var srv *server.Server
	if withServer {
		srv, err = server.New(server.Options{
			Config:        cfg.Server,
			Repo:          cfg.GitHub.Repository,
			WebhookSecret: cfg.GitHub.WebhookSecret,
			Rules:         rules,
			Runs:          a.repo,
			Submitter:     a.dispatcher,
			Queue:         a.queue,
			Logger:        a.logger,
		})
		if err != nil {
			return err
		}
	}

	var p *poller.Poller
	if withPoller {
		p, err = poller.New(poller.Options{
			Tracker:   a.tracker,
			Submitter: a.dispatcher,
			History:   a.repo,
			Repo:      cfg.GitHub.Repository,
			Rules:     rules,
			Interval:  cfg.Poller.Interval(),
			Batch:     cfg.Poller.Batch,
			Logger:    a.logger,
		})
		if err != nil {
			return err
		}
	}

	watchConfig(a, srv, p)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
		fmt.Printf("Listening on %s\n", cfg.Server.Addr)
	}
	if p != nil {
		g.Go(func() error { return p.Run(gctx) })
	}

	a.logger.Info("fixit started",
		"repo", cfg.GitHub.Repository,
		"server", withServer,
		"poller", withPoller,
		"workers", cfg.Worker.Concurrency,
	)
	err = g.Wait()
	a.logger.Info("fixit stopped")
	return err
}

// watchConfig applies config file edits to the trigger rules and budget.
// Other settings need a restart.
func watchConfig(a *app, srv *server.Server, p *poller.Poller) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := config.Load()
		if err != nil {
			a.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		rules := trigger.FromConfig(cfg.Trigger, cfg.GitHub)
		if srv != nil {
			srv.SetRules(rules)
		}
		if p != nil {
			p.SetRules(rules)
		}
		a.budget.UpdateBudget(usage.BudgetFromConfig(cfg.Resources))
		a.logger.Info("config reloaded", "file", e.Name)
	})
	viper.WatchConfig()
}
