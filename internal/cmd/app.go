package cmd

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/fixit-bot/fixit/internal/agent"
	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/dispatch"
	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/issueparse"
	"github.com/fixit-bot/fixit/internal/llm"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/pipeline"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
	"github.com/fixit-bot/fixit/internal/usage"
	"github.com/fixit-bot/fixit/internal/worktree"
)

// app holds the wired components shared by the long-running commands.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	db         *gorm.DB
	repo       *store.Repository
	ledger     *usage.Ledger
	budget     *usage.Monitor
	tracker    *github.Client
	fixer      *pipeline.Fixer
	queue      *taskqueue.Queue
	dispatcher *dispatch.Dispatcher
	repoDir    string
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}

// openStore opens the run store without the rest of the app, for the
// read-only commands.
func openStore(cfg *config.Config) (*gorm.DB, *store.Repository, error) {
	db, err := store.Open(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewRepository(db, nil), nil
}

// newApp wires every component from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	repoDir := cfg.Paths.RepoDir
	if repoDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		repoDir = wd
	}
	root, err := worktree.FindGitRoot(repoDir)
	if err != nil {
		return fmt.Errorf("%s is not inside a git repository: %w", repoDir, err)
	}
	a.repoDir = root

	wtOpts := []worktree.Option{worktree.WithLogger(a.logger)}
	if cfg.GitHub.Remote != "" {
		wtOpts = append(wtOpts, worktree.WithRemote(cfg.GitHub.Remote))
	}
	worktrees, err := worktree.New(root, cfg.Paths.ResolveWorktreeDir(root), wtOpts...)
	if err != nil {
		return err
	}
	if cfg.GitHub.Repository == "" {
		if cfg.GitHub.Repository, err = detectRepository(ctx, worktrees); err != nil {
			return err
		}
		a.logger.Info("detected repository from git remote", "repo", cfg.GitHub.Repository)
	}

	a.db, err = store.Open(cfg.Store, store.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.repo = store.NewRepository(a.db, a.logger)
	a.ledger = usage.NewLedger(a.repo, a.logger)
	a.budget = usage.NewMonitor(usage.BudgetFromConfig(cfg.Resources), a.logger)

	var ghOpts []github.ClientOption
	if cfg.GitHub.APIURL != "" {
		ghOpts = append(ghOpts, github.WithBaseURL(cfg.GitHub.APIURL))
	}
	a.tracker, err = github.NewClient(ctx, cfg.GitHub.Token, cfg.GitHub.Repository, ghOpts...)
	if err != nil {
		return err
	}

	provider, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	parser := issueparse.New(provider,
		issueparse.WithMaxTokens(cfg.LLM.MaxTokens),
		issueparse.WithLogger(a.logger),
	)

	backend, err := agent.NewFromConfig(cfg.Agent)
	if err != nil {
		return err
	}
	runner := agent.NewRunner(backend, cfg.Agent, agent.WithLogger(a.logger))

	a.fixer, err = pipeline.New(pipeline.Deps{
		Tracker:   a.tracker,
		Worktrees: worktrees,
		Parser:    parser,
		Agent:     runner,
		Runs:      a.repo,
		Ledger:    a.ledger,
		Budget:    a.budget,
		Logger:    a.logger,
	}, pipeline.ConfigFrom(cfg))
	if err != nil {
		return err
	}

	a.queue = taskqueue.New(
		taskqueue.WithCapacity(cfg.Worker.QueueSize),
		taskqueue.WithMaxAttempts(cfg.Worker.MaxAttempts),
	)
	a.dispatcher = dispatch.New(a.repo, a.queue, cfg.GitHub.Repository, a.logger)
	return nil
}

// detectRepository reads owner/name from the clone's remote URL.
func detectRepository(ctx context.Context, wt *worktree.Manager) (string, error) {
	url, err := wt.RemoteURL(ctx)
	if err != nil {
		return "", fmt.Errorf("github.repository is not set and the git remote is unreadable: %w", err)
	}
	repo, err := github.ParseRemoteURL(url)
	if err != nil {
		return "", fmt.Errorf("github.repository is not set: %w", err)
	}
	return repo.String(), nil
}

// lock takes the single-instance lock in the repository's fixit directory.
func (a *app) lock() (*taskqueue.FileLock, error) {
	dir := a.cfg.Paths.ResolveWorktreeDir(a.repoDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	fl := taskqueue.NewFileLock(dir)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another fixit process (pid %d) holds %s", fl.HolderPID(), fl.Path())
	}
	return fl, nil
}

// Close releases the store and the log file.
func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.db != nil {
		if err := store.Close(a.db); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
	_ = a.logger.Close()
}
