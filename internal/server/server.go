// Package server exposes the GitHub webhook endpoint and a small JSON API
// over runs and token usage.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/dispatch"
	"github.com/fixit-bot/fixit/internal/logging"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
	"github.com/fixit-bot/fixit/internal/trigger"
	"github.com/fixit-bot/fixit/internal/usage"
)

// BasePath prefixes the JSON API routes.
const BasePath = "/api/v1"

// Runs is the read side of the run store. *store.Repository implements it.
type Runs interface {
	ListRuns(ctx context.Context, q store.RunQuery) ([]*store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	RunUsage(ctx context.Context, runID string) ([]usage.Event, error)
	UsageTotals(ctx context.Context, q store.UsageQuery) (usage.Totals, error)
	UsageBreakdown(ctx context.Context, q store.UsageQuery) ([]store.UsageRow, error)
}

// Submitter queues issues. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, issueNumber int, title, trigger string) (*dispatch.Result, error)
}

// Options configures a Server.
type Options struct {
	Config config.ServerConfig
	// Repo is the owner/name deliveries must come from. Empty accepts any.
	Repo          string
	WebhookSecret string
	Rules         trigger.Rules
	Runs          Runs
	Submitter     Submitter
	// Queue, when set, is reported by /healthz.
	Queue  *taskqueue.Queue
	Logger *logging.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg       config.ServerConfig
	repo      string
	secret    string
	runs      Runs
	submitter Submitter
	queue     *taskqueue.Queue
	logger    *logging.Logger
	engine    *gin.Engine
	now       func() time.Time

	mu    sync.RWMutex
	rules trigger.Rules
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Runs == nil || opts.Submitter == nil {
		return nil, fmt.Errorf("server: Runs and Submitter are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		cfg:       opts.Config,
		repo:      opts.Repo,
		secret:    opts.WebhookSecret,
		runs:      opts.Runs,
		submitter: opts.Submitter,
		queue:     opts.Queue,
		logger:    logger.With("component", "server"),
		rules:     opts.Rules,
		now:       time.Now,
	}

	r := gin.New()
	r.Use(recovery(s.logger), requestLogger(s.logger))
	if c, ok := corsConfig(opts.Config.CORSOrigins); ok {
		r.Use(cors.New(c))
	}
	s.routes(r)
	s.engine = r
	return s, nil
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.health)
	r.POST("/webhooks/github", s.webhook)

	v1 := r.Group(BasePath)
	v1.POST("/runs", s.createRun)
	v1.GET("/runs", s.listRuns)
	v1.GET("/runs/:id", s.getRun)
	v1.GET("/usage", s.usage)
	v1.GET("/queue", s.queueSnapshot)
}

// corsConfig allows the read API to be called from the listed origins.
func corsConfig(origins []string) (cors.Config, bool) {
	if len(origins) == 0 {
		return cors.Config{}, false
	}
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c, true
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetRules replaces the trigger rules, e.g. after a config reload.
func (s *Server) SetRules(r trigger.Rules) {
	s.mu.Lock()
	s.rules = r
	s.mu.Unlock()
}

func (s *Server) currentRules() trigger.Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: seconds(s.cfg.ReadHeaderTimeoutSeconds, 10),
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), seconds(s.cfg.ShutdownTimeoutSeconds, 15))
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-serveErr
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}
