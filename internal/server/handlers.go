package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/github"
	"github.com/fixit-bot/fixit/internal/store"
)

// defaultUsageWindow applies when /usage is called without since.
const defaultUsageWindow = 24 * time.Hour

func (s *Server) health(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if s.queue != nil {
		st := s.queue.Status()
		resp.Queue = &st
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) queueSnapshot(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "no worker queue in this process"})
		return
	}
	st := s.queue.Status()
	c.JSON(http.StatusOK, QueueResponse{
		QueueStatus: st,
		Active:      st.Active(),
		Jobs:        s.queue.Snapshot(),
	})
}

// webhook handles a GitHub delivery. Deliveries that do not start a run are
// acknowledged with 200 so GitHub does not retry them.
func (s *Server) webhook(c *gin.Context) {
	ev, err := github.ParseWebhook(c.Request, s.secret)
	switch {
	case errors.Is(err, errors.ErrInvalidSignature):
		s.logger.Warn("rejected webhook", "error", err)
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "invalid signature"})
		return
	case errors.Is(err, errors.ErrUnsupportedEvent):
		c.JSON(http.StatusOK, WebhookResponse{Reason: "unsupported event"})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	logger := s.logger.With("delivery", ev.DeliveryID, "event", ev.Kind, "action", ev.Action)
	if ev.Kind == github.KindPing {
		c.JSON(http.StatusOK, WebhookResponse{Reason: "pong"})
		return
	}
	if s.repo != "" && ev.Repo != "" && !strings.EqualFold(ev.Repo, s.repo) {
		logger.Warn("webhook for another repository", "repo", ev.Repo)
		c.JSON(http.StatusOK, WebhookResponse{Reason: "repository " + ev.Repo + " is not configured"})
		return
	}

	decision := s.currentRules().Evaluate(ev)
	logger = logger.WithIssue(ev.Issue.Number)
	if !decision.Fire {
		logger.Debug("webhook ignored", "reason", decision.Reason)
		c.JSON(http.StatusOK, WebhookResponse{Reason: decision.Reason})
		return
	}

	res, err := s.submitter.Submit(c.Request.Context(), ev.Issue.Number, ev.Issue.Title, store.TriggerWebhook)
	if err != nil {
		s.submitError(c, err)
		return
	}
	if !res.Created {
		c.JSON(http.StatusOK, WebhookResponse{RunID: res.Run.ID, Reason: "run already active"})
		return
	}
	logger.Info("webhook queued run", "run_id", res.Run.ID, "reason", decision.Reason)
	c.JSON(http.StatusAccepted, WebhookResponse{Queued: true, RunID: res.Run.ID})
}

func (s *Server) createRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "validation failed: " + err.Error()})
		return
	}

	res, err := s.submitter.Submit(c.Request.Context(), req.IssueNumber, "", store.TriggerManual)
	if err != nil {
		s.submitError(c, err)
		return
	}
	if !res.Created {
		c.JSON(http.StatusConflict, res.Run)
		return
	}
	c.JSON(http.StatusAccepted, res.Run)
}

func (s *Server) submitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errors.ErrAlreadyQueued):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error()})
	case errors.Is(err, errors.ErrQueueFull), errors.Is(err, errors.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: err.Error()})
	case errors.Is(err, errors.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to queue run"})
	}
}

func (s *Server) listRuns(c *gin.Context) {
	q := store.RunQuery{Repo: s.repo}

	if v := c.Query("status"); v != "" {
		status, err := store.ParseStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
			return
		}
		q.Status = status
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset, "issue": &q.IssueNumber} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid " + name + ": " + v})
			return
		}
		*dst = n
	}
	if err := q.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, RunListResponse{Runs: runs, Limit: q.Limit, Offset: q.Offset})
}

func (s *Server) getRun(c *gin.Context) {
	id := c.Param("id")
	run, err := s.runs.GetRun(c.Request.Context(), id)
	var nf *errors.NotFoundError
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to fetch run"})
		return
	}

	events, err := s.runs.RunUsage(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to fetch usage"})
		return
	}
	c.JSON(http.StatusOK, RunResponse{Run: run, Usage: events})
}

// usage reports totals since the "since" parameter, given as RFC3339 or as
// a duration back from now ("24h").
func (s *Server) usage(c *gin.Context) {
	since := s.now().Add(-defaultUsageWindow)
	if v := c.Query("since"); v != "" {
		t, err := parseSince(v, s.now())
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
			return
		}
		since = t
	}

	q := store.UsageQuery{Since: since}
	totals, err := s.runs.UsageTotals(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to sum usage"})
		return
	}
	rows, err := s.runs.UsageBreakdown(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to group usage"})
		return
	}
	if rows == nil {
		rows = []store.UsageRow{}
	}
	c.JSON(http.StatusOK, UsageResponse{Since: since.UTC(), Totals: totals, Breakdown: rows})
}

// parseSince reads an RFC3339 time or a duration before now.
func parseSince(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return time.Time{}, errors.NewValidationError("since must be RFC3339 or a positive duration").
			WithField("since").WithValue(v)
	}
	return now.Add(-d), nil
}
