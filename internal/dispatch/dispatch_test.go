package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixit-bot/fixit/internal/config"
	"github.com/fixit-bot/fixit/internal/errors"
	"github.com/fixit-bot/fixit/internal/store"
	"github.com/fixit-bot/fixit/internal/taskqueue"
)

func setup(t *testing.T, opts ...taskqueue.Option) (*Dispatcher, *store.Repository, *taskqueue.Queue) {
	t.Helper()
	db, err := store.Open(config.StoreConfig{Driver: store.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	repo := store.NewRepository(db, nil)
	q := taskqueue.New(opts...)
	return New(repo, q, "acme/widgets", nil), repo, q
}

func TestSubmit(t *testing.T) {
	d, repo, q := setup(t)
	ctx := context.Background()

	res, err := d.Submit(ctx, 42, "Fix README typo", store.TriggerWebhook)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, store.StatusQueued, res.Run.Status)

	job, err := q.TryClaim("w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, res.Run.ID, job.RunID)
	assert.Equal(t, 42, job.IssueNumber)

	stored, err := repo.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix README typo", stored.IssueTitle)
}

func TestSubmit_ActiveRunIsReused(t *testing.T) {
	d, _, q := setup(t)
	ctx := context.Background()

	first, err := d.Submit(ctx, 7, "", store.TriggerPoller)
	require.NoError(t, err)

	second, err := d.Submit(ctx, 7, "", store.TriggerWebhook)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, 1, q.Status().Pending)
}

func TestSubmit_QueueFullFailsRun(t *testing.T) {
	d, repo, _ := setup(t, taskqueue.WithCapacity(1))
	ctx := context.Background()

	_, err := d.Submit(ctx, 1, "", store.TriggerPoller)
	require.NoError(t, err)

	_, err = d.Submit(ctx, 2, "", store.TriggerPoller)
	assert.ErrorIs(t, err, errors.ErrQueueFull)

	active, err := repo.FindActiveRun(ctx, "acme/widgets", 2)
	require.NoError(t, err)
	assert.Nil(t, active, "the unqueued run should not stay active")
}

func TestSubmit_RetryPendingKeepsIssueBlocked(t *testing.T) {
	d, repo, q := setup(t)
	ctx := context.Background()
	now := time.Now()

	first, err := d.Submit(ctx, 7, "", store.TriggerWebhook)
	require.NoError(t, err)
	job, err := q.TryClaim("w1")
	require.NoError(t, err)
	require.NotNil(t, job)

	// The worker hits a retryable failure: the job goes back to the queue
	// and the run is requeued with it.
	run, err := repo.GetRun(ctx, first.Run.ID)
	require.NoError(t, err)
	require.NoError(t, run.Transition(store.StatusRunning, now))
	require.NoError(t, repo.UpdateRun(ctx, run))
	require.NoError(t, run.Requeue("rate limited", now))
	require.NoError(t, repo.UpdateRun(ctx, run))
	requeued, err := q.Fail(job.ID, "rate limited", true)
	require.NoError(t, err)
	require.True(t, requeued)

	second, err := d.Submit(ctx, 7, "", store.TriggerManual)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, 1, q.Status().Pending)
}

func TestSubmit_AlreadyQueuedIsRolledBack(t *testing.T) {
	d, repo, q := setup(t)
	ctx := context.Background()

	// A job for the issue is in the queue but the store has no active run.
	ok, err := q.Enqueue(taskqueue.NewJob(9, store.TriggerPoller))
	require.NoError(t, err)
	require.True(t, ok)

	res, err := d.Submit(ctx, 9, "", store.TriggerWebhook)
	assert.ErrorIs(t, err, errors.ErrAlreadyQueued)
	assert.Nil(t, res)

	active, err := repo.FindActiveRun(ctx, "acme/widgets", 9)
	require.NoError(t, err)
	assert.Nil(t, active, "a run no job will process must not stay queued")
	assert.Equal(t, 1, q.Status().Total)
}

func TestSubmit_Validation(t *testing.T) {
	d, _, _ := setup(t)
	_, err := d.Submit(context.Background(), 0, "", store.TriggerCLI)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestRecover(t *testing.T) {
	d, repo, _ := setup(t)
	ctx := context.Background()

	queued := store.NewRun("acme/widgets", 1, "", store.TriggerWebhook)
	require.NoError(t, repo.CreateRun(ctx, queued))
	running := store.NewRun("acme/widgets", 2, "", store.TriggerPoller)
	require.NoError(t, repo.CreateRun(ctx, running))
	require.NoError(t, running.Transition(store.StatusRunning, running.CreatedAt))
	require.NoError(t, repo.UpdateRun(ctx, running))
	other := store.NewRun("acme/other", 3, "", store.TriggerWebhook)
	require.NoError(t, repo.CreateRun(ctx, other))

	// A fresh queue, as after a restart.
	q := taskqueue.New()
	d = New(repo, q, "acme/widgets", nil)

	n, err := d.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, q.Pending(1))
	assert.True(t, q.Pending(2))
	assert.False(t, q.Pending(3))

	n, err = d.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already queued runs are not queued twice")
}
