package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fixit-bot/fixit/internal/errors"
)

func mustEnqueue(t *testing.T, q *Queue, issue int) *Job {
	t.Helper()
	job := NewJob(issue, "webhook")
	ok, err := q.Enqueue(job)
	if err != nil || !ok {
		t.Fatalf("Enqueue(%d) = %v, %v", issue, ok, err)
	}
	return job
}

func TestEnqueue_Deduplicates(t *testing.T) {
	q := New()
	first := mustEnqueue(t, q, 12)

	ok, err := q.Enqueue(NewJob(12, "poller"))
	if err != nil || ok {
		t.Errorf("duplicate Enqueue = %v, %v; want false, nil", ok, err)
	}
	if !q.Pending(12) {
		t.Error("issue 12 should be pending")
	}

	// Still deduplicated while running.
	job, err := q.TryClaim("w1")
	if err != nil || job == nil || job.ID != first.ID {
		t.Fatalf("TryClaim = %v, %v", job, err)
	}
	if err := q.MarkRunning(job.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := q.Enqueue(NewJob(12, "poller")); ok {
		t.Error("running issue should not be enqueued again")
	}

	// Finished issues may be enqueued again.
	if err := q.Complete(job.ID); err != nil {
		t.Fatal(err)
	}
	if q.Pending(12) {
		t.Error("issue 12 should no longer be pending")
	}
	mustEnqueue(t, q, 12)
}

func TestEnqueue_Validation(t *testing.T) {
	q := New(WithCapacity(1))
	if _, err := q.Enqueue(&Job{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected validation error, got %v", err)
	}
	mustEnqueue(t, q, 1)
	if _, err := q.Enqueue(NewJob(2, "poller")); !errors.Is(err, errors.ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	q.Close()
	if _, err := q.Enqueue(NewJob(3, "poller")); !errors.Is(err, errors.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestClaim_FIFO(t *testing.T) {
	q := New()
	a := mustEnqueue(t, q, 1)
	b := mustEnqueue(t, q, 2)

	ctx := context.Background()
	got, err := q.Claim(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID || got.Status != JobClaimed || got.ClaimedBy != "w1" || got.Attempts != 1 {
		t.Errorf("first claim = %+v", got)
	}
	if got.ClaimedAt == nil {
		t.Error("ClaimedAt should be set")
	}
	got2, err := q.Claim(ctx, "w2")
	if err != nil || got2.ID != b.ID {
		t.Errorf("second claim = %+v, %v", got2, err)
	}
	if job, _ := q.TryClaim("w3"); job != nil {
		t.Errorf("expected no job, got %+v", job)
	}
	if _, err := q.Claim(ctx, ""); err == nil {
		t.Error("empty worker should be rejected")
	}
}

func TestClaim_BlocksUntilEnqueue(t *testing.T) {
	q := New()
	result := make(chan *Job, 1)
	go func() {
		job, _ := q.Claim(context.Background(), "w1")
		result <- job
	}()

	select {
	case <-result:
		t.Fatal("Claim returned before a job was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	want := mustEnqueue(t, q, 5)
	select {
	case got := <-result:
		if got == nil || got.ID != want.ID {
			t.Errorf("Claim = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Claim did not wake up")
	}
}

func TestClaim_ContextAndClose(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Claim(ctx, "w1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := q.Claim(context.Background(), "w1")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()
	select {
	case err := <-done:
		if !errors.Is(err, errors.ErrQueueClosed) {
			t.Errorf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake Claim")
	}
}

func TestFail_Retry(t *testing.T) {
	q := New(WithMaxAttempts(2))
	a := mustEnqueue(t, q, 1)
	b := mustEnqueue(t, q, 2)

	job, _ := q.TryClaim("w1")
	requeued, err := q.Fail(job.ID, "rate limited", true)
	if err != nil || !requeued {
		t.Fatalf("Fail = %v, %v; want requeued", requeued, err)
	}

	// The retried job goes behind issue 2.
	next, _ := q.TryClaim("w1")
	if next.ID != b.ID {
		t.Errorf("expected issue 2 next, got %d", next.IssueNumber)
	}
	again, _ := q.TryClaim("w1")
	if again.ID != a.ID || again.Attempts != 2 || again.LastError != "rate limited" {
		t.Errorf("retried job = %+v", again)
	}

	// Attempts exhausted.
	requeued, err = q.Fail(again.ID, "rate limited", true)
	if err != nil || requeued {
		t.Errorf("Fail = %v, %v; want permanent failure", requeued, err)
	}
	if got := q.Get(a.ID); got.Status != JobFailed || got.CompletedAt == nil {
		t.Errorf("job = %+v", got)
	}
	if q.Pending(1) {
		t.Error("failed issue should not be pending")
	}
}

func TestFail_NotRetryable(t *testing.T) {
	q := New()
	a := mustEnqueue(t, q, 1)
	job, _ := q.TryClaim("w1")
	requeued, err := q.Fail(job.ID, "no instructions", false)
	if err != nil || requeued {
		t.Errorf("Fail = %v, %v", requeued, err)
	}
	if q.Get(a.ID).Status != JobFailed {
		t.Error("job should be failed")
	}
}

func TestTransitions(t *testing.T) {
	q := New()
	a := mustEnqueue(t, q, 1)

	if err := q.MarkRunning(a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkRunning on pending = %v", err)
	}
	if err := q.Complete(a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete on pending = %v", err)
	}
	if _, err := q.Fail(a.ID, "x", true); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fail on pending = %v", err)
	}
	if err := q.Complete("missing"); !errors.Is(err, errors.ErrJobNotFound) {
		t.Errorf("Complete(missing) = %v", err)
	}
	if q.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}
}

func TestRelease(t *testing.T) {
	q := New()
	a := mustEnqueue(t, q, 1)
	job, _ := q.TryClaim("w1")
	if err := q.MarkRunning(job.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.Release(job.ID); err != nil {
		t.Fatal(err)
	}
	got := q.Get(a.ID)
	if got.Status != JobPending || got.Attempts != 0 || got.ClaimedBy != "" {
		t.Errorf("released job = %+v", got)
	}
	if err := q.Release(job.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Release on pending = %v", err)
	}
}

func TestReleaseStaleClaimed(t *testing.T) {
	q := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	a := mustEnqueue(t, q, 1)
	b := mustEnqueue(t, q, 2)
	_, _ = q.TryClaim("w1")
	claimedB, _ := q.TryClaim("w2")
	if err := q.MarkRunning(claimedB.ID); err != nil {
		t.Fatal(err)
	}

	released := q.ReleaseStaleClaimed(now.Add(time.Minute))
	if len(released) != 1 || released[0] != a.ID {
		t.Errorf("released = %v, want [%s]", released, a.ID)
	}
	if q.Get(b.ID).Status != JobRunning {
		t.Error("running jobs are not stale claims")
	}
}

func TestStatusAndSnapshot(t *testing.T) {
	q := New()
	mustEnqueue(t, q, 1)
	mustEnqueue(t, q, 2)
	mustEnqueue(t, q, 3)
	j1, _ := q.TryClaim("w1")
	_ = q.MarkRunning(j1.ID)
	_ = q.Complete(j1.ID)
	j2, _ := q.TryClaim("w1")
	_ = q.MarkRunning(j2.ID)

	s := q.Status()
	want := QueueStatus{Total: 3, Pending: 1, Running: 1, Completed: 1}
	if s != want {
		t.Errorf("Status() = %+v, want %+v", s, want)
	}
	if s.Active() != 2 {
		t.Errorf("Active() = %d", s.Active())
	}

	snap := q.Snapshot()
	if len(snap) != 3 || snap[0].IssueNumber != 1 || snap[2].IssueNumber != 3 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	snap[0].Status = JobFailed
	if q.Get(j1.ID).Status != JobCompleted {
		t.Error("Snapshot must return copies")
	}
}

func TestPruneFinished(t *testing.T) {
	q := New()
	q.retain = 2
	for i := 1; i <= 4; i++ {
		mustEnqueue(t, q, i)
		job, _ := q.TryClaim("w1")
		_ = q.Complete(job.ID)
	}
	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].IssueNumber != 3 {
		t.Errorf("Snapshot() after prune = %+v", snap)
	}
}

func TestConcurrentClaims(t *testing.T) {
	q := New()
	const jobs = 50
	for i := 1; i <= jobs; i++ {
		mustEnqueue(t, q, i)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]bool)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.TryClaim("worker")
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				if claimed[job.ID] {
					t.Errorf("job %s claimed twice", job.ID)
				}
				claimed[job.ID] = true
				mu.Unlock()
				_ = q.Complete(job.ID)
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Errorf("claimed %d jobs, want %d", len(claimed), jobs)
	}
}

func TestAttachRun(t *testing.T) {
	q := New()
	a := mustEnqueue(t, q, 5)
	if err := q.AttachRun(a.ID, "run-1"); err != nil {
		t.Fatal(err)
	}
	job, _ := q.TryClaim("w1")
	if job.RunID != "run-1" {
		t.Errorf("RunID = %q", job.RunID)
	}
	if err := q.AttachRun("missing", "run-2"); !errors.Is(err, errors.ErrJobNotFound) {
		t.Errorf("AttachRun(missing) = %v", err)
	}
}
