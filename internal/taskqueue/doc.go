// Package taskqueue holds the fix jobs waiting for a worker.
//
// Jobs are keyed by issue number: while a job for an issue is pending,
// claimed or running, enqueueing the same issue again is a no-op. Workers
// block in [Queue.Claim] until a job is available, then report the outcome
// with [Queue.Complete] or [Queue.Fail]. Retryable failures go back to the
// end of the queue until the job's attempts are used up.
//
// Usage:
//
//	q := taskqueue.New(taskqueue.WithMaxAttempts(3))
//	q.Enqueue(taskqueue.NewJob(42, "webhook"))
//
//	job, err := q.Claim(ctx, "worker-1")
//	if err == nil {
//	    q.MarkRunning(job.ID)
//	    // ... process ...
//	    q.Complete(job.ID)
//	}
//
// [FileLock] keeps two fixit processes from consuming jobs for the same
// repository clone at once.
package taskqueue
