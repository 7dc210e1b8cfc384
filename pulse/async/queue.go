package async

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
)

// Queue is the job queue shared by dispatchers and workers.
// Jobs live in the database, so any process sharing it sees the same queue.
type Queue struct {
	store *Store
}

// NewQueue creates a new job queue
func NewQueue(conn *db.Conn) *Queue {
	return &Queue{store: NewStore(conn)}
}

// Store exposes the underlying job store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	return enqueueError(q.store.CreateJob(ctx, job), job)
}

// EnqueueTx adds job as part of tx. The job is visible to workers once tx commits.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, job *Job) error {
	return enqueueError(q.store.CreateJobTx(ctx, tx, job), job)
}

func enqueueError(err error, job *Job) error {
	if err == nil {
		return nil
	}
	err = errors.Wrap(err, "failed to enqueue job")
	err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
	err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
	return err
}

// Dequeue claims the oldest queued job and marks it as running.
// Returns nil when nothing is queued.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	job, err := q.store.ClaimNextQueued(ctx)
	if err != nil {
		err = errors.Wrap(err, "failed to dequeue job")
		err = errors.WithDetail(err, fmt.Sprintf("Status filter: %s", JobStatusQueued))
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(ctx context.Context, job *Job) error {
	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	return nil
}

// CompleteJob marks a job as completed
func (q *Queue) CompleteJob(ctx context.Context, job *Job) error {
	job.Complete()

	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to complete job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	return nil
}

// FailJob marks a job as failed, recording the error message and its stack trace
func (q *Queue) FailJob(ctx context.Context, job *Job, jobErr error) error {
	job.Fail(jobErr)

	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to mark job as failed")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
		return err
	}

	return nil
}

// CancelJob cancels a job that has not finished yet
func (q *Queue) CancelJob(ctx context.Context, id string, reason string) error {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		err = errors.Wrapf(err, "failed to cancel job %s", id)
		err = errors.WithDetail(err, fmt.Sprintf("Cancel reason: %s", reason))
		return err
	}

	if job.Status.IsTerminal() {
		err := errors.Newf("job %s already finished (status: %s)", id, job.Status)
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return err
	}

	job.Cancel(reason)

	return q.UpdateJob(ctx, job)
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	return q.store.ListJobs(ctx, status, limit)
}

// ListActiveJobs returns all queued or running jobs
func (q *Queue) ListActiveJobs(ctx context.Context, limit int) ([]*Job, error) {
	return q.store.ListActiveJobs(ctx, limit)
}

// FindActiveJobBySourceAndHandler finds a queued or running job by source and handler name.
func (q *Queue) FindActiveJobBySourceAndHandler(ctx context.Context, source string, handlerName string) (*Job, error) {
	return q.store.FindActiveJobBySourceAndHandler(ctx, source, handlerName)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect queue stats")
	}

	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Cancelled: counts[JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}

	return stats, nil
}

// GetJobCounts returns quick counts of queued and running jobs (for system metrics)
func (q *Queue) GetJobCounts(ctx context.Context) (queued int, running int, err error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to count jobs")
	}
	return counts[JobStatusQueued], counts[JobStatusRunning], nil
}
