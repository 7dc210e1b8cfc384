package async

import (
	"context"

	"go.uber.org/zap"
)

// ProgressEmitter receives progress from a running handler.
type ProgressEmitter interface {
	EmitStage(stage, message string)
	EmitTotal(total int)
	EmitRows(count int)
	EmitError(stage string, err error)
}

// JobProgressEmitter persists handler progress onto the job row.
type JobProgressEmitter struct {
	ctx   context.Context
	job   *Job
	queue *Queue
	log   *zap.SugaredLogger // job_id pre-configured
}

// NewJobProgressEmitter creates a new progress emitter for an async job.
func NewJobProgressEmitter(ctx context.Context, job *Job, queue *Queue, baseLogger *zap.SugaredLogger) *JobProgressEmitter {
	return &JobProgressEmitter{
		ctx:   ctx,
		job:   job,
		queue: queue,
		log:   baseLogger.With("job_id", job.ID),
	}
}

// EmitStage saves the job on a stage transition.
func (e *JobProgressEmitter) EmitStage(stage, message string) {
	e.log.Debugw("Job stage", "stage", stage, "message", message)
	if err := e.queue.UpdateJob(e.ctx, e.job); err != nil {
		e.log.Warnw("Failed to update job for stage",
			"stage", stage,
			"error", err,
		)
	}
}

// EmitTotal records the number of operations the job expects to perform.
func (e *JobProgressEmitter) EmitTotal(total int) {
	e.job.Progress.Total = total
	e.job.UpdateProgress(e.job.Progress.Current)
	if err := e.queue.UpdateJob(e.ctx, e.job); err != nil {
		e.log.Warnw("Failed to update job total", "total", total, "error", err)
	}
}

// EmitRows advances progress by count rows.
func (e *JobProgressEmitter) EmitRows(count int) {
	e.job.UpdateProgress(e.job.Progress.Current + count)
	if err := e.queue.UpdateJob(e.ctx, e.job); err != nil {
		e.log.Warnw("Failed to update job progress",
			"count", count,
			"error", err,
		)
	}
}

// EmitError logs a classified error and records its message on the job.
// The worker pool still decides whether the job fails or retries.
func (e *JobProgressEmitter) EmitError(stage string, err error) {
	ec := ClassifyError(stage, err)

	e.log.Errorw("Job error",
		"stage", stage,
		"error_code", ec.Code,
		"error", err,
		"retryable", ec.Retryable,
	)

	e.job.Error = ec.Message
	if err := e.queue.UpdateJob(e.ctx, e.job); err != nil {
		e.log.Warnw("Failed to update job error state",
			"error", err,
		)
	}
}

// NopEmitter discards progress. Handlers run outside a worker use it.
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string) {}
func (NopEmitter) EmitTotal(int)            {}
func (NopEmitter) EmitRows(int)             {}
func (NopEmitter) EmitError(string, error)  {}
