// Package tasks dispatches catalog background work onto the pulse queue and
// reports its outcome.
package tasks

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

// Payload is the body of every catalog job.
type Payload struct {
	RecordKey string `json:"record_key"`
}

// DecodePayload reads the record key from a catalog job.
func DecodePayload(job *async.Job) (Payload, error) {
	var p Payload
	if err := job.DecodePayload(&p); err != nil {
		return p, async.Permanent(errors.Wrap(errors.ErrInvalidRequest, err.Error()))
	}
	if p.RecordKey == "" {
		return p, async.Permanent(errors.NewInvalidRequestError("job %s has no record_key", job.ID))
	}
	return p, nil
}

// Dispatcher enqueues catalog jobs and records their handles.
type Dispatcher struct {
	queue   *async.Queue
	records *store.Store
	logger  *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher writing jobs to queue and handles to records.
func NewDispatcher(queue *async.Queue, records *store.Store, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = logger.Logger
	}
	return &Dispatcher{queue: queue, records: records, logger: log.Named("dispatch")}
}

// Dispatch enqueues a kind job for rec, appends its handle to the record and
// returns without waiting for the job.
//
// An update dispatched while another update for the record is still queued
// returns the queued job's handle. A delete cancels queued add and update jobs
// for the record, since they would load data that is about to be dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, kind meta.TaskKind, rec *meta.Record) (meta.TaskHandle, error) {
	if !meta.IsValidTaskKind(kind) {
		return meta.TaskHandle{}, errors.NewInvalidRequestError("unknown task kind %q", kind)
	}
	log := d.logger.With(logger.FieldRecordKey, rec.Key, logger.FieldTaskKind, kind)

	switch kind {
	case meta.TaskUpdate:
		if handle, ok := d.queuedHandle(ctx, rec, kind); ok {
			log.Infow("Update already queued", logger.FieldJobID, handle.JobID)
			return handle, nil
		}
	case meta.TaskDelete:
		d.cancelQueued(ctx, rec, log, meta.TaskAdd, meta.TaskUpdate)
	}

	job, err := newJob(kind, rec.Key)
	if err != nil {
		return meta.TaskHandle{}, err
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return meta.TaskHandle{}, errors.Wrapf(err, "failed to enqueue %s for %s", kind, rec.Key)
	}

	handle := meta.TaskHandle{JobID: job.ID, Kind: kind, EnqueuedAt: job.CreatedAt}
	if err := d.records.AppendTask(ctx, rec.Key, handle); err != nil {
		// An untracked job would be invisible to status polling
		if cancelErr := d.queue.CancelJob(context.WithoutCancel(ctx), job.ID, "task handle not recorded"); cancelErr != nil {
			log.Warnw("Failed to cancel untracked job", logger.FieldJobID, job.ID, logger.FieldError, cancelErr)
		}
		return meta.TaskHandle{}, err
	}
	rec.Tasks = append(rec.Tasks, handle)

	log.Infow("Task dispatched", logger.FieldJobID, job.ID)
	return handle, nil
}

// Approve takes the pending→approved edge for key and enqueues its add job
// in one transaction. A failed enqueue leaves the record pending, so retrying
// Approve dispatches exactly one add. transitioned is false when the record
// was already approved; nothing is dispatched then.
func (d *Dispatcher) Approve(ctx context.Context, key string) (handle meta.TaskHandle, transitioned bool, err error) {
	tx, err := d.records.Conn().BeginTx(ctx, nil)
	if err != nil {
		return meta.TaskHandle{}, false, errors.Wrap(err, "failed to begin approval")
	}
	defer tx.Rollback()

	transitioned, err = d.records.ApproveTx(ctx, tx, key)
	if err != nil || !transitioned {
		return meta.TaskHandle{}, false, err
	}

	job, err := newJob(meta.TaskAdd, key)
	if err != nil {
		return meta.TaskHandle{}, false, err
	}
	if err := d.queue.EnqueueTx(ctx, tx, job); err != nil {
		return meta.TaskHandle{}, false, errors.Wrapf(err, "failed to enqueue %s for %s", meta.TaskAdd, key)
	}
	handle = meta.TaskHandle{JobID: job.ID, Kind: meta.TaskAdd, EnqueuedAt: job.CreatedAt}
	if err := d.records.AppendTaskTx(ctx, tx, key, handle); err != nil {
		return meta.TaskHandle{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return meta.TaskHandle{}, false, errors.Wrap(err, "failed to commit approval")
	}

	d.logger.Infow("Task dispatched",
		logger.FieldRecordKey, key,
		logger.FieldTaskKind, meta.TaskAdd,
		logger.FieldJobID, job.ID)
	return handle, true, nil
}

func newJob(kind meta.TaskKind, key string) (*async.Job, error) {
	payload, err := json.Marshal(Payload{RecordKey: key})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payload")
	}
	return async.NewJobWithPayload(kind.HandlerName(), key, payload)
}

// queuedHandle finds a still-queued job of kind for rec among its handles.
func (d *Dispatcher) queuedHandle(ctx context.Context, rec *meta.Record, kind meta.TaskKind) (meta.TaskHandle, bool) {
	job, err := d.queue.FindActiveJobBySourceAndHandler(ctx, rec.Key, kind.HandlerName())
	if err != nil || job == nil || job.Status != async.JobStatusQueued {
		return meta.TaskHandle{}, false
	}
	for _, h := range rec.Tasks {
		if h.JobID == job.ID {
			return h, true
		}
	}
	return meta.TaskHandle{}, false
}

func (d *Dispatcher) cancelQueued(ctx context.Context, rec *meta.Record, log *zap.SugaredLogger, kinds ...meta.TaskKind) {
	for _, kind := range kinds {
		job, err := d.queue.FindActiveJobBySourceAndHandler(ctx, rec.Key, kind.HandlerName())
		if err != nil {
			log.Warnw("Failed to look up queued job", logger.FieldError, err)
			continue
		}
		if job == nil || job.Status != async.JobStatusQueued {
			continue
		}
		if err := d.queue.CancelJob(ctx, job.ID, "superseded by delete"); err != nil {
			log.Warnw("Failed to cancel queued job", logger.FieldJobID, job.ID, logger.FieldError, err)
			continue
		}
		log.Infow("Cancelled queued job before delete", logger.FieldJobID, job.ID, "cancelled_kind", kind)
	}
}
