package tasks

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

var refreshPeriods = map[string]time.Duration{
	"daily":   24 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
	"yearly":  365 * 24 * time.Hour,
}

// RefreshPeriod maps an update frequency to how often the dataset should be
// reloaded. Free-form platform values such as "As needed" have no period.
func RefreshPeriod(frequency string) (time.Duration, bool) {
	d, ok := refreshPeriods[strings.ToLower(strings.TrimSpace(frequency))]
	return d, ok
}

// RefreshDue reports whether rec should be reloaded at now: it is approved,
// has been loaded at least once and its period has elapsed since.
func RefreshDue(rec *meta.Record, now time.Time) bool {
	if !rec.IsApproved() || rec.LastUpdate == nil {
		return false
	}
	period, ok := RefreshPeriod(rec.UpdateFrequency)
	if !ok {
		return false
	}
	return !now.Before(rec.LastUpdate.Add(period))
}

// Refresher dispatches update tasks for datasets whose update frequency has
// elapsed. It runs as a sweeper on the pulse ticker.
type Refresher struct {
	queue      *async.Queue
	records    *store.Store
	dispatcher *Dispatcher
	logger     *zap.SugaredLogger
}

// NewRefresher creates a refresher dispatching through dispatcher.
func NewRefresher(queue *async.Queue, records *store.Store, dispatcher *Dispatcher, log *zap.SugaredLogger) *Refresher {
	if log == nil {
		log = logger.Logger
	}
	return &Refresher{queue: queue, records: records, dispatcher: dispatcher, logger: log.Named("refresh")}
}

// Name identifies the sweeper in logs.
func (r *Refresher) Name() string { return "catalog.refresh" }

// Sweep dispatches one update for every due record without a load already
// queued or running.
func (r *Refresher) Sweep(ctx context.Context, now time.Time) (int, error) {
	records, err := r.records.ListByStatus(ctx, meta.StatusApproved)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if !RefreshDue(rec, now) || r.loadActive(ctx, rec) {
			continue
		}
		handle, err := r.dispatcher.Dispatch(ctx, meta.TaskUpdate, rec)
		if err != nil {
			r.logger.Warnw("Scheduled update not dispatched", logger.FieldRecordKey, rec.Key, logger.FieldError, err)
			continue
		}
		r.logger.Debugw("Scheduled update dispatched",
			logger.FieldRecordKey, rec.Key,
			logger.FieldJobID, handle.JobID,
			"update_freq", rec.UpdateFrequency)
		dispatched++
	}
	return dispatched, nil
}

func (r *Refresher) loadActive(ctx context.Context, rec *meta.Record) bool {
	for _, kind := range []meta.TaskKind{meta.TaskAdd, meta.TaskUpdate} {
		job, err := r.queue.FindActiveJobBySourceAndHandler(ctx, rec.Key, kind.HandlerName())
		if err != nil {
			r.logger.Warnw("Failed to look up active job", logger.FieldRecordKey, rec.Key, logger.FieldError, err)
			return true
		}
		if job != nil {
			return true
		}
	}
	return false
}
