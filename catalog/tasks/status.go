package tasks

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

// Readiness of a single task, as reported by CheckTask. Pending doubles as
// the status of a task whose job has no recorded outcome.
const (
	Ready   = "ready"
	Pending = "pending"
)

// Status is one task's outcome joined with its record.
type Status struct {
	HumanName   string        `json:"human_name" yaml:"human_name"`
	RecordKey   string        `json:"record_key" yaml:"record_key"`
	TaskID      string        `json:"task_id" yaml:"task_id"`
	Kind        meta.TaskKind `json:"kind" yaml:"kind"`
	Status      string        `json:"status" yaml:"status"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueued_at" yaml:"enqueued_at"`
	CompletedAt *time.Time    `json:"date_done,omitempty" yaml:"date_done,omitempty"`
	Trace       string        `json:"traceback,omitempty" yaml:"traceback,omitempty"`
}

// Filter narrows PollStatus. The zero Filter matches every record.
type Filter struct {
	RecordKey string
}

// RecordStatus is an approved record with its newest task's status.
type RecordStatus struct {
	Record *meta.Record `json:"record" yaml:"record"`
	Latest *Status      `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// Tracker reconciles task handles with job outcomes on demand.
type Tracker struct {
	queue   *async.Queue
	records *store.Store
	logger  *zap.SugaredLogger
}

// NewTracker creates a status tracker.
func NewTracker(queue *async.Queue, records *store.Store, log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = logger.Logger
	}
	return &Tracker{queue: queue, records: records, logger: log.Named("tracker")}
}

var traceNewlines = strings.NewReplacer("\r\n", "\n", "\n\r", "\n", "\r", "\n")

// NormalizeTrace converts every newline convention in a stored trace to "\n".
func NormalizeTrace(trace string) string {
	return traceNewlines.Replace(trace)
}

func fromStore(ts store.TaskStatus) Status {
	status := ts.Status
	if status == "" {
		status = Pending
	}
	return Status{
		HumanName:   ts.HumanName,
		RecordKey:   ts.RecordKey,
		TaskID:      ts.TaskID,
		Kind:        ts.Kind,
		Status:      status,
		Error:       ts.Error,
		EnqueuedAt:  ts.EnqueuedAt,
		CompletedAt: ts.CompletedAt,
		Trace:       NormalizeTrace(ts.Trace),
	}
}

// PollStatus lists task outcomes matching f, newest dispatch first. The list
// is empty, not an error, when nothing has been dispatched or the tables are missing.
func (t *Tracker) PollStatus(ctx context.Context, f Filter) ([]Status, error) {
	rows, err := t.records.TaskStatuses(ctx, f.RecordKey)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(rows))
	for _, row := range rows {
		statuses = append(statuses, fromStore(row))
	}
	return statuses, nil
}

// LatestForApproved lists approved records with their newest task's status.
func (t *Tracker) LatestForApproved(ctx context.Context) ([]RecordStatus, error) {
	rows, err := t.records.ApprovedWithLatestStatus(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RecordStatus, 0, len(rows))
	for _, row := range rows {
		rs := RecordStatus{Record: row.Record}
		if row.Latest != nil {
			s := fromStore(*row.Latest)
			rs.Latest = &s
		}
		out = append(out, rs)
	}
	return out, nil
}

// CheckTask reports Ready once the job has finished, successfully or not, and
// Pending otherwise. Unknown jobs are Pending.
func (t *Tracker) CheckTask(ctx context.Context, jobID string) (string, error) {
	job, err := t.queue.GetJob(ctx, jobID)
	if errors.IsNotFoundError(err) {
		return Pending, nil
	}
	if err != nil {
		return "", err
	}
	if job.Status.IsTerminal() {
		return Ready, nil
	}
	return Pending, nil
}
