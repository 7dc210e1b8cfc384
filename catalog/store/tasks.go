package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/logger"
)

// AppendTask records a dispatched job against a record.
func (s *Store) AppendTask(ctx context.Context, key string, handle meta.TaskHandle) error {
	return s.appendTask(ctx, s.conn, key, handle)
}

// AppendTaskTx records a dispatched job as part of tx.
func (s *Store) AppendTaskTx(ctx context.Context, tx *sql.Tx, key string, handle meta.TaskHandle) error {
	return s.appendTask(ctx, tx, key, handle)
}

func (s *Store) appendTask(ctx context.Context, ex db.Execer, key string, handle meta.TaskHandle) error {
	query := s.conn.Rebind(`INSERT INTO meta_tasks (record_key, job_id, kind, enqueued_at) VALUES (?, ?, ?, ?)`)

	_, err := ex.ExecContext(ctx, query, key, handle.JobID, string(handle.Kind), handle.EnqueuedAt.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(errors.ErrConflict, "job %s already recorded", handle.JobID)
		}
		return errors.Wrapf(err, "failed to record %s task for %s", handle.Kind, key)
	}
	return nil
}

func (s *Store) tasksFor(ctx context.Context, key string) ([]meta.TaskHandle, error) {
	query := s.conn.Rebind(`SELECT job_id, kind, enqueued_at FROM meta_tasks WHERE record_key = ? ORDER BY seq ASC`)

	rows, err := s.conn.QueryContext(ctx, query, key)
	if err != nil {
		if db.IsUndefinedTable(err) {
			s.logger.Warnw("Task table missing, loading record without tasks", logger.FieldRecordKey, key, logger.FieldError, err)
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load task handles")
	}
	defer rows.Close()

	var tasks []meta.TaskHandle
	for rows.Next() {
		var h meta.TaskHandle
		if err := rows.Scan(&h.JobID, &h.Kind, &h.EnqueuedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan task handle")
		}
		tasks = append(tasks, h)
	}
	return tasks, errors.Wrap(rows.Err(), "failed to iterate task handles")
}

// TaskStatus joins one task handle to its job's outcome.
// Status, CompletedAt and Trace are empty when no job row exists.
type TaskStatus struct {
	HumanName   string
	RecordKey   string
	TaskID      string
	Kind        meta.TaskKind
	EnqueuedAt  time.Time
	Status      string
	Error       string
	CompletedAt *time.Time
	Trace       string
}

const taskStatusSelect = `SELECT m.human_name, m.record_key, t.job_id, t.kind, t.enqueued_at,
		j.status, j.error, j.completed_at, j.trace
	FROM meta_master m
	JOIN meta_tasks t ON t.record_key = m.record_key
	LEFT JOIN async_jobs j ON j.id = t.job_id`

func scanTaskStatus(row rowScanner) (TaskStatus, error) {
	var (
		ts          TaskStatus
		status      sql.NullString
		errMsg      sql.NullString
		completedAt sql.NullTime
		trace       sql.NullString
	)
	err := row.Scan(&ts.HumanName, &ts.RecordKey, &ts.TaskID, &ts.Kind, &ts.EnqueuedAt,
		&status, &errMsg, &completedAt, &trace)
	if err != nil {
		return ts, err
	}

	ts.Status = status.String
	ts.Error = errMsg.String
	ts.Trace = trace.String
	if completedAt.Valid {
		t := completedAt.Time
		ts.CompletedAt = &t
	}
	return ts, nil
}

// TaskStatuses lists task outcomes, newest dispatch first. An empty key lists
// every record's tasks. Missing tables yield an empty list.
func (s *Store) TaskStatuses(ctx context.Context, key string) ([]TaskStatus, error) {
	query := taskStatusSelect
	var args []interface{}
	if key != "" {
		query += ` WHERE m.record_key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY t.seq DESC`

	rows, err := s.conn.QueryContext(ctx, s.conn.Rebind(query), args...)
	if err != nil {
		if db.IsUndefinedTable(err) {
			s.logger.Warnw("Task tables missing, reporting no status", logger.FieldError, err)
			return []TaskStatus{}, nil
		}
		return nil, errors.Wrap(err, "failed to query task status")
	}
	defer rows.Close()

	statuses := []TaskStatus{}
	for rows.Next() {
		ts, err := scanTaskStatus(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task status")
		}
		statuses = append(statuses, ts)
	}
	return statuses, errors.Wrap(rows.Err(), "failed to iterate task status")
}

// TaskStatusByJob returns the status row for one dispatched job.
func (s *Store) TaskStatusByJob(ctx context.Context, jobID string) (TaskStatus, error) {
	query := s.conn.Rebind(taskStatusSelect + ` WHERE t.job_id = ?`)

	ts, err := scanTaskStatus(s.conn.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return ts, errors.Wrapf(errors.ErrNotFound, "task %s", jobID)
	}
	if err != nil {
		return ts, errors.Wrap(err, "failed to query task status")
	}
	return ts, nil
}

// RecordStatus pairs an approved record with its most recent task outcome.
type RecordStatus struct {
	Record *meta.Record
	Latest *TaskStatus // nil when nothing has been dispatched
}

// ApprovedWithLatestStatus lists approved records with the status of their
// newest task. When the task tables are missing, records are listed without status.
func (s *Store) ApprovedWithLatestStatus(ctx context.Context) ([]RecordStatus, error) {
	records, err := s.ListByStatus(ctx, meta.StatusApproved)
	if err != nil {
		return nil, err
	}

	statuses, err := s.TaskStatuses(ctx, "")
	if err != nil {
		return nil, err
	}

	// TaskStatuses is newest first, so the first row seen per record wins
	latest := make(map[string]TaskStatus, len(records))
	for _, ts := range statuses {
		if _, seen := latest[ts.RecordKey]; !seen {
			latest[ts.RecordKey] = ts
		}
	}

	out := make([]RecordStatus, 0, len(records))
	for _, rec := range records {
		rs := RecordStatus{Record: rec}
		if ts, ok := latest[rec.Key]; ok {
			ts := ts
			rs.Latest = &ts
		}
		out = append(out, rs)
	}
	return out, nil
}
