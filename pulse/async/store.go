package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
)

// claimAttempts bounds how often ClaimNextQueued retries after losing a race
// for the oldest job to another worker.
const claimAttempts = 5

// Store handles persistence of async jobs
type Store struct {
	conn *db.Conn
}

// NewStore creates a new async job store
func NewStore(conn *db.Conn) *Store {
	return &Store{conn: conn}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	return s.insertJob(ctx, s.conn, job)
}

// CreateJobTx inserts job as part of tx.
func (s *Store) CreateJobTx(ctx context.Context, tx *sql.Tx, job *Job) error {
	return s.insertJob(ctx, tx, job)
}

func (s *Store) insertJob(ctx context.Context, ex db.Execer, job *Job) error {
	query := s.conn.Rebind(`
		INSERT INTO async_jobs (
			id, handler_name, source, status,
			progress_current, progress_total,
			payload, retry_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := ex.ExecContext(ctx, query,
		job.ID,
		job.HandlerName,
		job.Source,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullString(string(job.Payload)),
		job.RetryCount,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID. A missing job is reported as errors.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := s.conn.Rebind(`SELECT ` + StandardJobSelectColumns() + ` FROM async_jobs WHERE id = ?`)

	job, err := scanJob(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return job, nil
}

// UpdateJob updates an existing job in the database
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	query := s.conn.Rebind(`
		UPDATE async_jobs
		SET status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    error = ?,
		    trace = ?,
		    retry_count = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`)

	_, err := s.conn.ExecContext(ctx, query,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullString(job.Error),
		nullString(job.Trace),
		job.RetryCount,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	return nil
}

// ClaimNextQueued atomically moves the oldest queued job to running and returns it.
// Returns nil when the queue is empty. The conditional UPDATE makes the claim safe
// across worker processes sharing one database.
func (s *Store) ClaimNextQueued(ctx context.Context) (*Job, error) {
	selectQuery := s.conn.Rebind(`
		SELECT id FROM async_jobs
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`)
	claimQuery := s.conn.Rebind(`
		UPDATE async_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id string
		err := s.conn.QueryRowContext(ctx, selectQuery, JobStatusQueued).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to find queued job")
		}

		now := time.Now().UTC()
		result, err := s.conn.ExecContext(ctx, claimQuery, JobStatusRunning, now, now, id, JobStatusQueued)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim job %s", id)
		}
		claimed, err := result.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get rows affected")
		}
		if claimed == 1 {
			return s.GetJob(ctx, id)
		}
		// Another worker claimed it first; look again
	}

	return nil, nil
}

// ListJobs returns jobs, newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM async_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.conn.QueryContext(ctx, s.conn.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListActiveJobs returns all jobs that are currently queued or running
func (s *Store) ListActiveJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := s.conn.Rebind(`SELECT ` + StandardJobSelectColumns() + `
		FROM async_jobs
		WHERE status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT ?`)

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "active jobs")
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM async_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}

	return counts, nil
}

// FindActiveJobBySourceAndHandler finds a queued or running job by source and handler name.
// Returns nil if no active job found for this source.
func (s *Store) FindActiveJobBySourceAndHandler(ctx context.Context, source string, handlerName string) (*Job, error) {
	query := s.conn.Rebind(`SELECT ` + StandardJobSelectColumns() + `
		FROM async_jobs
		WHERE source = ?
		  AND handler_name = ?
		  AND status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1`)

	job, err := scanJob(s.conn.QueryRowContext(ctx, query, source, handlerName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No active job found - this is not an error
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job by source and handler")
	}

	return job, nil
}
