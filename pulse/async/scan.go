package async

import (
	"database/sql"
)

// JobScanArgs holds the nullable columns scanned alongside a Job.
type JobScanArgs struct {
	Payload     sql.NullString
	ErrorMsg    sql.NullString
	Trace       sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns scan destinations in the order of StandardJobSelectColumns
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.HandlerName,
		&job.Source,
		&job.Status,
		&job.Progress.Current,
		&job.Progress.Total,
		&args.ErrorMsg,
		&args.Trace,
		&args.Payload,
		&job.RetryCount,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// ProcessJobScanArgs copies the scanned nullable columns into the job.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) {
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.Trace.Valid {
		job.Trace = args.Trace.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a *sql.Row or *sql.Rows
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	args := GetJobScanArgs()
	if err := row.Scan(GetJobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	ProcessJobScanArgs(&job, args)
	return &job, nil
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, handler_name, source, status,
		progress_current, progress_total,
		error, trace, payload, retry_count,
		created_at, started_at, completed_at, updated_at`
}
