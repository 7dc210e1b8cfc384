// Package async provides persistent background jobs with pulse-driven workers.
package async

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/datacat/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no worker will touch a job in this status again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress represents job progress information
type Progress struct {
	Current int `json:"current,omitempty"` // Completed operations
	Total   int `json:"total,omitempty"`   // Total operations
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job is a unit of background work.
//
// The async package is domain-agnostic: HandlerName routes the job to a
// registered JobHandler and Payload is owned by that handler.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`      // "catalog.add", "catalog.delete"
	Payload     json.RawMessage `json:"payload,omitempty"` // Handler-specific data (domain-owned)
	Source      string          `json:"source"`            // For deduplication and logging
	Status      JobStatus       `json:"status"`
	Progress    Progress        `json:"progress,omitempty"`
	Error       string          `json:"error,omitempty"`
	Trace       string          `json:"trace,omitempty"` // %+v rendering of the final error
	RetryCount  int             `json:"retry_count,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJobWithPayload creates a queued job with a fresh uuid.
//
// Example:
//
//	payload, _ := json.Marshal(TaskPayload{RecordKey: rec.Key})
//	job, _ := async.NewJobWithPayload("catalog.add", rec.Key, payload)
func NewJobWithPayload(handlerName string, source string, payload json.RawMessage) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}

	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed, keeping the message and the full stack rendering.
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.Trace = fmt.Sprintf("%+v", err)
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now().UTC()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Requeue puts the job back in the queue for another attempt.
func (j *Job) Requeue(reason string) {
	j.Status = JobStatusQueued
	j.Error = reason
	j.StartedAt = nil
	j.UpdatedAt = time.Now().UTC()
}

// UpdateProgress updates the job's progress
func (j *Job) UpdateProgress(current int) {
	j.Progress.Current = current
	j.UpdatedAt = time.Now().UTC()
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return errors.Newf("job %s has no payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return errors.Wrapf(err, "failed to unmarshal payload for job %s", j.ID)
	}
	return nil
}
