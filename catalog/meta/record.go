// Package meta defines the catalog's metadata record and builds it from a
// resolved dataset description plus submitter input.
package meta

import (
	"time"
)

// ApprovalStatus is a record's position in the approval lifecycle.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
)

// TaskKind names the background work a record can have dispatched.
type TaskKind string

const (
	TaskAdd    TaskKind = "add"
	TaskUpdate TaskKind = "update"
	TaskDelete TaskKind = "delete"
)

// IsValidTaskKind reports whether k is a known kind.
func IsValidTaskKind(k TaskKind) bool {
	switch k {
	case TaskAdd, TaskUpdate, TaskDelete:
		return true
	}
	return false
}

// HandlerName is the pulse handler that executes this kind of task.
func (k TaskKind) HandlerName() string {
	return "catalog." + string(k)
}

// TaskHandle references one dispatched background job.
type TaskHandle struct {
	JobID      string    `json:"job_id" yaml:"job_id"`
	Kind       TaskKind  `json:"kind" yaml:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at" yaml:"enqueued_at"`
}

// Record is the canonical catalog entry for a dataset.
type Record struct {
	Key          string `json:"record_key" yaml:"record_key"` // md5 hex of SubmittedURL
	SourceURL    string `json:"source_url" yaml:"source_url"` // Where ingestion downloads from
	SubmittedURL string `json:"submitted_url" yaml:"submitted_url"`
	ViewURL      string `json:"view_url,omitempty" yaml:"view_url,omitempty"`

	DatasetName     string `json:"dataset_name" yaml:"dataset_name"`
	HumanName       string `json:"human_name" yaml:"human_name"`
	Attribution     string `json:"attribution,omitempty" yaml:"attribution,omitempty"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	UpdateFrequency string `json:"update_freq,omitempty" yaml:"update_freq,omitempty"`

	ContributorName         string `json:"contributor_name,omitempty" yaml:"contributor_name,omitempty"`
	ContributorOrganization string `json:"contributor_organization,omitempty" yaml:"contributor_organization,omitempty"`
	ContributorEmail        string `json:"contributor_email,omitempty" yaml:"contributor_email,omitempty"`

	ApprovedStatus ApprovalStatus `json:"approved_status" yaml:"approved_status"`
	ColumnNames    []string       `json:"column_names" yaml:"column_names"`

	// Role columns hold machine names from ColumnNames
	ObservedDate string `json:"observed_date" yaml:"observed_date"`
	Latitude     string `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude    string `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Location     string `json:"location,omitempty" yaml:"location,omitempty"`

	IsShapefile bool         `json:"is_shapefile,omitempty" yaml:"is_shapefile,omitempty"`
	Tasks       []TaskHandle `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	DateAdded   time.Time    `json:"date_added" yaml:"date_added"`
	LastUpdate  *time.Time   `json:"last_update,omitempty" yaml:"last_update,omitempty"`
}

// IsApproved reports whether the record has passed review.
func (r *Record) IsApproved() bool {
	return r.ApprovedStatus == StatusApproved
}

// TableName is the table ingestion loads this dataset's rows into.
func (r *Record) TableName() string {
	return "dataset_" + r.DatasetName
}

// LatestTask returns the most recently dispatched task, if any.
func (r *Record) LatestTask() (TaskHandle, bool) {
	if len(r.Tasks) == 0 {
		return TaskHandle{}, false
	}
	return r.Tasks[len(r.Tasks)-1], true
}
