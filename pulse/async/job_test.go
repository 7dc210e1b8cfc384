package async

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/teranos/datacat/errors"
)

// ============================================================================
// TAS Bot Job Lifecycle Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator creating ingestion missions
//
// Theme: Jobs represent missions queued for the pulse workers.
// ============================================================================

func TestNewJobWithPayload(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"record_key": "5f1b"})

	job, err := NewJobWithPayload("catalog.add", "5f1b", payload)
	if err != nil {
		t.Fatalf("NewJobWithPayload() error = %v", err)
	}

	if _, err := uuid.Parse(job.ID); err != nil {
		t.Errorf("Job ID %q is not a uuid: %v", job.ID, err)
	}
	if job.Status != JobStatusQueued {
		t.Errorf("Job status = %v, want %v", job.Status, JobStatusQueued)
	}
	if job.HandlerName != "catalog.add" {
		t.Errorf("Job handler = %v, want catalog.add", job.HandlerName)
	}
	if job.CreatedAt.Location().String() != "UTC" {
		t.Errorf("Expected UTC timestamps, got %v", job.CreatedAt.Location())
	}

	other, _ := NewJobWithPayload("catalog.add", "5f1b", payload)
	if other.ID == job.ID {
		t.Error("TAS Bot expected distinct IDs for distinct missions")
	}
}

func TestNewJobWithPayload_EmptyHandler(t *testing.T) {
	if _, err := NewJobWithPayload("", "src", nil); err == nil {
		t.Error("Expected error for empty handler name")
	}
}

func TestJobStateTransitions(t *testing.T) {
	job, err := createTestJob("catalog.add", "speedrun.csv")
	if err != nil {
		t.Fatalf("TAS Bot failed to create mission: %v", err)
	}

	job.Start()
	if job.Status != JobStatusRunning || job.StartedAt == nil {
		t.Errorf("After Start: status=%v started_at=%v", job.Status, job.StartedAt)
	}

	job.Requeue("try again")
	if job.Status != JobStatusQueued || job.StartedAt != nil || job.Error != "try again" {
		t.Errorf("After Requeue: status=%v started_at=%v error=%q", job.Status, job.StartedAt, job.Error)
	}

	job.Start()
	job.Complete()
	if job.Status != JobStatusCompleted || job.CompletedAt == nil {
		t.Errorf("After Complete: status=%v completed_at=%v", job.Status, job.CompletedAt)
	}
	if !job.Status.IsTerminal() {
		t.Error("completed should be terminal")
	}
}

func TestJobFailureKeepsTrace(t *testing.T) {
	job, _ := createTestJob("catalog.add", "broken.csv")

	job.Fail(errors.Wrap(errors.New("header row missing"), "load rows"))

	if job.Status != JobStatusFailed {
		t.Errorf("status = %v, want failed", job.Status)
	}
	if job.Error != "load rows: header row missing" {
		t.Errorf("error = %q", job.Error)
	}
	if !strings.Contains(job.Trace, "header row missing") || !strings.Contains(job.Trace, "job_test.go") {
		t.Errorf("expected trace with message and stack, got:\n%s", job.Trace)
	}
}

func TestJobCancel(t *testing.T) {
	job, _ := createTestJob("catalog.delete", "x")
	job.Cancel("record removed")

	if job.Status != JobStatusCancelled || job.Error != "record removed" {
		t.Errorf("status=%v error=%q", job.Status, job.Error)
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed", "cancelled"} {
		if !IsValidStatus(s) {
			t.Errorf("IsValidStatus(%q) = false", s)
		}
	}
	for _, s := range []string{"paused", "", "pending"} {
		if IsValidStatus(s) {
			t.Errorf("IsValidStatus(%q) = true", s)
		}
	}
	if JobStatusRunning.IsTerminal() || JobStatusQueued.IsTerminal() {
		t.Error("queued and running are not terminal")
	}
}

func TestProgressPercentage(t *testing.T) {
	if got := (Progress{}).Percentage(); got != 0 {
		t.Errorf("empty progress = %v, want 0", got)
	}
	if got := (Progress{Current: 25, Total: 100}).Percentage(); got != 25 {
		t.Errorf("25/100 = %v, want 25", got)
	}
}

func TestDecodePayload(t *testing.T) {
	job, _ := createTestJob("catalog.add", "abc123")

	var p struct {
		RecordKey string `json:"record_key"`
	}
	if err := job.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.RecordKey != "abc123" {
		t.Errorf("record_key = %q, want abc123", p.RecordKey)
	}

	job.Payload = nil
	if err := job.DecodePayload(&p); err == nil {
		t.Error("expected error for empty payload")
	}

	job.Payload = json.RawMessage(`{not json`)
	if err := job.DecodePayload(&p); err == nil {
		t.Error("expected error for malformed payload")
	}
}
