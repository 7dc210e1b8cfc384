package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across datacat.
const (
	// Identity
	FieldJobID     = "job_id"
	FieldRecordKey = "record_key"
	FieldTaskKind  = "task_kind"
	FieldHandler   = "handler"

	// Components
	FieldComponent = "component"

	// Sources
	FieldURL       = "url"
	FieldHost      = "host"
	FieldDatasetID = "dataset_id"
	FieldTable     = "table"
	FieldObject    = "object"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount  = "count"
	FieldRows   = "rows"
	FieldStatus = "status"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	recordKeyKey contextKey = "logger_record_key"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRecordKey adds a metadata record key to the context for logging
func WithRecordKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, recordKeyKey, key)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if key, ok := ctx.Value(recordKeyKey).(string); ok && key != "" {
		fields = append(fields, FieldRecordKey, key)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base decorated with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
