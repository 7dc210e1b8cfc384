package async

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/datacat/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeFileNotFound    ErrorCode = "file_not_found"
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodePermanent       ErrorCode = "permanent"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrPermanent marks a handler error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent marks err so the worker pool fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrPermanent)
}

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Can the job be retried?
}

// ClassifyError categorizes an error by its marks first, then by message patterns
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{
			Stage:   stage,
			Code:    ErrorCodeUnknown,
			Message: "unknown error",
		}
	}

	errMsg := err.Error()
	errLower := strings.ToLower(errMsg)

	ctx := ErrorContext{
		Stage:   stage,
		Message: errMsg,
	}

	switch {
	case errors.Is(err, ErrPermanent) || errors.Is(err, ErrNoHandler):
		ctx.Code = ErrorCodePermanent
		ctx.Retryable = false

	case errors.Is(err, errors.ErrInvalidRequest):
		ctx.Code = ErrorCodeValidationError
		ctx.Retryable = false

	case errors.Is(err, errors.ErrNotFound):
		ctx.Code = ErrorCodeNotFound
		ctx.Retryable = false

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true

	case strings.Contains(errLower, "no such file") || strings.Contains(errLower, "file not found"):
		ctx.Code = ErrorCodeFileNotFound
		ctx.Retryable = false

	case strings.Contains(errLower, "parse") || strings.Contains(errLower, "unmarshal") || strings.Contains(errLower, "invalid json"):
		ctx.Code = ErrorCodeParseError
		ctx.Retryable = false

	case strings.Contains(errLower, "network") || strings.Contains(errLower, "connection") || strings.Contains(errLower, "timeout"):
		ctx.Code = ErrorCodeNetworkError
		ctx.Retryable = true

	case strings.Contains(errLower, "database") || strings.Contains(errLower, "sql"):
		ctx.Code = ErrorCodeDatabaseError
		ctx.Retryable = true

	case strings.Contains(errLower, "validation") || strings.Contains(errLower, "invalid"):
		ctx.Code = ErrorCodeValidationError
		ctx.Retryable = false

	case strings.Contains(errLower, "deadline exceeded") || strings.Contains(errLower, "timed out"):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true

	default:
		ctx.Code = ErrorCodeUnknown
		ctx.Retryable = true
	}

	return ctx
}

// RetryableError requeues the job when it has retries left and returns a wrapped error.
// Once maxRetries is exhausted it returns the final error without touching the job;
// the caller is expected to fail it.
func RetryableError(ctx context.Context, queue *Queue, job *Job, operation string, err error, maxRetries int, log *zap.SugaredLogger) (requeued bool, result error) {
	if job.RetryCount < maxRetries {
		job.RetryCount++
		job.Requeue(fmt.Sprintf("%s (retry %d/%d): %v", operation, job.RetryCount, maxRetries, err))
		if updateErr := queue.UpdateJob(ctx, job); updateErr != nil {
			log.Warnw("Failed to update job for retry",
				"error", updateErr,
			)
			return false, errors.Wrap(err, operation)
		}
		log.Infow("꩜ Retry scheduled",
			"retry_count", job.RetryCount,
			"max_retries", maxRetries,
			"operation", operation,
		)
		return true, errors.Wrap(err, "retriable")
	}
	log.Warnw("꩜ Max retries exceeded",
		"max_retries", maxRetries,
		"operation", operation,
	)
	return false, errors.Wrapf(err, "%s after %d retries", operation, maxRetries)
}
