package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/datacat/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"nil", nil, ErrorCodeUnknown, false},
		{"permanent mark", Permanent(errors.New("connection refused")), ErrorCodePermanent, false},
		{"no handler", errors.Wrap(ErrNoHandler, "catalog.x"), ErrorCodePermanent, false},
		{"invalid request", errors.Wrap(errors.ErrInvalidRequest, "bad payload"), ErrorCodeValidationError, false},
		{"not found sentinel", errors.Wrap(errors.ErrNotFound, "record abc"), ErrorCodeNotFound, false},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "fetch"), ErrorCodeTimeout, true},
		{"missing file", errors.New("open /tmp/x.csv: no such file or directory"), ErrorCodeFileNotFound, false},
		{"parse", errors.New("failed to parse csv header"), ErrorCodeParseError, false},
		{"network", errors.New("dial tcp: connection refused"), ErrorCodeNetworkError, true},
		{"database", errors.New("database is locked"), ErrorCodeDatabaseError, true},
		{"validation", errors.New("invalid column name"), ErrorCodeValidationError, false},
		{"unknown", errors.New("something odd"), ErrorCodeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := ClassifyError("load", tt.err)
			assert.Equal(t, tt.code, ec.Code)
			assert.Equal(t, tt.retryable, ec.Retryable)
			assert.Equal(t, "load", ec.Stage)
		})
	}
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
