package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
	assert.False(t, Is(nil, original))
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("record %s", "abc")

	assert.Equal(t, "record abc", err.Error())
	assert.True(t, IsNotFoundError(err))
	assert.True(t, IsNotFoundError(Wrap(err, "lookup")))
	assert.False(t, IsInvalidRequestError(err))
	assert.False(t, IsNotFoundError(nil))
}

func TestInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("latitude without longitude")

	assert.True(t, IsInvalidRequestError(err))
	assert.False(t, IsConflictError(err))
	assert.Equal(t, "latitude without longitude", err.Error())
}

func TestConflictViaWrap(t *testing.T) {
	err := Wrap(ErrConflict, "dataset already loaded")

	assert.True(t, IsConflictError(err))
	assert.False(t, IsNotFoundError(err))
}

func TestStackTraceFormatting(t *testing.T) {
	err := Wrap(New("boom"), "ingest failed")

	require.NotNil(t, GetStack(err))
	verbose := fmt.Sprintf("%+v", err)
	assert.Contains(t, verbose, "ingest failed")
	assert.Contains(t, verbose, "boom")
	assert.Greater(t, len(verbose), len(err.Error()))
}

func TestHintsAndDetails(t *testing.T) {
	err := WithHint(New("resolver timeout"), "try again later")
	err = WithDetail(err, "url: https://example.org/data.csv")

	assert.Contains(t, FlattenHints(err), "try again later")
	assert.Contains(t, FlattenDetails(err), "https://example.org/data.csv")
}
