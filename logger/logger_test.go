package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			defer func() { Logger = prev; JSONOutput = false }()

			require.NoError(t, Initialize(tt.jsonOutput))
			assert.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
}

func TestCleanupWithNilLogger(t *testing.T) {
	prev := Logger
	defer func() { Logger = prev }()

	Logger = nil
	assert.NotPanics(t, Cleanup)
	assert.NotPanics(t, func() {
		Infow("x")
		Warnw("x")
		Errorw("x")
		Debugw("x")
	})
}

func TestFromContextCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithComponent(WithRecordKey(WithJobID(context.Background(), "job-1"), "abc123"), "ingest")
	FromContext(ctx, base).Infow("loaded", FieldRows, 3)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields[FieldJobID])
	assert.Equal(t, "abc123", fields[FieldRecordKey])
	assert.Equal(t, "ingest", fields[FieldComponent])
	assert.EqualValues(t, 3, fields[FieldRows])
}

func TestFromContextWithoutFields(t *testing.T) {
	base := zap.NewNop().Sugar()
	assert.Same(t, base, FromContext(context.Background(), base))
}
