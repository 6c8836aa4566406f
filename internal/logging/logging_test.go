package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
	assert.Equal(t, context.Background(), ContextWithLogger(context.Background(), nil))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for value, want := range tests {
		got, err := ParseLevel(value)
		require.NoError(t, err, value)
		assert.Equal(t, want, got, value)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("dropped")
	logger.Warn("kept", "reservation_id", "reservation-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "reservation-1", entry["reservation_id"])
}
