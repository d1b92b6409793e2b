package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealcybermattlee/ddcharacterbot/internal/logging"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "info")

	err := oops.Code("SESSION_STORE_UNAVAILABLE").
		With("user_id", "u1").
		Errorf("connection refused")

	logging.LogError(context.Background(), logger, "session lookup failed", err, "path", "/v1/me")

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "session lookup failed", entry["msg"])
	assert.Equal(t, "SESSION_STORE_UNAVAILABLE", entry["code"])
	assert.Equal(t, "/v1/me", entry["path"])
	assert.Contains(t, entry["context"], "user_id")
}

func TestLogWarn_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "debug")

	logging.LogWarn(context.Background(), logger, "credential migration failed", errors.New("deadlock"))

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Contains(t, entry["error"], "deadlock")
	assert.NotContains(t, entry, "code")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, logging.ParseLevel(in), in)
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "warn")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}
