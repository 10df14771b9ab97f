package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.Debug("debug msg", "key", "value")
	log.Info("info msg")
	log.Warn("warn msg")
	log.Error("error msg", "code", 42)

	out := buf.String()
	assert.Contains(t, out, "debug msg")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "info msg")
	assert.Contains(t, out, "warn msg")
	assert.Contains(t, out, "code=42")
}

func TestZerologHandler(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf)

	log.Info("connected", "scope", "general")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"message":"connected"`)
	assert.Contains(t, out, `"scope":"general"`)
}

func TestZerologHandlerSkipsNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf)

	log.Info("msg", 1, "oops", "ok", "yes")

	out := buf.String()
	assert.Contains(t, out, `"ok":"yes"`)
	assert.NotContains(t, out, "oops")
}
