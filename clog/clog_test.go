package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := New(&Config{Level: level, Format: "json"}, append(opts, WithWriter(&buf))...)
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	t.Run("默认配置", func(t *testing.T) {
		logger, err := New(nil)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("非法级别", func(t *testing.T) {
		_, err := New(&Config{Level: "verbose"})
		assert.Error(t, err)
	})

	t.Run("非法格式", func(t *testing.T) {
		_, err := New(&Config{Format: "xml"})
		assert.Error(t, err)
	})
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug")

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 4)
	for i, want := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		assert.Equal(t, want, entries[i]["level"])
	}
}

func TestSetLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")
	child := logger.WithNamespace("child")

	logger.Debug("hidden")
	require.NoError(t, logger.SetLevel(DebugLevel))
	child.Debug("visible")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0]["msg"])
}

func TestNamespaceAndFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "info", WithNamespace("fpd"), WithStandardContext())

	ctx := WithRequestID(context.Background(), "a1b2c3d4")
	logger.WithNamespace("proxy").
		With(String("component", "server")).
		InfoContext(ctx, "started", Int("port", 8081), Error(nil))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "fpd.proxy", entry[NamespaceKey])
	assert.Equal(t, "server", entry["component"])
	assert.Equal(t, "a1b2c3d4", entry["request_id"])
	assert.EqualValues(t, 8081, entry["port"])
	_, hasEmpty := entry[""]
	assert.False(t, hasEmpty)
}

func TestRedaction(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")
	key := strings.Repeat("qwertyuiop", 3)

	logger.Error("upstream rejected key "+key,
		String("header", "X-API-KEY: "+key),
		Error(errors.New("token="+strings.Repeat("Z", 24))),
	)

	out := buf.String()
	assert.NotContains(t, out, key)
	assert.NotContains(t, out, strings.Repeat("Z", 24))
	assert.Contains(t, out, "[USPTO_API_KEY]")
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	assert.Equal(t, "id-1", RequestID(WithRequestID(context.Background(), "id-1")))
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.With(String("k", "v")).WithNamespace("x").Info("nothing")
	assert.NoError(t, logger.SetLevel(DebugLevel))
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, level)
	assert.Equal(t, "fatal", FatalLevel.String())
}
