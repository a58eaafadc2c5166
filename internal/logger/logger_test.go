package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONLines(t *testing.T) {
	var file bytes.Buffer
	l := New(nil, &file)

	l.Info("checkin", "accepted t1")
	l.LogSecurity("NOT_FOUND_BURST", "device=gate-1 count=10")

	lines := strings.Split(strings.TrimSpace(file.String()), "\n")
	require.Len(t, lines, 2)

	var first LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "INFO", first.Level)
	assert.Equal(t, "CHECKIN", first.Category)
	assert.Equal(t, "accepted t1", first.Message)
	assert.Equal(t, "logger_test.go", first.File)

	var second LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "WARN", second.Level)
	assert.Equal(t, "SECURITY", second.Category)
	assert.Equal(t, "[NOT_FOUND_BURST] device=gate-1 count=10", second.Message)
}

func TestLogger_SetLevelFilters(t *testing.T) {
	var file bytes.Buffer
	l := New(nil, &file)
	l.SetLevel(ParseLevel("warn"))

	l.Debug("APP", "noise")
	l.Info("APP", "noise")
	l.Warn("APP", "kept")

	assert.Equal(t, 1, strings.Count(file.String(), "\n"))
	assert.Contains(t, file.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestNilAndNopLoggersAreSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("APP", "dropped") })
	assert.NotPanics(t, func() { NewNop().Error("APP", "dropped") })
}
