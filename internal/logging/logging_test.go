package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"Warning", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"debug", "info", "warn", "warning", "error"} {
		assert.True(t, ValidLevel(s), s)
	}
	assert.False(t, ValidLevel("verbose"))
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, Prefix: "Ansible Analyzer", Clock: fixedClock})

	logger.Info("Java: %s", "/usr/bin/java")

	assert.Equal(t, "2026-01-02T03:04:05.000 [INFO] Ansible Analyzer: Java: /usr/bin/java\n", buf.String())
}

func TestLogger_Filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	out := buf.String()
	assert.NotContains(t, out, "[DEBUG]")
	assert.NotContains(t, out, "[INFO]")
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "[ERROR]")
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithFields(map[string]any{"zeta": 1, "alpha": "a"}).WithComponent("lsp").Info("x")

	assert.Contains(t, buf.String(), "{alpha=a, component=lsp, zeta=1}")
}

func TestLogger_DerivedSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelError, Output: &buf})
	child := logger.WithComponent("activation")

	child.Info("hidden")
	require.Zero(t, buf.Len())

	logger.SetLevel(LevelInfo)
	child.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("nothing")
	assert.False(t, l.Enabled(LevelError))
}

func TestLogger_LineWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf})

	w := logger.LineWriter(LevelWarn)
	_, _ = w.Write([]byte("first line\nsecond "))
	_, _ = w.Write([]byte("line\r\n\npartial"))
	require.NoError(t, w.Close())

	out := buf.String()
	for _, want := range []string{"[WARN] first line", "[WARN] second line", "[WARN] partial"} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 3, strings.Count(out, "\n"))
}
