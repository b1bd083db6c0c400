package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunLogger_ContextualFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewRunLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf, Component: "runner"})

	l.WithRun("run-42", "review").Info("runner.run.start", "max_iterations", 25)

	out := buf.String()
	assert.Contains(t, out, `"component":"runner"`)
	assert.Contains(t, out, `"run_id":"run-42"`)
	assert.Contains(t, out, `"label":"review"`)
	assert.Contains(t, out, "runner.run.start")
}

func TestRunLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewRunLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})

	l.Info("should not appear")
	l.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestRunLogger_WithCopiesNotMutates(t *testing.T) {
	var buf bytes.Buffer
	base := NewRunLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	scoped := base.WithRun("run-1", "review")
	base.Info("base line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "run-1")

	buf.Reset()
	scoped.Info("scoped line")
	assert.Contains(t, buf.String(), "run-1")
}

func TestRunLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewRunLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	l.LogToolCall("word_count", 0, true, nil)
	l.LogModelCall("mock-1", 128, 0, nil)
	l.LogRun(3, 0, "completed")

	out := buf.String()
	assert.Contains(t, out, "tool execution completed")
	assert.Contains(t, out, "word_count")
	assert.Contains(t, out, "model call completed")
	assert.Contains(t, out, `"outcome":"completed"`)
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "INFO", LogLevelInfo.String())
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
}

func TestNoOpLoggerSatisfiesInterface(t *testing.T) {
	var l Logger = NoOpLogger{}
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("dropped")
	l.Error("dropped")
}
