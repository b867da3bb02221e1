package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	require.Equal(t, LevelInfo, logger.level)
}

func TestNewLoggerCustomConfig(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debug("hello")
	require.Contains(t, buf.String(), "[DEBUG] hello")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Info("should be dropped")
	require.Empty(t, buf.String())

	logger.Warn("should appear")
	require.Contains(t, buf.String(), "[WARN] should appear")
}

func TestLoggerFormatsKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("qpair event", "qpair", 3, "opcode", 0x02)
	require.Contains(t, buf.String(), "qpair event qpair=3 opcode=2")
}

func TestLoggerPrintfDelegatesToInfof(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	logger.Printf("value=%d", 42)
	require.Contains(t, buf.String(), "[INFO] value=42")
}

func TestLoggerDebugfErrorfFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debugf("debug %s", "msg")
	logger.Errorf("error %d", 7)

	out := buf.String()
	require.Contains(t, out, "[DEBUG] debug msg")
	require.Contains(t, out, "[ERROR] error 7")
}

func TestSetDefaultAndGlobalFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	t.Cleanup(func() { SetDefault(NewLogger(nil)) })

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	require.Contains(t, out, "debug message")
	require.Contains(t, out, "info message")
	require.Contains(t, out, "warn message")
	require.Contains(t, out, "error message")
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	a := Default()
	b := Default()
	require.Same(t, a, b)
}
