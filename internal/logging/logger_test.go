package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.level != LevelInfo {
		t.Errorf("expected default level Info, got %v", logger.level)
	}
}

func TestLoggerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("warn line")
	if !strings.Contains(buf.String(), "warn line") {
		t.Errorf("expected warn line in output, got: %s", buf.String())
	}
}

func TestLoggerFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("client connected", "fd", 7, "addr", "127.0.0.1:9000")
	output := buf.String()
	if !strings.Contains(output, "client connected") {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, "fd=7") || !strings.Contains(output, "addr=127.0.0.1:9000") {
		t.Errorf("expected key=value pairs in output, got: %s", output)
	}
}

func TestLoggerPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("listen on port %d failed: %v", 8080, "address in use")
	output := buf.String()
	if !strings.Contains(output, "[ERROR]") || !strings.Contains(output, "8080") {
		t.Errorf("expected formatted error line, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	t.Cleanup(func() { SetDefault(NewLogger(nil)) })

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") || !strings.Contains(buf.String(), "key=value") {
		t.Errorf("expected debug message with args, got: %s", buf.String())
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}

func TestAsyncLoggerWritesToDatedFile(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(&Config{
		Level:         LevelDebug,
		Async:         true,
		QueueCapacity: 16,
		Path:          dir,
		Suffix:        ".log",
	})
	logger.Info("hello from async logger")
	logger.Close()

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file in %s, got %v (err %v)", dir, entries, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil || !strings.Contains(string(data), "hello from async logger") {
		t.Errorf("expected queued line flushed to %s, got %q (err %v)", entries[0].Name(), data, err)
	}
}
