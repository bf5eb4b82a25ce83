package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesJSONToConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: "json"}, &buf)
	logger.Debug("hidden")
	logger.Info("published", zap.String("destination", "console"))
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug entry should be filtered: %s", out)
	}
	if !strings.Contains(out, `"destination":"console"`) {
		t.Fatalf("expected structured field in output: %s", out)
	}
}

func TestNewFileOnlyWithoutPathIsNop(t *testing.T) {
	logger := New(&Config{Output: "file"}, nil)
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("expected nop logger when file output has no path")
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger := New(&Config{Output: "file", FilePath: path, Format: "json"}, nil)
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected file core to be enabled")
	}
}
