package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/config"
)

func TestSetupStdout(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	lj := Setup(cfg)
	if lj != nil {
		t.Error("expected nil lumberjack logger for stdout")
	}
	slog.Info("test message", "key", "value")
}

func TestSetupTextFormat(t *testing.T) {
	cfg := config.LoggingConfig{Level: "debug", Format: "text"}
	lj := Setup(cfg)
	if lj != nil {
		t.Error("expected nil lumberjack logger for stdout")
	}
	slog.Debug("debug message should appear")
}

func TestSetupFileLogging(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	cfg := config.LoggingConfig{Level: "info", Format: "json", File: logFile, MaxSizeMB: 10, MaxBackups: 1, MaxAgeDays: 7}
	lj := Setup(cfg)
	if lj == nil {
		t.Fatal("expected lumberjack logger for file output")
	}
	defer lj.Close()

	slog.Info("file log test", "key", "value")

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("log file is empty")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
