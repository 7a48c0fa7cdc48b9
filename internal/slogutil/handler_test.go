package slogutil

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("precise filter done", "survivors", 237, "stage", "precise")

	output := buf.String()
	for _, want := range []string{"[info]", "precise filter done", " | ", "survivors=237", "stage=precise"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
	if !strings.HasSuffix(output, "\n") {
		t.Errorf("expected trailing newline, got: %q", output)
	}
}

func TestHandler_NoAttrs(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo).Info("plain")

	if strings.Contains(buf.String(), "|") {
		t.Errorf("unexpected separator without attributes: %q", buf.String())
	}
}

func TestHandler_Levels(t *testing.T) {
	tests := []struct {
		logFunc  func(*slog.Logger)
		expected string
	}{
		{func(l *slog.Logger) { l.Debug("debug") }, "[debug]"},
		{func(l *slog.Logger) { l.Info("info") }, "[info]"},
		{func(l *slog.Logger) { l.Warn("warn") }, "[warn]"},
		{func(l *slog.Logger) { l.Error("error") }, "[error]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, slog.LevelDebug)
			tt.logFunc(logger)

			if !strings.Contains(buf.String(), tt.expected) {
				t.Errorf("expected %s in output, got: %s", tt.expected, buf.String())
			}
		})
	}
}

func TestHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("info message should be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should be included")
	}
	if !strings.Contains(output, "error message") {
		t.Error("error message should be included")
	}
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).
		With("run", "abc").
		WithGroup("cache").
		With("entries", 3)

	logger.Info("opened", "path", "/tmp/c.sqlite")

	output := buf.String()
	for _, want := range []string{"run=abc", "cache.entries=3", "cache.path=/tmp/c.sqlite"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := LevelFromString(tt.input)
			if got != tt.expected {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		expected  slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelDebug},
		{3, false, slog.LevelDebug},
		{0, true, LevelSilent},
		{5, true, LevelSilent},
	}

	for _, tt := range tests {
		got := LevelFromVerbosity(tt.verbosity, tt.quiet, slog.LevelWarn)
		if got != tt.expected {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v",
				tt.verbosity, tt.quiet, got, tt.expected)
		}
	}
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()

	logger.Debug("debug")
	logger.Error("error")

	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled for any level")
	}
}

func TestTeeHandler(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := NewHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := NewHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewTeeHandler(h1, h2))
	logger.Info("info message")
	logger.Warn("warn message")

	if !strings.Contains(buf1.String(), "info message") {
		t.Error("buf1 should contain info message")
	}
	if !strings.Contains(buf1.String(), "warn message") {
		t.Error("buf1 should contain warn message")
	}
	if strings.Contains(buf2.String(), "info message") {
		t.Error("buf2 should not contain info message")
	}
	if !strings.Contains(buf2.String(), "warn message") {
		t.Error("buf2 should contain warn message")
	}
}
