package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		" info ":  LogLevelInfo,
		"debug":   LogLevelDebug,
	} {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("parseLogLevel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for trace")
	}
}

func TestSetupLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, LogLevelInfo)

	logger.Debug("bang", "rhythm", "primary")
	logger.Info("rhythm captured", "rhythm_ticks", 250)

	out := buf.String()
	if strings.Contains(out, "bang") {
		t.Fatalf("debug line written at info level:\n%s", out)
	}
	if !strings.Contains(out, "rhythm_ticks=250") {
		t.Fatalf("info line missing:\n%s", out)
	}
}
