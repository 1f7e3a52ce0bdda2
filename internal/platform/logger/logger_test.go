package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"backoffkit/pkg/backoff"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(content)
}

func TestNew_FileReceivesAllLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "probe.log")
	var console bytes.Buffer

	l := New(Options{
		Env:          "prod",
		ConsoleLevel: "warn",
		File:         logFile,
		App:          "backoffprobe",
		Console:      &console,
	})

	l.Debug("planning retry", slog.Int("attempt", 1))
	l.Info("probe ok")
	l.Warn("attempt failed, retrying")
	if err := Close(l); err != nil {
		t.Fatalf("close: %v", err)
	}

	content := readLog(t, logFile)
	for _, want := range []string{"planning retry", "probe ok", "attempt failed, retrying", `"level":"DEBUG"`, `"app":"backoffprobe"`} {
		if !strings.Contains(content, want) {
			t.Errorf("file log missing %q", want)
		}
	}

	if strings.Contains(console.String(), "probe ok") {
		t.Error("console at warn level should not contain info messages")
	}
	if !strings.Contains(console.String(), "attempt failed, retrying") {
		t.Error("console should contain warn messages")
	}
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Env: "dev", Console: &console})
	l.Info("console only message")

	if err := Close(l); err != nil {
		t.Errorf("close without file should be a no-op, got %v", err)
	}
	if !strings.Contains(console.String(), "console only message") {
		t.Errorf("console output missing message: %q", console.String())
	}
}

func TestRedaction(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Console: &console, ExtraSensitive: []string{"probe_key"}})

	l.Info("connect",
		slog.String("token", "abc123"),
		slog.String("probe_key", "k-42"),
		slog.String("target", "postgres://app:hunter2@db:5432/journal"),
		slog.String("auth", "Bearer eyJhbGciOi"),
		slog.Group("redis", slog.String("password", "pw")),
		slog.String("user", "john"),
	)

	out := console.String()
	for _, leaked := range []string{"abc123", "k-42", "hunter2", "eyJhbGciOi", "=pw"} {
		if strings.Contains(out, leaked) {
			t.Errorf("sensitive value %q leaked: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "john") {
		t.Error("non-sensitive data should not be redacted")
	}
	if !strings.Contains(out, "postgres://app:xxxxx@db:5432/journal") {
		t.Errorf("dsn should keep its shape with the password masked: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warning ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelWarn},
		{"verbose", slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, slog.LevelWarn); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMultiHandler(t *testing.T) {
	var info, warn bytes.Buffer
	multi := NewMultiHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	ctx := context.Background()

	if !multi.Enabled(ctx, slog.LevelInfo) {
		t.Error("should be enabled for info level")
	}
	if multi.Enabled(ctx, slog.LevelDebug) {
		t.Error("should not be enabled for debug level")
	}

	l := slog.New(multi).WithGroup("retry").With("operation", "ping")
	l.Info("attempt failed")
	l.Warn("retrying stopped")

	if !strings.Contains(info.String(), "attempt failed") || !strings.Contains(info.String(), "retry.operation=ping") {
		t.Errorf("info handler output unexpected: %q", info.String())
	}
	if strings.Contains(warn.String(), "attempt failed") {
		t.Error("warn handler should skip info records")
	}
	if !strings.Contains(warn.String(), "retrying stopped") {
		t.Error("warn handler should receive warn records")
	}

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "direct", 0)
	if err := multi.Handle(ctx, record); err != nil {
		t.Errorf("Handle should not return error: %v", err)
	}
}

func TestEngineLogsThroughConfiguredLogger(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Console: &console, App: "test"})

	_ = backoff.NewHandler(nil).Do(context.Background(), func(context.Context) error {
		return errors.New("dial tcp: connection refused")
	}, backoff.Policy{
		Strategy: backoff.Constant{MaxAttempts: 2},
		Sleep:    func(context.Context, time.Duration) error { return nil },
		Logger:   backoff.NewSlogLogger(l, "ping"),
	})

	out := console.String()
	if !strings.Contains(out, "attempt failed, retrying") || !strings.Contains(out, "retrying stopped") {
		t.Errorf("expected both engine log lines, got %q", out)
	}
	if !strings.Contains(out, "ExhaustedLimit") {
		t.Errorf("terminal reason missing: %q", out)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled")
	}
}
