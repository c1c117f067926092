package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"squadbot/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "router").Info("Request completed",
		"tenant_id", "T1",
		"request_id", "42",
		"handler_id", "ping-handler",
		"ok", true,
		"error", errors.New("none"),
	)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Component != "router" {
		t.Fatalf("component = %q, want %q", entry.Component, "router")
	}
	if entry.TenantID != "T1" || entry.RequestID != "42" {
		t.Fatalf("tenant/request = %q/%q, want T1/42", entry.TenantID, entry.RequestID)
	}
	if got := entry.Fields["handler_id"]; got != "ping-handler" {
		t.Fatalf("fields.handler_id = %v", got)
	}
	if got := entry.Fields["ok"]; got != true {
		t.Fatalf("fields.ok = %v, want true", got)
	}
	if got := entry.Fields["error"]; got != "none" {
		t.Fatalf("fields.error = %v, want none", got)
	}
	if _, ok := entry.Fields["tenant_id"]; ok {
		t.Fatal("tenant_id should be promoted, not duplicated in fields")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envLogFormat, "text")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerRejectsUnknownFormat(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview(" hello "); got != "hello" {
		t.Fatalf("Preview short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("⚽", previewLimit+20)
	got := Preview(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("Preview long = %q, want ellipsis suffix", got)
	}
	if n := len([]rune(got)); n != previewLimit+3 {
		t.Fatalf("Preview long rune count = %d, want %d", n, previewLimit+3)
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envLogLevel, envLogFormat, envLogAddSource} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
