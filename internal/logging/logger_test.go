package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerDefaultsToJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Output: &buf})

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug level to be disabled")
	}

	logger.Info("match_created", FieldMatchID, "m1")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if payload["msg"] != "match_created" || payload[FieldMatchID] != "m1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestNewLoggerTextWithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: "TEXT", Level: "debug", Output: &buf})

	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug level to be enabled")
	}
	logger.Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		" ERROR ": slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	fallback := Discard()
	if FromContext(context.Background(), fallback) != fallback {
		t.Fatal("expected fallback logger")
	}

	scoped := Discard().With("request_id", "abc")
	ctx := WithLogger(context.Background(), scoped)
	if FromContext(ctx, fallback) != scoped {
		t.Fatal("expected scoped logger")
	}
}

func TestHelpersTolerateNilLogger(t *testing.T) {
	Info(nil, "x")
	Warn(nil, "x")
	Error(nil, "x", nil)
}
