package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBuffered(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Format: "json", Output: &buf, ServiceName: "subforge-test"}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestLoggerOutput(t *testing.T) {
	log, buf := newBuffered("debug")

	log.Info("render submitted", "frames", 240)

	entry := decodeLine(t, buf)
	if entry["msg"] != "render submitted" {
		t.Errorf("expected msg='render submitted', got %v", entry["msg"])
	}
	if entry["frames"] != float64(240) {
		t.Errorf("expected frames=240, got %v", entry["frames"])
	}
	if entry["service"] != "subforge-test" {
		t.Errorf("expected service='subforge-test', got %v", entry["service"])
	}
	if ts, _ := entry["time"].(string); !strings.HasSuffix(ts, "Z") {
		t.Errorf("expected UTC timestamp, got %v", entry["time"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "TEXT", Output: &buf})
	log.Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("expected text handler output, got: %s", buf.String())
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(*Logger)
		shouldLog bool
	}{
		{"info logs info", "info", func(l *Logger) { l.Info("x") }, true},
		{"info drops debug", "info", func(l *Logger) { l.Debug("x") }, false},
		{"debug logs debug", "debug", func(l *Logger) { l.Debug("x") }, true},
		{"warn drops info", "warn", func(l *Logger) { l.Info("x") }, false},
		{"error logs error", "error", func(l *Logger) { l.Error("x") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBuffered(tt.level)
			tt.logFn(log)
			if got := buf.Len() > 0; got != tt.shouldLog {
				t.Errorf("expected shouldLog=%v, got %v", tt.shouldLog, got)
			}
		})
	}
}

func TestWithHelpers(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Logger) *Logger
		key   string
		want  string
	}{
		{"request id", func(l *Logger) *Logger { return l.WithRequestID("req-1") }, "request_id", "req-1"},
		{"operation id", func(l *Logger) *Logger { return l.WithOperationID("op-1") }, "operation_id", "op-1"},
		{"component", func(l *Logger) *Logger { return l.WithComponent("coordinator") }, "component", "coordinator"},
		{"error", func(l *Logger) *Logger { return l.WithError(context.DeadlineExceeded) }, "error", "context deadline exceeded"},
		{"fields", func(l *Logger) *Logger { return l.WithFields(map[string]any{"stage": "encode"}) }, "stage", "encode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBuffered("info")
			tt.apply(log).Info("line")
			if got := decodeLine(t, buf)[tt.key]; got != tt.want {
				t.Errorf("expected %s=%q, got %v", tt.key, tt.want, got)
			}
		})
	}
}

func TestWithErrorNil(t *testing.T) {
	log, _ := newBuffered("info")
	if log.WithError(nil) != log {
		t.Error("WithError(nil) should return same logger")
	}
}

func TestFromContext(t *testing.T) {
	log, buf := newBuffered("info")

	ctx := ContextWithRequestID(context.Background(), "req-abc")
	ctx = ContextWithOperationID(ctx, "op-xyz")
	log.FromContext(ctx).Info("line")

	entry := decodeLine(t, buf)
	if entry["request_id"] != "req-abc" {
		t.Errorf("expected request_id, got %v", entry["request_id"])
	}
	if entry["operation_id"] != "op-xyz" {
		t.Errorf("expected operation_id, got %v", entry["operation_id"])
	}
}

func TestFromContextEmpty(t *testing.T) {
	log, _ := newBuffered("info")
	if log.FromContext(context.Background()) != log {
		t.Error("expected same logger when context carries no ids")
	}
}

func TestLogError(t *testing.T) {
	log, buf := newBuffered("info")

	log.LogError(context.Background(), "ignored", nil)
	if buf.Len() != 0 {
		t.Fatal("expected nil error to log nothing")
	}

	log.LogError(ContextWithOperationID(context.Background(), "op-7"), "publish failed", context.Canceled)
	entry := decodeLine(t, buf)
	if entry["error"] != "context canceled" {
		t.Errorf("expected error field, got %v", entry["error"])
	}
	if entry["operation_id"] != "op-7" {
		t.Errorf("expected operation_id from context, got %v", entry["operation_id"])
	}
	if _, ok := entry["source"].(map[string]any); !ok {
		t.Errorf("expected source group, got %v", entry["source"])
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Error("dropped")
	log.WithOperationID("x").Info("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"DEBUG", "DEBUG"},
		{" info ", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input).String(); got != tt.expected {
				t.Errorf("parseLevel(%q) = %s, expected %s", tt.input, got, tt.expected)
			}
		})
	}
}
