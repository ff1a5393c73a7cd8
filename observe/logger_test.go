package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("debug", &buf)

	log.Info(context.Background(), "computed",
		Field{Key: "backend", Value: "native"},
		Field{Key: "attempt", Value: 2},
	)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	got := lines[0]
	if got["msg"] != "computed" {
		t.Errorf("msg = %v", got["msg"])
	}
	if got["level"] != "info" {
		t.Errorf("level = %v", got["level"])
	}
	if got["backend"] != "native" {
		t.Errorf("backend = %v", got["backend"])
	}
	if got["attempt"] != float64(2) {
		t.Errorf("attempt = %v", got["attempt"])
	}
	if _, ok := got["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	log.Debug(ctx, "dropped")
	log.Info(ctx, "dropped")
	log.Warn(ctx, "kept")
	log.Error(ctx, "kept")

	if n := len(decodeLines(t, &buf)); n != 2 {
		t.Errorf("lines = %d, want 2", n)
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", &buf)

	log.Info(context.Background(), "connect",
		Field{Key: "dsn", Value: "postgres://u:p@h/db"},
		Field{Key: "token", Value: "abc"},
		Field{Key: "host", Value: "h"},
	)

	got := decodeLines(t, &buf)[0]
	if got["dsn"] != "[REDACTED]" || got["token"] != "[REDACTED]" {
		t.Errorf("secrets not redacted: %v", got)
	}
	if got["host"] != "h" {
		t.Errorf("host = %v", got["host"])
	}
	if strings.Contains(buf.String(), "u:p@h") {
		t.Error("raw dsn leaked")
	}
}

func TestLogger_ErrorField(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", &buf)

	log.Warn(context.Background(), "failed", Field{Key: "error", Value: errors.New("boom")})

	if got := decodeLines(t, &buf)[0]; got["error"] != "boom" {
		t.Errorf("error = %v", got["error"])
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", &buf).With(Field{Key: "service", Value: "calcops"})

	log.Info(context.Background(), "a")
	log.Info(context.Background(), "b", Field{Key: "k", Value: "v"})

	for _, line := range decodeLines(t, &buf) {
		if line["service"] != "calcops" {
			t.Errorf("service missing from %v", line)
		}
	}
}

func TestLogger_TraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", &buf)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	log.Info(ctx, "inside span")
	span.End()

	got := decodeLines(t, &buf)[0]
	if got["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", got["trace_id"])
	}
	if got["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", got["span_id"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if LevelWarn.String() != "warn" {
		t.Errorf("LevelWarn.String() = %q", LevelWarn.String())
	}
}

func TestNopLogger(t *testing.T) {
	log := NopLogger().With(Field{Key: "k", Value: "v"})
	log.Error(context.Background(), "ignored")
	if NewZapLogger(nil) == nil {
		t.Fatal("NewZapLogger(nil) returned nil")
	}
}
