package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing service", Config{}, ErrMissingServiceName},
		{"minimal", Config{ServiceName: "calcops"}, nil},
		{
			"bad tracing exporter",
			Config{ServiceName: "calcops", Tracing: TracingConfig{Enabled: true, Exporter: "jaeger"}},
			ErrInvalidTracingExporter,
		},
		{
			"sample pct too high",
			Config{ServiceName: "calcops", Tracing: TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.5}},
			ErrInvalidSamplePct,
		},
		{
			"disabled tracing ignores exporter",
			Config{ServiceName: "calcops", Tracing: TracingConfig{Exporter: "jaeger"}},
			nil,
		},
		{
			"bad metrics exporter",
			Config{ServiceName: "calcops", Metrics: MetricsConfig{Enabled: true, Exporter: "statsd"}},
			ErrInvalidMetricsExporter,
		},
		{
			"bad log level",
			Config{ServiceName: "calcops", Logging: LoggingConfig{Enabled: true, Level: "trace"}},
			ErrInvalidLogLevel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewObserver_Disabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "calcops"})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	if obs.Tracer() == nil || obs.Meter() == nil || obs.Logger() == nil {
		t.Fatal("nil primitive")
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewObserver_InvalidConfig(t *testing.T) {
	if _, err := NewObserver(context.Background(), Config{}); !errors.Is(err, ErrMissingServiceName) {
		t.Fatalf("err = %v, want ErrMissingServiceName", err)
	}
}

func TestNewObserver_Stdout(t *testing.T) {
	var logs, exported bytes.Buffer
	cfg := Config{
		ServiceName:    "calcops",
		Version:        "test",
		Tracing:        TracingConfig{Enabled: true, Exporter: "stdout", SamplePct: 1},
		Metrics:        MetricsConfig{Enabled: true, Exporter: "stdout"},
		Logging:        LoggingConfig{Enabled: true, Level: "info"},
		LogWriter:      &logs,
		ExporterWriter: &exported,
	}
	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}

	ctx, span := obs.Tracer().Start(context.Background(), "calcops.calculate")
	obs.Logger().Info(ctx, "hello")
	span.End()

	if err := obs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if exported.Len() == 0 {
		t.Error("stdout exporter wrote nothing")
	}
	line := decodeLines(t, &logs)[0]
	if line["service"] != "calcops" {
		t.Errorf("service field = %v", line["service"])
	}
	if line["trace_id"] == nil {
		t.Error("trace_id missing")
	}
}
