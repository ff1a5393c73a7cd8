// Package exporters builds the OpenTelemetry exporters named in observe
// configuration.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrUnknownExporter is returned for an exporter name that is not supported.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")

	// ErrEndpointNotConfigured is returned for otlp without an endpoint.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")
)

// Options tunes exporter construction.
type Options struct {
	// Writer receives stdout exporter output. Default: os.Stdout.
	Writer io.Writer
	// Endpoint is the OTLP collector address. Empty falls back to the
	// standard OTEL_EXPORTER_OTLP_* environment variables.
	Endpoint string
	// Insecure disables TLS for OTLP.
	Insecure bool
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

func endpoint(o Options, signalEnv string) string {
	if o.Endpoint != "" {
		return o.Endpoint
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return v
	}
	return os.Getenv(signalEnv)
}

// NewTracingExporter creates a span exporter by name: stdout, otlp, none.
// "none" and "" return a nil exporter.
func NewTracingExporter(ctx context.Context, name string, o Options) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(o.writer()))

	case "otlp":
		if endpoint(o, "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ErrEndpointNotConfigured)
		}
		var opts []otlptracegrpc.Option
		if o.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(o.Endpoint))
		}
		if o.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

// NewMetricsReader creates a metrics reader by name: stdout, otlp,
// prometheus, none. "none" and "" return a nil reader.
func NewMetricsReader(ctx context.Context, name string, o Options) (sdkmetric.Reader, error) {
	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer()))
		if err != nil {
			return nil, fmt.Errorf("stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "otlp":
		if endpoint(o, "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") == "" {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", ErrEndpointNotConfigured)
		}
		var opts []otlpmetricgrpc.Option
		if o.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(o.Endpoint))
		}
		if o.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		return exp, nil

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}
