package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/calcops/observe/exporters"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string        `yaml:"service_name"`
	Version     string        `yaml:"version"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`

	// Global installs the providers as the otel globals.
	Global bool `yaml:"global"`

	// LogWriter overrides the log destination. Default: stderr.
	LogWriter io.Writer `yaml:"-"`
	// ExporterWriter receives stdout exporter output. Default: stdout.
	ExporterWriter io.Writer `yaml:"-"`
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"` // otlp|stdout|none
	Endpoint  string  `yaml:"endpoint"`
	Insecure  bool    `yaml:"insecure"`
	SamplePct float64 `yaml:"sample_pct"` // 0.0-1.0
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp|prometheus|stdout|none
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"` // debug|info|warn|error
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	if c.Tracing.Enabled {
		if !slices.Contains(ValidTracingExporters, c.Tracing.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.Tracing.Exporter)
		}
		if c.Tracing.SamplePct < MinSamplePct || c.Tracing.SamplePct > MaxSamplePct {
			return fmt.Errorf("%w: got %f", ErrInvalidSamplePct, c.Tracing.SamplePct)
		}
	}

	if c.Metrics.Enabled && !slices.Contains(ValidMetricsExporters, c.Metrics.Exporter) {
		return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.Metrics.Exporter)
	}

	if c.Logging.Enabled && !slices.Contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}

	return nil
}

// Observer provides access to telemetry primitives.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Shutdown must honor cancellation/deadlines.
// - Errors: Shutdown returns every provider error joined.
type Observer interface {
	// Tracer returns the configured tracer.
	Tracer() trace.Tracer

	// Meter returns the configured meter.
	Meter() metric.Meter

	// Logger returns the configured logger.
	Logger() Logger

	// Shutdown flushes and stops all telemetry providers.
	Shutdown(ctx context.Context) error
}

type observer struct {
	tracer         trace.Tracer
	meter          metric.Meter
	logger         Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewObserver creates a new Observer with the given configuration.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs := &observer{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.Tracing.Enabled {
		tp, err := setupTracing(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		obs.tracerProvider = tp
		obs.tracer = tp.Tracer(cfg.ServiceName)
	} else {
		obs.tracer = tracenoop.NewTracerProvider().Tracer("noop")
	}

	if cfg.Metrics.Enabled {
		mp, err := setupMetrics(ctx, cfg, res)
		if err != nil {
			_ = obs.Shutdown(ctx)
			return nil, fmt.Errorf("failed to setup metrics: %w", err)
		}
		obs.meterProvider = mp
		obs.meter = mp.Meter(cfg.ServiceName)
	} else {
		obs.meter = noop.NewMeterProvider().Meter("noop")
	}

	switch {
	case !cfg.Logging.Enabled:
		obs.logger = NopLogger()
	case cfg.LogWriter != nil:
		obs.logger = NewLoggerWithWriter(cfg.Logging.Level, cfg.LogWriter)
	default:
		obs.logger = NewLogger(cfg.Logging.Level)
	}
	obs.logger = obs.logger.With(Field{Key: "service", Value: cfg.ServiceName})

	if cfg.Global {
		if obs.tracerProvider != nil {
			otel.SetTracerProvider(obs.tracerProvider)
		}
		if obs.meterProvider != nil {
			otel.SetMeterProvider(obs.meterProvider)
		}
	}

	return obs, nil
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, exporters.Options{
		Writer:   cfg.ExporterWriter,
		Endpoint: cfg.Tracing.Endpoint,
		Insecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.Tracing.SamplePct >= MaxSamplePct:
		sampler = sdktrace.AlwaysSample()
	case cfg.Tracing.SamplePct <= MinSamplePct:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.Tracing.SamplePct)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func setupMetrics(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, exporters.Options{
		Writer:   cfg.ExporterWriter,
		Endpoint: cfg.Metrics.Endpoint,
		Insecure: cfg.Metrics.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics reader: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }

func (o *observer) Meter() metric.Meter { return o.meter }

func (o *observer) Logger() Logger { return o.logger }

func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error

	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}
