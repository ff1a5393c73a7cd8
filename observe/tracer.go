package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// CallMeta describes one traced operation.
type CallMeta struct {
	Operation   string // "calculate", "backend", "precompute"
	Backend     string // backend name, for backend calls
	Fingerprint string
	Strategy    string
	Attempt     int
}

// SpanName returns the deterministic span name.
// Format: calcops.<operation>.<backend> or calcops.<operation>
func (m CallMeta) SpanName() string {
	op := m.Operation
	if op == "" {
		op = "call"
	}
	if m.Backend != "" {
		return "calcops." + op + "." + m.Backend
	}
	return "calcops." + op
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("calc.operation", m.Operation),
		attribute.Bool("calc.error", false),
	}
	if m.Backend != "" {
		attrs = append(attrs, attribute.String("calc.backend", m.Backend))
	}
	if m.Fingerprint != "" {
		attrs = append(attrs, attribute.String("calc.fingerprint", m.Fingerprint))
	}
	if m.Strategy != "" {
		attrs = append(attrs, attribute.String("calc.strategy", m.Strategy))
	}
	if m.Attempt > 0 {
		attrs = append(attrs, attribute.Int("calc.attempt", m.Attempt))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing for engine operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for the operation.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	kind := trace.SpanKindInternal
	if meta.Backend != "" {
		kind = trace.SpanKindClient
	}
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(kind),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("calc.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer whose spans are discarded.
func NopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
