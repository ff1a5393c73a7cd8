package observe

import (
	"context"
	"time"
)

// Outcome labels used by the default classifier.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Classifier maps a call error to an outcome label.
type Classifier func(err error) string

// DefaultClassifier labels nil as success and anything else as error.
func DefaultClassifier(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	return OutcomeError
}

// Middleware wraps backend calls with tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: Call is safe for concurrent use.
//   - Context: the span context is passed to fn.
//   - Errors: errors from fn are recorded and returned unchanged.
type Middleware struct {
	tracer   Tracer
	metrics  Metrics
	logger   Logger
	classify Classifier
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger, classify Classifier) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	if classify == nil {
		classify = DefaultClassifier
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger, classify: classify}
}

// Call runs fn inside a span and records its duration and outcome.
func (m *Middleware) Call(ctx context.Context, meta CallMeta, fn func(ctx context.Context) error) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, err)

	outcome := m.classify(err)
	m.metrics.RecordBackendCall(ctx, meta.Backend, outcome, duration)

	fields := []Field{
		{Key: "backend", Value: meta.Backend},
		{Key: "attempt", Value: meta.Attempt},
		{Key: "outcome", Value: outcome},
		{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
	}
	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err})
		m.logger.Warn(ctx, "backend call failed", fields...)
	} else {
		m.logger.Debug(ctx, "backend call completed", fields...)
	}
	return err
}

// Metrics returns the middleware's recorder.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Tracer returns the middleware's tracer.
func (m *Middleware) Tracer() Tracer { return m.tracer }

// MiddlewareFromObserver builds a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer, classify Classifier) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger(), classify), nil
}
