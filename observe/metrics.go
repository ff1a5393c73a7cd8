package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records engine metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCacheHit records a fresh hit in the named tier.
	RecordCacheHit(ctx context.Context, tier string)
	// RecordCacheMiss records a lookup that missed every tier.
	RecordCacheMiss(ctx context.Context)
	// RecordTierError records a failed tier operation.
	RecordTierError(ctx context.Context, tier, op string)
	// RecordBackendCall records one backend attempt.
	RecordBackendCall(ctx context.Context, backend, outcome string, d time.Duration)
	// RecordRetry records a retry scheduled against a backend.
	RecordRetry(ctx context.Context, backend string, attempt int)
	// RecordCircuitStateChange records a breaker transition.
	RecordCircuitStateChange(ctx context.Context, backend, from, to string)
	// RecordCoalesced records a caller that joined an in-flight computation.
	RecordCoalesced(ctx context.Context)
	// RecordFallback records a fallback step: stale, approximation, exhausted.
	RecordFallback(ctx context.Context, step string)
}

// metricsImpl is the OpenTelemetry implementation of Metrics.
type metricsImpl struct {
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	tierErrors   metric.Int64Counter
	backendCalls metric.Int64Counter
	backendDur   metric.Float64Histogram
	retries      metric.Int64Counter
	transitions  metric.Int64Counter
	coalesced    metric.Int64Counter
	fallbacks    metric.Int64Counter
}

// NewMetrics creates the engine instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.cacheHits, "calcops.cache.hits", "Fresh cache hits by tier", "{hit}"},
		{&m.cacheMisses, "calcops.cache.misses", "Lookups that missed every tier", "{miss}"},
		{&m.tierErrors, "calcops.cache.tier_errors", "Failed tier operations", "{error}"},
		{&m.backendCalls, "calcops.backend.calls", "Backend attempts by outcome", "{call}"},
		{&m.retries, "calcops.backend.retries", "Retries scheduled against a backend", "{retry}"},
		{&m.transitions, "calcops.circuit.transitions", "Circuit breaker state changes", "{transition}"},
		{&m.coalesced, "calcops.batch.coalesced", "Callers that joined an in-flight computation", "{call}"},
		{&m.fallbacks, "calcops.fallback.steps", "Fallback chain steps taken", "{step}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}

	m.backendDur, err = meter.Float64Histogram(
		"calcops.backend.duration_ms",
		metric.WithDescription("Backend attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metricsImpl) RecordCacheHit(ctx context.Context, tier string) {
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func (m *metricsImpl) RecordCacheMiss(ctx context.Context) {
	m.cacheMisses.Add(ctx, 1)
}

func (m *metricsImpl) RecordTierError(ctx context.Context, tier, op string) {
	m.tierErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("op", op),
	))
}

func (m *metricsImpl) RecordBackendCall(ctx context.Context, backend, outcome string, d time.Duration) {
	m.backendCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
	m.backendDur.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *metricsImpl) RecordRetry(ctx context.Context, backend string, attempt int) {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Int("attempt", attempt),
	))
}

func (m *metricsImpl) RecordCircuitStateChange(ctx context.Context, backend, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *metricsImpl) RecordCoalesced(ctx context.Context) {
	m.coalesced.Add(ctx, 1)
}

func (m *metricsImpl) RecordFallback(ctx context.Context, step string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) RecordCacheHit(context.Context, string)                           {}
func (noopMetrics) RecordCacheMiss(context.Context)                                  {}
func (noopMetrics) RecordTierError(context.Context, string, string)                  {}
func (noopMetrics) RecordBackendCall(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordRetry(context.Context, string, int)                         {}
func (noopMetrics) RecordCircuitStateChange(context.Context, string, string, string) {}
func (noopMetrics) RecordCoalesced(context.Context)                                  {}
func (noopMetrics) RecordFallback(context.Context, string)                           {}
