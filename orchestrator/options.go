package orchestrator

import (
	"time"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/cache"
	"github.com/jonwraymond/calcops/observe"
	"github.com/jonwraymond/calcops/router"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHierarchy sets the cache hierarchy. Without one the orchestrator
// keeps an L1-only in-memory hierarchy. The orchestrator closes the
// hierarchy's background queue on Close; the tiers stay with the caller.
func WithHierarchy(h *cache.Hierarchy) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.cache = h
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t observe.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithCrossChecker replaces the tolerance checker built from
// Config.Validation.
func WithCrossChecker(c router.CrossChecker) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.checker = c
		}
	}
}

// WithTracker shares an EWMA tracker, e.g. one seeded from a previous run.
func WithTracker(t *backend.Tracker) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracker = t
		}
	}
}

// WithApproximation sets the low-cost native approximation used as the
// last fallback. It is never part of a routing plan and its results are
// marked degraded and never cached.
func WithApproximation(d backend.Descriptor, b backend.Backend) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.approx = &member{desc: d, impl: b}
		}
	}
}

// WithClock overrides time.Now for computation timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
