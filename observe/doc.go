// Package observe provides the engine's observability primitives.
//
// The core packages report through three narrow interfaces: Metrics
// (cache hits per tier, backend calls per outcome, retries, circuit
// transitions, coalesced callers, fallback steps), Tracer, and Logger.
// NewObserver wires them to OpenTelemetry providers and a zap JSON logger;
// the Nop constructors are the defaults when nothing is configured.
package observe
