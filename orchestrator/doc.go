// Package orchestrator is the engine's entry point.
//
// Calculate normalizes and validates a request, derives its fingerprint
// and looks it up in the cache hierarchy. On a miss the request is
// coalesced with identical in-flight work by the batch scheduler, routed
// to one or more backends according to its strategy, and executed through
// each backend's rate limiter, circuit breaker, retry policy and timeout.
// Successful results are written back to every cache level.
//
// When no backend produces a result the fallback chain runs: a stale
// entry within its grace period is served marked Stale; otherwise the
// configured approximation is served marked Degraded; otherwise the call
// fails with calc.KindFallbackExhausted. Fallback results are never
// cached.
//
// Every error returned by Calculate is a *calc.EngineError; use
// calc.KindOf or errors.Is against the calc sentinels to classify it.
package orchestrator
