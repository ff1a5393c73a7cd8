// Package health reports the health of the engine's dependencies.
//
// Checkers cover the cache stores (PingChecker over Redis or SQLite), the
// backends' circuit breakers (CircuitChecker), and the bounded L1 tier
// (CapacityChecker). An Aggregator runs them together:
//
//	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})
//	agg.Register(engine.HealthCheckers()...)
//	rep := agg.CheckAll(ctx)
//	if rep.Status == health.StatusUnhealthy {
//		// page someone
//	}
package health
