// Package backend defines the calculation backend capability and the static
// set of backends available to the engine.
//
// Backends are opaque: the engine never looks inside a computation. Each
// backend is described by a Descriptor (cost, declared latency, accuracy
// rank, precision ceiling, cross-validation capability) and registered in a
// Set whose order is the deterministic tie-break for routing.
//
// Failures are classified with Transient, Permanent and RateLimited so the
// resilience layer can decide whether to retry. A Tracker keeps an
// exponentially weighted moving average of latency and error rate per
// backend for performance-optimized routing.
package backend
