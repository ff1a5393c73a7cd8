// Package router decides which backends serve a calculation.
//
// Select maps a request and a strategy to a Plan, the ordered list of
// backends to try:
//
//   - always-primary, always-reference: the designated backend only.
//   - intelligent: capable backends; cheapest first for Standard
//     precision, most accurate first for High and Extreme.
//   - validated: the primary plus every other cross-validation backend;
//     all run and their results must agree (see CrossChecker).
//   - performance-optimized: ascending EWMA latency, penalized by the
//     EWMA error rate.
//
// Ties go to the lower cost weight, then to configuration order. Backends
// rejected by the Availability filter (open circuits) never appear in a
// plan.
package router
