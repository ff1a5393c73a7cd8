// Package batch coalesces concurrent identical calculations.
//
// A Scheduler runs at most one computation per key at a time; every caller
// submitting the same key while it runs receives its result. Computations
// are detached from the callers that started them, so a caller giving up
// never cancels work others are waiting on. Distinct computations share a
// global concurrency limit and queue in arrival order beyond it.
package batch
