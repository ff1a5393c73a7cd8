package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/batch"
	"github.com/jonwraymond/calcops/cache"
	"github.com/jonwraymond/calcops/calc"
	"github.com/jonwraymond/calcops/health"
	"github.com/jonwraymond/calcops/resilience"
)

// Stats is a snapshot of engine counters.
type Stats struct {
	Requests  uint64 `json:"requests"`
	CacheHits uint64 `json:"cache_hits"`
	Computed  uint64 `json:"computed"`
	Stale     uint64 `json:"stale"`
	Degraded  uint64 `json:"degraded"`
	Failed    uint64 `json:"failed"`

	Cache     cache.Stats                                 `json:"cache"`
	Scheduler batch.Stats                                 `json:"scheduler"`
	Circuits  map[string]resilience.CircuitBreakerMetrics `json:"circuits"`
	Backends  map[string]backend.Stat                     `json:"backends"`
}

// Stats returns the current counters, breaker states and backend EWMAs.
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		Requests:  o.requests.Load(),
		CacheHits: o.hits.Load(),
		Computed:  o.computed.Load(),
		Stale:     o.stale.Load(),
		Degraded:  o.degraded.Load(),
		Failed:    o.failed.Load(),
		Cache:     o.cache.Stats(),
		Scheduler: o.scheduler.Stats(),
		Circuits:  make(map[string]resilience.CircuitBreakerMetrics, len(o.order)+1),
		Backends:  o.tracker.All(),
	}
	for _, m := range o.all() {
		s.Circuits[m.desc.Name] = m.breaker.Metrics()
	}
	return s
}

// ResetStats zeroes the engine, cache and scheduler counters. Breaker
// state and latency tracking are routing state and are kept.
func (o *Orchestrator) ResetStats() {
	o.requests.Store(0)
	o.hits.Store(0)
	o.computed.Store(0)
	o.stale.Store(0)
	o.degraded.Store(0)
	o.failed.Store(0)
	o.cache.ResetStats()
	o.scheduler.ResetStats()
}

// Invalidate removes one fingerprint from every level.
func (o *Orchestrator) Invalidate(ctx context.Context, fingerprint string) error {
	if _, _, err := calc.ParseFingerprint(fingerprint); err != nil {
		return engineError(calc.KindValidation, fingerprint, nil, err)
	}
	return o.storage(ctx, fingerprint, o.cache.Invalidate(ctx, fingerprint))
}

// InvalidatePrefix removes every fingerprint starting with prefix and
// returns how many entries were removed across levels.
func (o *Orchestrator) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	if !strings.HasPrefix(prefix, calc.FingerprintPrefix) {
		err := &calc.ValidationError{Field: "prefix", Value: prefix, Reason: fmt.Sprintf("must start with %q", calc.FingerprintPrefix)}
		return 0, engineError(calc.KindValidation, "", nil, err)
	}
	n, err := o.cache.InvalidatePrefix(ctx, prefix)
	return n, o.storage(ctx, "", err)
}

// InvalidateDate removes every result for the local civil date y-m-d.
func (o *Orchestrator) InvalidateDate(ctx context.Context, y int, m time.Month, d int) (int, error) {
	n, err := o.cache.InvalidatePrefix(ctx, calc.DatePrefix(y, m, d))
	return n, o.storage(ctx, "", err)
}

// Clear empties every level.
func (o *Orchestrator) Clear(ctx context.Context) error {
	return o.storage(ctx, "", o.cache.Clear(ctx))
}

// storage wraps a cache failure of an admin operation. Removal already
// ran on the tiers that did not fail.
func (o *Orchestrator) storage(ctx context.Context, fp string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return engineError(calc.KindCanceled, fp, nil, err)
	}
	return engineError(calc.KindStorage, fp, nil, err)
}

// HealthCheckers returns one checker per cache level and per backend
// circuit, named "cache:<level>" and "circuit:<backend>".
func (o *Orchestrator) HealthCheckers() []health.Checker {
	var out []health.Checker
	for _, l := range o.cache.Levels() {
		t, _ := o.cache.Tier(l)
		name := "cache:" + l.String()
		switch tier := t.(type) {
		case health.Bounded:
			out = append(out, health.NewCapacityChecker(name, tier, 0))
		case health.Pinger:
			out = append(out, health.NewPingChecker(name, tier, 0))
		}
	}
	for _, m := range o.all() {
		out = append(out, health.NewCircuitChecker("circuit:"+m.desc.Name, m.breaker))
	}
	return out
}

// all returns the routed backends followed by the approximation.
func (o *Orchestrator) all() []*member {
	if o.approx == nil {
		return o.order
	}
	return append(o.order[:len(o.order):len(o.order)], o.approx)
}

// Close stops accepting requests, waits for running computations and
// drains queued cache writes. Calls after the first return nil.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(o.scheduler.Close(ctx), o.cache.Close(ctx))
}
