package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/calcops/calc"
	"github.com/jonwraymond/calcops/observe"
)

// Config configures a Hierarchy.
type Config struct {
	L1 Policy `yaml:"l1"`
	L2 Policy `yaml:"l2"`
	L3 Policy `yaml:"l3"`

	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// DefaultConfig returns per-level default policies and queue sizing.
func DefaultConfig() Config {
	return Config{
		L1:          DefaultPolicy(L1),
		L2:          DefaultPolicy(L2),
		L3:          DefaultPolicy(L3),
		Workers:     DefaultWorkers,
		QueueSize:   DefaultQueueSize,
		TaskTimeout: DefaultTaskTimeout,
	}
}

func (c Config) policy(l Level) Policy {
	switch l {
	case L1:
		return c.L1
	case L2:
		return c.L2
	default:
		return c.L3
	}
}

// Tiers assigns a tier to each level. Nil levels are skipped.
type Tiers struct {
	L1, L2, L3 Tier
}

// Lookup is the outcome of Hierarchy.Get.
type Lookup struct {
	Entry Entry
	Hit   bool
	Level Level

	// Stale is the first expired entry still within its grace period.
	Stale *Entry

	// InsufficientPrecision is set when some level held the key at a
	// lower precision than requested.
	InsufficientPrecision bool
}

type level struct {
	lvl    Level
	tier   Tier
	policy Policy
	stats  tierCounters
}

func (l *level) evictions() uint64 {
	if ec, ok := l.tier.(EvictionCounter); ok {
		return ec.Evictions()
	}
	return 0
}

// Option configures a Hierarchy.
type Option func(*Hierarchy)

// WithLogger sets the logger for tier failures.
func WithLogger(l observe.Logger) Option {
	return func(h *Hierarchy) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(h *Hierarchy) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Hierarchy) {
		if now != nil {
			h.now = now
		}
	}
}

// Hierarchy reads L1 to L3 and writes L3 to L1.
//
// Contract:
// - Concurrency: all methods are safe for concurrent use.
// - Tier failures never fail a read; the tier is skipped and counted.
// - Stale and degraded results are never written.
type Hierarchy struct {
	levels  []*level
	queue   *workQueue
	logger  observe.Logger
	metrics observe.Metrics
	now     func() time.Time

	hits       atomic.Uint64
	misses     atomic.Uint64
	promotions atomic.Uint64
}

// NewHierarchy builds a hierarchy over the configured tiers.
func NewHierarchy(cfg Config, tiers Tiers, opts ...Option) (*Hierarchy, error) {
	h := &Hierarchy{
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	for _, lt := range []struct {
		lvl  Level
		tier Tier
	}{{L1, tiers.L1}, {L2, tiers.L2}, {L3, tiers.L3}} {
		if lt.tier == nil {
			continue
		}
		h.levels = append(h.levels, &level{lvl: lt.lvl, tier: lt.tier, policy: cfg.policy(lt.lvl)})
	}
	if len(h.levels) == 0 {
		return nil, ErrNoTiers
	}

	h.queue = newWorkQueue(cfg.Workers, cfg.QueueSize, cfg.TaskTimeout)
	return h, nil
}

// Levels returns the configured levels, fastest first.
func (h *Hierarchy) Levels() []Level {
	out := make([]Level, len(h.levels))
	for i, l := range h.levels {
		out[i] = l.lvl
	}
	return out
}

// Tier returns the tier at a level.
func (h *Hierarchy) Tier(l Level) (Tier, bool) {
	if lv := h.level(l); lv != nil {
		return lv.tier, true
	}
	return nil, false
}

func (h *Hierarchy) level(l Level) *level {
	for _, lv := range h.levels {
		if lv.lvl == l {
			return lv
		}
	}
	return nil
}

// Want describes the entries a lookup accepts.
type Want struct {
	// Precision is the minimum precision.
	Precision calc.Precision

	// Validated accepts only results that were cross-checked.
	Validated bool
}

// Get is Find with a minimum precision only.
func (h *Hierarchy) Get(ctx context.Context, key string, minimum calc.Precision) Lookup {
	return h.Find(ctx, key, Want{Precision: minimum})
}

// Find returns the first fresh entry accepted by w, from the fastest level
// holding one. Lower-level hits are promoted upward in the background.
// Entries that fail w are misses and never stale candidates.
func (h *Hierarchy) Find(ctx context.Context, key string, w Want) Lookup {
	var res Lookup
	now := h.now()

	for i, lv := range h.levels {
		e, ok, err := lv.tier.Get(ctx, key)
		if err != nil {
			h.tierFailed(ctx, lv, "get", key, err)
			continue
		}
		if !ok {
			lv.stats.misses.Add(1)
			continue
		}
		if !e.Result.Precision.Satisfies(w.Precision) {
			res.InsufficientPrecision = true
			lv.stats.misses.Add(1)
			continue
		}
		if w.Validated && e.Result.Strategy != calc.Validated {
			lv.stats.misses.Add(1)
			continue
		}
		e.Tier = lv.tier.Name()
		if e.Expired(now) {
			lv.stats.misses.Add(1)
			if res.Stale == nil && lv.policy.servableStale(e, now) {
				stale := e
				res.Stale = &stale
			}
			continue
		}

		lv.stats.hits.Add(1)
		h.hits.Add(1)
		h.metrics.RecordCacheHit(ctx, lv.lvl.String())
		if i > 0 {
			h.promote(ctx, e, h.levels[:i], now)
		}
		res.Entry, res.Hit, res.Level = e, true, lv.lvl
		return res
	}

	h.misses.Add(1)
	h.metrics.RecordCacheMiss(ctx)
	return res
}

func (h *Hierarchy) promote(ctx context.Context, e Entry, targets []*level, now time.Time) {
	for _, lv := range targets {
		pe := e
		pe.Tier = ""
		pe.InsertedAt = now
		pe.ExpiresAt = promotedExpiry(e, lv.policy.TTL, now)
		pe.Result = e.Result.Clone()
		retain := time.Duration(0)
		if !pe.ExpiresAt.IsZero() {
			retain = lv.policy.Retention(pe.ExpiresAt.Sub(now))
		}
		h.queue.submit(ctx, func(ctx context.Context) {
			if err := lv.tier.Set(ctx, pe, retain); err != nil {
				h.tierFailed(ctx, lv, "promote", pe.Key, err)
				return
			}
			h.promotions.Add(1)
		})
	}
}

// promotedExpiry keeps the source expiry when it is sooner than the target
// level's TTL.
func promotedExpiry(e Entry, ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		return e.ExpiresAt
	}
	exp := now.Add(ttl)
	if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(exp) {
		return e.ExpiresAt
	}
	return exp
}

// Put writes r to every level, slowest first, and returns every tier
// failure joined. Results that are not cacheable are ignored.
func (h *Hierarchy) Put(ctx context.Context, key string, r calc.Result) error {
	if !r.Cacheable() {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	now := h.now()
	var errs []error
	for i := len(h.levels) - 1; i >= 0; i-- {
		if err := h.write(ctx, h.levels[i], key, r, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PutAsync writes L1 synchronously and hands the slower levels to the
// background queue. If the queue is full or closed the slower levels are
// written inline, so every level eventually holds the entry.
func (h *Hierarchy) PutAsync(ctx context.Context, key string, r calc.Result) error {
	if !r.Cacheable() {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	now := h.now()
	first, rest := h.levels[0], h.levels[1:]
	err := h.write(ctx, first, key, r, now)
	if len(rest) == 0 {
		return err
	}

	r = r.Clone()
	writeRest := func(ctx context.Context) {
		for i := len(rest) - 1; i >= 0; i-- {
			_ = h.write(ctx, rest[i], key, r, now)
		}
	}
	if !h.queue.submit(ctx, writeRest) {
		h.queue.exec(context.WithoutCancel(ctx), writeRest)
	}
	return err
}

// Store writes r to a single level, e.g. precomputed values into L3.
func (h *Hierarchy) Store(ctx context.Context, l Level, key string, r calc.Result) error {
	lv := h.level(l)
	if lv == nil {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, l)
	}
	if !r.Cacheable() {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	return h.write(ctx, lv, key, r, h.now())
}

func (h *Hierarchy) write(ctx context.Context, lv *level, key string, r calc.Result, now time.Time) error {
	ttl := lv.policy.EffectiveTTL(0)
	e := NewEntry(key, r, ttl, now)
	if err := lv.tier.Set(ctx, e, lv.policy.Retention(ttl)); err != nil {
		h.tierFailed(ctx, lv, "set", key, err)
		return fmt.Errorf("cache: %s set: %w", lv.lvl, err)
	}
	return nil
}

// Invalidate removes key from every level. Background writes queued
// before the call finish first so they cannot restore the entry.
func (h *Hierarchy) Invalidate(ctx context.Context, key string) error {
	var errs []error
	if err := h.flushBefore(ctx, "delete"); err != nil {
		errs = append(errs, err)
	}
	for _, lv := range h.levels {
		if err := lv.tier.Delete(ctx, key); err != nil {
			h.tierFailed(ctx, lv, "delete", key, err)
			errs = append(errs, fmt.Errorf("cache: %s delete: %w", lv.lvl, err))
		}
	}
	return errors.Join(errs...)
}

// InvalidatePrefix removes every key with the prefix from every level and
// returns the total removed. Like Invalidate it waits for queued writes.
func (h *Hierarchy) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		total int
		errs  []error
	)
	if err := h.flushBefore(ctx, "delete prefix"); err != nil {
		errs = append(errs, err)
	}
	for _, lv := range h.levels {
		n, err := lv.tier.DeletePrefix(ctx, prefix)
		total += n
		if err != nil {
			h.tierFailed(ctx, lv, "delete_prefix", prefix, err)
			errs = append(errs, fmt.Errorf("cache: %s delete prefix: %w", lv.lvl, err))
		}
	}
	return total, errors.Join(errs...)
}

// Clear empties every level.
func (h *Hierarchy) Clear(ctx context.Context) error {
	_, err := h.InvalidatePrefix(ctx, "")
	return err
}

// flushBefore waits for queued writes ahead of op. On timeout op still
// runs and the error is reported with its result.
func (h *Hierarchy) flushBefore(ctx context.Context, op string) error {
	if err := h.queue.flush(ctx); err != nil {
		return fmt.Errorf("cache: flush before %s: %w", op, err)
	}
	return nil
}

func (h *Hierarchy) tierFailed(ctx context.Context, lv *level, op, key string, err error) {
	lv.stats.errors.Add(1)
	h.metrics.RecordTierError(ctx, lv.lvl.String(), op)
	h.logger.Warn(ctx, "cache tier failed",
		observe.Field{Key: "tier", Value: lv.tier.Name()},
		observe.Field{Key: "cache_level", Value: lv.lvl.String()},
		observe.Field{Key: "op", Value: op},
		observe.Field{Key: "key", Value: key},
		observe.Field{Key: "error", Value: err},
	)
}

// Stats returns a snapshot of the counters.
func (h *Hierarchy) Stats() Stats {
	s := Stats{
		Tiers:      make([]TierStats, 0, len(h.levels)),
		Hits:       h.hits.Load(),
		Misses:     h.misses.Load(),
		Promotions: h.promotions.Load(),
		Dropped:    h.queue.full.Load(),
	}
	for _, lv := range h.levels {
		ev := lv.evictions()
		base := lv.stats.evictionsBase.Load()
		if base > ev {
			base = ev
		}
		s.Tiers = append(s.Tiers, TierStats{
			Level:     lv.lvl,
			Name:      lv.tier.Name(),
			Hits:      lv.stats.hits.Load(),
			Misses:    lv.stats.misses.Load(),
			Errors:    lv.stats.errors.Load(),
			Evictions: ev - base,
		})
	}
	return s
}

// ResetStats zeroes every counter.
func (h *Hierarchy) ResetStats() {
	h.hits.Store(0)
	h.misses.Store(0)
	h.promotions.Store(0)
	h.queue.full.Store(0)
	for _, lv := range h.levels {
		lv.stats.reset(lv.evictions())
	}
}

// Flush waits for queued background writes to finish.
func (h *Hierarchy) Flush(ctx context.Context) error { return h.queue.flush(ctx) }

// Close stops background work after draining the queue. Tiers are not
// closed; they belong to the caller.
func (h *Hierarchy) Close(ctx context.Context) error { return h.queue.close(ctx) }
