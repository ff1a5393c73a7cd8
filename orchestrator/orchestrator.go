package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/batch"
	"github.com/jonwraymond/calcops/cache"
	"github.com/jonwraymond/calcops/calc"
	"github.com/jonwraymond/calcops/observe"
	"github.com/jonwraymond/calcops/resilience"
	"github.com/jonwraymond/calcops/router"
)

// Fallback steps reported to Metrics.RecordFallback.
const (
	FallbackStale         = "stale"
	FallbackApproximation = "approximation"
	FallbackExhausted     = "exhausted"
)

// member is one backend with its resilience state.
type member struct {
	desc    backend.Descriptor
	impl    backend.Backend
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	slots   *resilience.Bulkhead
	retries bool
}

// Orchestrator is the calculation entry point. It resolves requests
// against the cache hierarchy and, on a miss, computes them once per
// coalescing key through the router and each backend's resilience stack.
//
// Contract:
// - Concurrency: all methods are safe for concurrent use.
// - Errors: Calculate returns only *calc.EngineError.
// - Failures, stale results and degraded results are never cached.
type Orchestrator struct {
	cfg       Config
	members   map[string]*member
	order     []*member
	approx    *member
	router    *router.Router
	scheduler *batch.Scheduler
	cache     *cache.Hierarchy
	checker   router.CrossChecker
	tracker   *backend.Tracker
	metrics   observe.Metrics
	logger    observe.Logger
	tracer    observe.Tracer
	mw        *observe.Middleware
	now       func() time.Time

	stampMu sync.Mutex
	last    time.Time

	closed atomic.Bool

	requests atomic.Uint64
	hits     atomic.Uint64
	computed atomic.Uint64
	stale    atomic.Uint64
	degraded atomic.Uint64
	failed   atomic.Uint64
}

// New builds an orchestrator over backends. An empty or nil set is
// allowed: every miss then goes straight to the fallback chain.
func New(cfg Config, backends *backend.Set, opts ...Option) (*Orchestrator, error) {
	if cfg.DefaultPrecision == calc.PrecisionUnset {
		cfg.DefaultPrecision = calc.DefaultPrecision
	}
	if cfg.Epoch.Min.IsZero() && cfg.Epoch.Max.IsZero() {
		cfg.Epoch = calc.DefaultBounds()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:     cfg,
		members: make(map[string]*member, backends.Len()),
		metrics: observe.NopMetrics(),
		logger:  observe.NopLogger(),
		tracer:  observe.NopTracer(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = backend.NewTracker(cfg.TrackerAlpha)
	}
	if o.checker == nil {
		o.checker = cfg.Validation.checker()
	}
	if o.cache == nil {
		h, err := cache.NewHierarchy(cache.DefaultConfig(),
			cache.Tiers{L1: cache.NewMemoryTier(cache.MemoryConfig{})},
			cache.WithLogger(o.logger), cache.WithMetrics(o.metrics))
		if err != nil {
			return nil, err
		}
		o.cache = h
	}
	o.mw = observe.NewMiddleware(o.tracer, o.metrics, o.logger, outcome)

	for _, d := range backends.Descriptors() {
		_, impl, _ := backends.Get(d.Name)
		m := o.newMember(d, impl, true)
		o.members[d.Name] = m
		o.order = append(o.order, m)
	}
	if o.approx != nil {
		if o.approx.desc.Name == "" {
			o.approx.desc.Name = "approximation"
		}
		if _, ok := o.members[o.approx.desc.Name]; ok {
			return nil, fmt.Errorf("%w: approximation %q is also a routed backend", ErrInvalidConfig, o.approx.desc.Name)
		}
		o.approx = o.newMember(o.approx.desc, o.approx.impl, false)
	}

	if backends.Len() > 0 {
		r, err := router.New(backends, cfg.Router,
			router.WithTracker(o.tracker),
			router.WithAvailability(o.available))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		o.router = r
	}

	o.scheduler = batch.New(cfg.Scheduler, batch.WithMetrics(o.metrics), batch.WithLogger(o.logger))
	o.cfg.Scheduler = o.scheduler.Config()
	if o.cfg.BatchFanout <= 0 {
		o.cfg.BatchFanout = o.cfg.Scheduler.MaxConcurrent
	}
	return o, nil
}

func (o *Orchestrator) newMember(d backend.Descriptor, impl backend.Backend, retries bool) *member {
	m := &member{desc: d, impl: impl, retries: retries}
	m.breaker = o.cfg.Circuit.breaker(func(from, to resilience.State) {
		ctx := context.Background()
		o.metrics.RecordCircuitStateChange(ctx, d.Name, from.String(), to.String())
		o.logger.Warn(ctx, "circuit state changed",
			observe.Field{Key: "backend", Value: d.Name},
			observe.Field{Key: "from", Value: from.String()},
			observe.Field{Key: "to", Value: to.String()},
		)
	})
	if d.RateLimit > 0 {
		m.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        d.RateLimit,
			Burst:       max(1, int(math.Ceil(d.RateLimit))),
			WaitOnLimit: true,
			MaxWait:     max(d.MaxLatency, time.Second),
		})
	}
	if d.MaxConcurrency > 0 {
		m.slots = resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: d.MaxConcurrency,
			MaxWait:       max(d.MaxLatency, time.Second),
		})
	}
	return m
}

func (o *Orchestrator) available(name string) bool {
	m, ok := o.members[name]
	return ok && m.breaker.Available()
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Cache returns the cache hierarchy.
func (o *Orchestrator) Cache() *cache.Hierarchy { return o.cache }

// Calculate returns the result for req from the cache or a computation.
//
// Invalid requests fail with KindValidation before any cache or backend
// access. A caller whose ctx ends stops waiting with KindCanceled; the
// computation continues for other callers and is still cached.
func (o *Orchestrator) Calculate(ctx context.Context, req calc.Request) (calc.Result, error) {
	o.requests.Add(1)
	if o.closed.Load() {
		return o.fail(ctx, engineError(calc.KindClosed, "", nil, calc.ErrClosed))
	}

	req = req.Normalize(o.cfg.DefaultPrecision)
	if err := req.Validate(o.cfg.Epoch); err != nil {
		o.failed.Add(1)
		o.logger.Debug(ctx, "request rejected", observe.Field{Key: "error", Value: err})
		return calc.Result{}, engineError(calc.KindValidation, "", nil, err)
	}

	req.Strategy = o.strategy(req)
	fp := calc.Fingerprint(req)
	ctx, span := o.tracer.StartSpan(ctx, observe.CallMeta{
		Operation:   "calculate",
		Fingerprint: fp,
		Strategy:    req.Strategy.String(),
	})
	res, err := o.calculate(ctx, req, fp, o.cache.PutAsync)
	o.tracer.EndSpan(span, err)
	return res, err
}

type writeFunc func(ctx context.Context, key string, r calc.Result) error

func (o *Orchestrator) calculate(ctx context.Context, req calc.Request, fp string, write writeFunc) (calc.Result, error) {
	look := o.cache.Find(ctx, fp, want(req))
	if look.Hit {
		o.hits.Add(1)
		return look.Entry.Result.Clone(), nil
	}

	res, err := o.submit(ctx, req, fp, write)
	if err == nil {
		return res, nil
	}
	return o.resolve(ctx, req, fp, look, err)
}

func (o *Orchestrator) submit(ctx context.Context, req calc.Request, fp string, write writeFunc) (calc.Result, error) {
	key := calc.CoalesceKey(req, o.cfg.Scheduler.CoalesceWindow)
	res, _, err := o.scheduler.Submit(ctx, key, func(ctx context.Context) (calc.Result, error) {
		return o.compute(ctx, req, fp, write)
	})
	return res, err
}

// resolve maps a failed computation to an error or a fallback result.
func (o *Orchestrator) resolve(ctx context.Context, req calc.Request, fp string, look cache.Lookup, err error) (calc.Result, error) {
	if ctx.Err() != nil {
		return o.fail(ctx, engineError(calc.KindCanceled, fp, nil, ctx.Err()))
	}
	if errors.Is(err, batch.ErrClosed) {
		return o.fail(ctx, engineError(calc.KindClosed, fp, nil, err))
	}
	var ee *calc.EngineError
	if errors.As(err, &ee) {
		return o.fail(ctx, ee)
	}

	var tried []string
	var ex *exhaustedError
	if errors.As(err, &ex) {
		tried, err = slices.Clone(ex.tried), ex.err
	}
	return o.fallback(ctx, req, fp, look, tried, err)
}

// fallback serves the stale entry, then the approximation, then fails.
func (o *Orchestrator) fallback(ctx context.Context, req calc.Request, fp string, look cache.Lookup, tried []string, cause error) (calc.Result, error) {
	if look.Stale != nil {
		res := look.Stale.Result.Clone()
		res.Stale = true
		o.stale.Add(1)
		o.metrics.RecordFallback(ctx, FallbackStale)
		o.logger.Warn(ctx, "serving stale result",
			observe.Field{Key: "fingerprint", Value: fp},
			observe.Field{Key: "tier", Value: look.Stale.Tier},
			observe.Field{Key: "expired_at", Value: look.Stale.ExpiresAt},
			observe.Field{Key: "error", Value: cause},
		)
		return res, nil
	}

	if o.approx != nil && !slices.Contains(tried, o.approx.desc.Name) {
		tried = append(tried, o.approx.desc.Name)
		res, err := o.call(ctx, o.approx, req, fp, o.strategy(req))
		if err == nil {
			res.Degraded = true
			o.degraded.Add(1)
			o.metrics.RecordFallback(ctx, FallbackApproximation)
			o.logger.Warn(ctx, "serving approximation",
				observe.Field{Key: "fingerprint", Value: fp},
				observe.Field{Key: "backend", Value: o.approx.desc.Name},
				observe.Field{Key: "error", Value: cause},
			)
			return res, nil
		}
		cause = err
	}

	o.metrics.RecordFallback(ctx, FallbackExhausted)
	return o.fail(ctx, engineError(calc.KindFallbackExhausted, fp, tried, &calc.FallbackError{
		Fingerprint:                fp,
		Tried:                      tried,
		LastErr:                    cause,
		StalePrecisionInsufficient: look.InsufficientPrecision,
	}))
}

func (o *Orchestrator) fail(ctx context.Context, ee *calc.EngineError) (calc.Result, error) {
	o.failed.Add(1)
	if ee.Kind != calc.KindCanceled {
		o.logger.Error(ctx, "calculation failed",
			observe.Field{Key: "kind", Value: ee.Kind.String()},
			observe.Field{Key: "fingerprint", Value: ee.Fingerprint},
			observe.Field{Key: "backends", Value: ee.Backends},
			observe.Field{Key: "error", Value: ee.Err},
		)
	}
	return calc.Result{}, ee
}

// want is what a cached entry must satisfy to answer req. A validated
// request is only answered by a cross-checked result.
func want(req calc.Request) cache.Want {
	return cache.Want{Precision: req.Precision, Validated: req.Strategy == calc.Validated}
}

// strategy resolves the request's strategy against the configured default.
func (o *Orchestrator) strategy(req calc.Request) calc.Strategy {
	if req.Strategy != calc.StrategyDefault {
		return req.Strategy
	}
	if o.router != nil {
		return o.router.Config().Default
	}
	if o.cfg.Router.Default != calc.StrategyDefault {
		return o.cfg.Router.Default
	}
	return calc.Intelligent
}

// compute runs on the scheduler with a context detached from callers.
func (o *Orchestrator) compute(ctx context.Context, req calc.Request, fp string, write writeFunc) (calc.Result, error) {
	if o.router == nil {
		return calc.Result{}, &exhaustedError{err: router.ErrNoEligibleBackend}
	}
	plan, err := o.router.Select(req, req.Strategy)
	if err != nil {
		return calc.Result{}, &exhaustedError{err: err}
	}

	var res calc.Result
	if plan.Validate {
		res, err = o.runValidated(ctx, req, fp, plan)
	} else {
		res, err = o.runSequential(ctx, req, fp, plan)
	}
	if err != nil {
		return calc.Result{}, err
	}

	o.computed.Add(1)
	// Tier failures are logged and counted by the hierarchy.
	_ = write(ctx, fp, res)
	return res, nil
}

// runSequential tries each planned backend in order. A permanent failure
// ends the plan; transient exhaustion moves to the next backend.
func (o *Orchestrator) runSequential(ctx context.Context, req calc.Request, fp string, plan router.Plan) (calc.Result, error) {
	var (
		tried []string
		last  error
	)
	for _, d := range plan.Backends {
		m := o.members[d.Name]
		if !m.breaker.Available() {
			continue
		}
		tried = append(tried, d.Name)
		res, err := o.call(ctx, m, req, fp, plan.Strategy)
		if err == nil {
			return res, nil
		}
		last = err
		if permanent(err) {
			return calc.Result{}, engineError(calc.KindPermanent, fp, tried, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if last == nil {
		last = resilience.ErrCircuitOpen
	}
	return calc.Result{}, &exhaustedError{tried: tried, err: last}
}

// runValidated runs every planned backend concurrently and requires their
// results to agree. The primary's result is returned.
func (o *Orchestrator) runValidated(ctx context.Context, req calc.Request, fp string, plan router.Plan) (calc.Result, error) {
	tried := plan.Names()
	candidates := make([]calc.Result, len(plan.Backends))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range plan.Backends {
		m := o.members[d.Name]
		g.Go(func() error {
			res, err := o.call(gctx, m, req, fp, plan.Strategy)
			if err != nil {
				return err
			}
			candidates[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if permanent(err) {
			return calc.Result{}, engineError(calc.KindPermanent, fp, tried, err)
		}
		return calc.Result{}, &exhaustedError{tried: tried, err: err}
	}

	if diffs := o.checker.Check(req.Precision, candidates); len(diffs) > 0 {
		o.logger.Warn(ctx, "validated backends disagree",
			observe.Field{Key: "fingerprint", Value: fp},
			observe.Field{Key: "backends", Value: tried},
			observe.Field{Key: "fields", Value: len(diffs)},
		)
		return calc.Result{}, engineError(calc.KindMismatch, fp, tried, &calc.MismatchError{
			Fingerprint: fp,
			Candidates:  candidates,
			Diffs:       diffs,
		})
	}
	return candidates[0], nil
}

// call invokes one backend through its resilience stack and stamps the
// result's provenance.
func (o *Orchestrator) call(ctx context.Context, m *member, req calc.Request, fp string, strategy calc.Strategy) (calc.Result, error) {
	var attempt atomic.Int64
	res, err := resilience.Do(ctx, o.executor(ctx, m), func(ctx context.Context) (calc.Result, error) {
		meta := observe.CallMeta{
			Operation:   "backend",
			Backend:     m.desc.Name,
			Fingerprint: fp,
			Strategy:    strategy.String(),
			Attempt:     int(attempt.Add(1)),
		}
		var out calc.Result
		start := time.Now()
		err := o.mw.Call(ctx, meta, func(ctx context.Context) error {
			var err error
			out, err = m.impl.Compute(ctx, req)
			return err
		})
		o.tracker.Observe(m.desc.Name, time.Since(start), err)
		return out, err
	})
	if err != nil {
		return calc.Result{}, err
	}

	res = res.Clone()
	res.Backend = m.desc.Name
	res.Strategy = strategy
	res.Precision = req.Precision
	res.Stale, res.Degraded = false, false
	res.ComputationID = uuid.NewString()
	res.ComputedAt = o.stamp()
	return res, nil
}

// executor composes rate limit, concurrency limit, breaker, retry and
// per-attempt timeout.
// The retry policy is built per call so its state is never shared.
func (o *Orchestrator) executor(ctx context.Context, m *member) *resilience.Executor {
	opts := []resilience.ExecutorOption{
		resilience.WithCircuitBreaker(m.breaker),
		resilience.WithTimeout(m.desc.MaxLatency),
	}
	if m.limiter != nil {
		opts = append(opts, resilience.WithRateLimiter(m.limiter))
	}
	if m.slots != nil {
		opts = append(opts, resilience.WithBulkhead(m.slots))
	}
	if m.retries {
		opts = append(opts, resilience.WithRetry(o.cfg.Retry.retry(func(s resilience.RetryState, err error) {
			o.metrics.RecordRetry(ctx, m.desc.Name, s.Attempt)
			o.logger.Debug(ctx, "retrying backend",
				observe.Field{Key: "backend", Value: m.desc.Name},
				observe.Field{Key: "attempt", Value: s.Attempt},
				observe.Field{Key: "backoff_ms", Value: s.Backoff.Milliseconds()},
				observe.Field{Key: "error", Value: err},
			)
		})))
	}
	return resilience.NewExecutor(opts...)
}

// stamp returns a computation timestamp later than every earlier one.
func (o *Orchestrator) stamp() time.Time {
	o.stampMu.Lock()
	defer o.stampMu.Unlock()

	t := o.now().Round(0)
	if !t.After(o.last) {
		t = o.last.Add(time.Nanosecond)
	}
	o.last = t
	return t
}

// outcome labels backend attempts for metrics and logs.
func outcome(err error) string {
	switch {
	case err == nil:
		return observe.OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, backend.ErrRateLimited):
		return "rate_limited"
	case backend.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
