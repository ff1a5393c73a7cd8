package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/calcops/calc"
	"github.com/jonwraymond/calcops/observe"
	"github.com/jonwraymond/calcops/resilience"
)

// Defaults.
const (
	DefaultMaxConcurrent  = 100
	DefaultComputeTimeout = 30 * time.Second
	DefaultShards         = 32
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("batch: scheduler closed")

	// ErrPanicked wraps a panic recovered from a computation.
	ErrPanicked = errors.New("batch: computation panicked")
)

// Outcome tells a caller how its submission was served.
type Outcome int

const (
	// Executed means this submission ran the computation.
	Executed Outcome = iota + 1
	// Shared means this submission joined a computation already in flight.
	Shared
	// Abandoned means the caller stopped waiting; the computation went on.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case Shared:
		return "shared"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Config configures a Scheduler.
type Config struct {
	// MaxConcurrent bounds distinct in-flight computations.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ComputeTimeout bounds each computation independently of callers.
	ComputeTimeout time.Duration `yaml:"compute_timeout"`

	// Shards is rounded up to a power of two.
	Shards int `yaml:"shards"`

	// CoalesceWindow truncates request time when deriving the coalescing
	// key. Zero coalesces exact matches only.
	CoalesceWindow time.Duration `yaml:"coalesce_window"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  DefaultMaxConcurrent,
		ComputeTimeout: DefaultComputeTimeout,
		Shards:         DefaultShards,
	}
}

// Func computes a result. Its context is detached from every caller.
type Func func(ctx context.Context) (calc.Result, error)

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Shared    uint64 `json:"shared"`
	Abandoned uint64 `json:"abandoned"`
	InFlight  int64  `json:"in_flight"` // computations started and not finished
	Queued    int    `json:"queued"`    // computations waiting for a slot
	Waiting   int64  `json:"waiting"`   // callers blocked on a result
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler deduplicates computations by key.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: the caller's ctx bounds only its wait.
// - Errors: every waiter on a computation receives the same error.
type Scheduler struct {
	cfg     Config
	groups  []*singleflight.Group
	mask    uint64
	limit   *resilience.Bulkhead
	metrics observe.Metrics
	logger  observe.Logger

	submitted atomic.Uint64
	executed  atomic.Uint64
	shared    atomic.Uint64
	abandoned atomic.Uint64
	inflight  atomic.Int64
	waiting   atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = DefaultComputeTimeout
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	n := 1
	for n < cfg.Shards {
		n <<= 1
	}
	cfg.Shards = n

	s := &Scheduler{
		cfg:     cfg,
		groups:  make([]*singleflight.Group, n),
		mask:    uint64(n - 1),
		limit:   resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: cfg.MaxConcurrent}),
		metrics: observe.NopMetrics(),
		logger:  observe.NopLogger(),
	}
	for i := range s.groups {
		s.groups[i] = &singleflight.Group{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

func (s *Scheduler) group(key string) *singleflight.Group {
	return s.groups[xxhash.Sum64String(key)&s.mask]
}

// Submit runs fn under key, or joins the computation already running for
// key. The returned result is the caller's own copy.
func (s *Scheduler) Submit(ctx context.Context, key string, fn Func) (calc.Result, Outcome, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return calc.Result{}, 0, ErrClosed
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	s.submitted.Add(1)

	var ran atomic.Bool
	detached := context.WithoutCancel(ctx)
	ch := s.group(key).DoChan(key, func() (any, error) {
		ran.Store(true)
		return s.compute(detached, key, fn)
	})

	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	select {
	case r := <-ch:
		s.wg.Done()
		outcome := Executed
		if !ran.Load() {
			outcome = Shared
			s.shared.Add(1)
			s.metrics.RecordCoalesced(ctx)
		}
		res, _ := r.Val.(calc.Result)
		if r.Err != nil {
			return calc.Result{}, outcome, r.Err
		}
		return res.Clone(), outcome, nil

	case <-ctx.Done():
		s.abandoned.Add(1)
		go func() {
			<-ch
			s.wg.Done()
		}()
		return calc.Result{}, Abandoned, ctx.Err()
	}
}

func (s *Scheduler) compute(ctx context.Context, key string, fn Func) (res calc.Result, err error) {
	s.executed.Add(1)
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ComputeTimeout)
	defer cancel()

	if err := s.limit.Acquire(ctx); err != nil {
		return calc.Result{}, err
	}
	defer s.limit.Release()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
			s.logger.Error(ctx, "computation panicked",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "panic", Value: fmt.Sprint(r)},
			)
		}
	}()
	return fn(ctx)
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Executed:  s.executed.Load(),
		Shared:    s.shared.Load(),
		Abandoned: s.abandoned.Load(),
		InFlight:  s.inflight.Load(),
		Queued:    s.limit.Metrics().Queued,
		Waiting:   s.waiting.Load(),
	}
}

// ResetStats zeroes the cumulative counters.
func (s *Scheduler) ResetStats() {
	s.submitted.Store(0)
	s.executed.Store(0)
	s.shared.Store(0)
	s.abandoned.Store(0)
}

// Close refuses new submissions and waits for in-flight computations.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
