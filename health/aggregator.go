package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a full CheckAll run.
const DefaultCheckTimeout = 10 * time.Second

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds a full CheckAll run.
	// Default: 10s
	Timeout time.Duration

	// Concurrency limits checks run at once. Zero or less runs them all
	// at once; 1 runs them sequentially in registration order.
	Concurrency int
}

// Report is the outcome of CheckAll.
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]Result `json:"checks"`
}

// Aggregator runs a set of checkers and combines their status.
type Aggregator struct {
	config AggregatorConfig

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates an aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultCheckTimeout
	}
	return &Aggregator{config: config, checkers: make(map[string]Checker)}
}

// Register adds checkers under their names. A name registered again
// replaces the earlier checker and keeps its position.
func (a *Aggregator) Register(checkers ...Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range checkers {
		name := c.Name()
		if _, ok := a.checkers[name]; !ok {
			a.order = append(a.order, name)
		}
		a.checkers[name] = c
	}
}

// Unregister removes a checker.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.checkers, name)
	if i := slices.Index(a.order, name); i >= 0 {
		a.order = slices.Delete(a.order, i, i+1)
	}
}

// CheckerNames returns registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs one named checker.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	c, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}
	return run(ctx, c), nil
}

// CheckAll runs every checker under the aggregate timeout.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	a.mu.RLock()
	checkers := make([]Checker, 0, len(a.order))
	for _, name := range a.order {
		checkers = append(checkers, a.checkers[name])
	}
	a.mu.RUnlock()

	results := make([]Result, len(checkers))
	if len(checkers) > 0 {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		var g errgroup.Group
		if a.config.Concurrency > 0 {
			g.SetLimit(a.config.Concurrency)
		}
		for i, c := range checkers {
			g.Go(func() error {
				results[i] = run(ctx, c)
				return nil
			})
		}
		_ = g.Wait()
	}

	rep := Report{Checks: make(map[string]Result, len(checkers))}
	for i, c := range checkers {
		rep.Checks[c.Name()] = results[i]
	}
	rep.Status = Overall(rep.Checks)
	return rep
}

// Overall returns the worst status in results, or healthy when empty.
func Overall(results map[string]Result) Status {
	worst := StatusHealthy
	for _, r := range results {
		if r.Status > worst {
			worst = r.Status
		}
	}
	return worst
}

// run executes one check, abandoning it when ctx ends first.
func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	ch := make(chan Result, 1)
	go func() {
		r := c.Check(ctx)
		r.Duration = time.Since(start)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}

// Checker returns the aggregator as a single Checker named "aggregate".
func (a *Aggregator) Checker() Checker {
	return NewCheckerFunc("aggregate", func(ctx context.Context) Result {
		rep := a.CheckAll(ctx)
		details := make(map[string]any, len(rep.Checks))
		for name, r := range rep.Checks {
			details[name] = map[string]any{
				"status":  r.Status.String(),
				"message": r.Message,
			}
		}
		r := Result{Status: rep.Status, Details: details, Timestamp: time.Now()}
		switch rep.Status {
		case StatusHealthy:
			r.Message = "all checks passed"
		case StatusDegraded:
			r.Message = "some checks degraded"
		default:
			r.Message = "some checks failed"
		}
		return r
	})
}
