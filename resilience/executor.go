package resilience

import (
	"context"
	"sync"
	"time"
)

// Executor composes resilience patterns around one dependency.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout adds a per-attempt timeout to the executor.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
		}
	}
}

// CircuitBreaker returns the executor's breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.circuitBreaker
}

// Execute runs the operation through all configured resilience patterns.
//
// The execution order is:
// 1. Rate Limiter (if configured) - limits request rate
// 2. Bulkhead (if configured) - limits concurrency
// 3. Circuit Breaker (if configured) - records one outcome per call
// 4. Retry (if configured) - retries transient failures
// 5. Timeout (if configured) - bounds each attempt
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.circuitBreaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.circuitBreaker.Execute(ctx, inner)
		}
	}

	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}

// Do runs op through e and returns the value of the successful attempt.
// Values from attempts abandoned by a timeout are discarded.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		out = v
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
