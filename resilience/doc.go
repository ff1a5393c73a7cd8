// Package resilience wraps calls to unreliable dependencies.
//
// # Patterns
//
//   - Retry: retries transient failures (timeouts, rate limits, errors
//     reporting Transient() == true) with exponential backoff and ±25%
//     jitter. A Retry-After hint on the failure replaces the computed delay
//     for the next attempt. Deterministic rejections are returned at once.
//
//   - Circuit Breaker: tracks the failure rate over a sliding window and
//     opens once it crosses a threshold. After a cooldown a single probe is
//     admitted (half-open) before the circuit closes again.
//
//   - Timeout: bounds each attempt with its own deadline.
//
//   - Rate Limiter: client-side token bucket in front of a dependency.
//
//   - Bulkhead: bounds concurrency; excess callers queue in arrival order.
//
// # Usage
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    Window:      time.Minute,
//	    FailureRate: 0.5,
//	    Cooldown:    30 * time.Second,
//	})
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts:  5,
//	        InitialDelay: 100 * time.Millisecond,
//	        MaxDelay:     5 * time.Second,
//	    })),
//	    resilience.WithTimeout(2*time.Second),
//	)
//
//	result, err := resilience.Do(ctx, executor, func(ctx context.Context) (Result, error) {
//	    return callBackend(ctx)
//	})
package resilience
