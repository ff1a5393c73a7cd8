package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential doubles the delay each attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// DefaultJitter is the default jitter fraction (±25%).
const DefaultJitter = 0.25

// RetryState is the per-call retry state. Each Execute owns its own.
type RetryState struct {
	// Attempt is the number of the attempt that just failed, starting at 1.
	Attempt int
	// Backoff is the wait before the next attempt.
	Backoff time.Duration
	// Deadline is the caller's deadline; zero when there is none.
	Deadline time.Time
}

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 5
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the computed delay before jitter.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter is the symmetric jitter fraction: a delay d becomes a uniform
	// value in [d*(1-Jitter), d*(1+Jitter)]. Negative disables jitter.
	// Default: 0.25
	Jitter float64

	// RetryIf determines if an error should trigger a retry.
	// Default: IsRetryable.
	RetryIf func(err error) bool

	// RetryAfter extracts a server-provided delay that replaces the
	// computed backoff for the next attempt.
	// Default: RetryAfterHint.
	RetryAfter func(err error) (time.Duration, bool)

	// OnRetry is called before each wait.
	OnRetry func(state RetryState, err error)
}

// Retry implements retry with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.Jitter == 0 {
		config.Jitter = DefaultJitter
	}
	if config.Jitter > 1 {
		config.Jitter = 1
	}
	if config.RetryIf == nil {
		config.RetryIf = IsRetryable
	}
	if config.RetryAfter == nil {
		config.RetryAfter = RetryAfterHint
	}

	return &Retry{config: config}
}

// Execute runs op until it succeeds, fails with a non-retryable error, runs
// out of attempts, or the next wait would cross the context deadline.
// Exhaustion returns an error wrapping both ErrMaxRetriesExceeded and the
// last failure.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var state RetryState
	if dl, ok := ctx.Deadline(); ok {
		state.Deadline = dl
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		state.Attempt = attempt

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if hint, ok := r.config.RetryAfter(err); ok {
			delay = hint
		}
		if !state.Deadline.IsZero() && time.Now().Add(delay).After(state.Deadline) {
			break
		}
		state.Backoff = delay

		if r.config.OnRetry != nil {
			r.config.OnRetry(state, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, state.Attempt, lastErr)
}

// calculateDelay returns the wait after the given failed attempt.
func (r *Retry) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffConstant:
		delay = r.config.InitialDelay
	case BackoffLinear:
		delay = r.config.InitialDelay * time.Duration(attempt)
	default:
		multiplier := math.Pow(r.config.Multiplier, float64(attempt-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)
	}

	if delay > r.config.MaxDelay || delay < 0 {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter > 0 && delay > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		factor := 1 + r.config.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
	}

	return delay
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// IsRetryable reports whether err belongs to a transient failure class:
// timeouts, rate limiting, or any error in the chain implementing
// Transient() bool that returns true. Cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimitExceeded) {
		return true
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// RetryAfterHint returns the delay carried by an error in the chain
// implementing RetryAfter() (time.Duration, bool).
func RetryAfterHint(err error) (time.Duration, bool) {
	var h interface {
		RetryAfter() (time.Duration, bool)
	}
	if errors.As(err, &h) {
		if d, ok := h.RetryAfter(); ok && d > 0 {
			return d, true
		}
	}
	return 0, false
}
