package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is probing for recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateClosed, StateOpen, StateHalfOpen} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("resilience: unknown circuit state %q", text)
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Window is the sliding window over which the failure rate is measured.
	// Default: 60s
	Window time.Duration

	// Buckets is the number of buckets the window is divided into.
	// Default: 10
	Buckets int

	// MinRequests is the number of calls in the window before the failure
	// rate is evaluated.
	// Default: 5
	MinRequests int

	// FailureRate opens the circuit once failures/requests reaches it.
	// Default: 0.5
	FailureRate float64

	// Cooldown is how long the circuit stays open before probing.
	// Default: 30s
	Cooldown time.Duration

	// HalfOpenMaxRequests is the number of concurrent probes in half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// SuccessThreshold is the number of successful probes that close the circuit.
	// Default: 1
	SuccessThreshold int

	// OnStateChange is called when the circuit state changes. It runs with
	// the breaker locked and must not call back into the breaker.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: any non-nil error except context.Canceled.
	IsFailure func(err error) bool
}

type bucket struct {
	start    int64
	requests int
	failures int
}

// CircuitBreaker implements a failure-rate circuit breaker over a
// bucketed sliding window.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	width  time.Duration

	mu            sync.Mutex
	state         State
	buckets       []bucket
	openedAt      time.Time
	halfOpenCount int
	probeSuccess  int
	lastFailure   time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	if config.Buckets <= 0 {
		config.Buckets = 10
	}
	if config.MinRequests <= 0 {
		config.MinRequests = 5
	}
	if config.FailureRate <= 0 || config.FailureRate > 1 {
		config.FailureRate = 0.5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}

	width := config.Window / time.Duration(config.Buckets)
	if width <= 0 {
		width = time.Nanosecond
	}

	return &CircuitBreaker{
		config:  config,
		width:   width,
		state:   StateClosed,
		buckets: make([]bucket, config.Buckets),
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterRequest(err)
	return err
}

// Available reports whether a call would currently be admitted. It does
// not reserve a half-open probe slot.
func (cb *CircuitBreaker) Available() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked(time.Now()) {
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.halfOpenCount < cb.config.HalfOpenMaxRequests
	}
	return true
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked(time.Now())
}

// Reset closes the circuit and clears the window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed, time.Now())
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked(time.Now()) {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	failed := cb.config.IsFailure(err)
	if failed {
		cb.lastFailure = now
	}

	switch cb.state {
	case StateClosed:
		cb.recordLocked(now, failed)
		requests, failures := cb.totalsLocked(now)
		if requests >= cb.config.MinRequests &&
			float64(failures)/float64(requests) >= cb.config.FailureRate {
			cb.transitionLocked(StateOpen, now)
		}

	case StateHalfOpen:
		if cb.halfOpenCount > 0 {
			cb.halfOpenCount--
		}
		if failed {
			cb.transitionLocked(StateOpen, now)
			return
		}
		cb.probeSuccess++
		if cb.probeSuccess >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed, now)
		}
	}
}

// currentStateLocked moves an open circuit to half-open once the cooldown
// has elapsed.
func (cb *CircuitBreaker) currentStateLocked(now time.Time) State {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.transitionLocked(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to State, now time.Time) {
	from := cb.state
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = now
	case StateHalfOpen:
		cb.halfOpenCount = 0
		cb.probeSuccess = 0
	case StateClosed:
		clear(cb.buckets)
		cb.halfOpenCount = 0
		cb.probeSuccess = 0
	}

	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

func (cb *CircuitBreaker) recordLocked(now time.Time, failed bool) {
	n := now.UnixNano()
	w := int64(cb.width)
	start := n - n%w
	b := &cb.buckets[(n/w)%int64(len(cb.buckets))]
	if b.start != start {
		*b = bucket{start: start}
	}
	b.requests++
	if failed {
		b.failures++
	}
}

func (cb *CircuitBreaker) totalsLocked(now time.Time) (requests, failures int) {
	oldest := now.Add(-cb.config.Window).UnixNano()
	for _, b := range cb.buckets {
		if b.requests > 0 && b.start+int64(cb.width) > oldest {
			requests += b.requests
			failures += b.failures
		}
	}
	return requests, failures
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	requests, failures := cb.totalsLocked(now)
	m := CircuitBreakerMetrics{
		State:       cb.currentStateLocked(now),
		Requests:    requests,
		Failures:    failures,
		LastFailure: cb.lastFailure,
		OpenedAt:    cb.openedAt,
	}
	if requests > 0 {
		m.FailureRate = float64(failures) / float64(requests)
	}
	return m
}

// CircuitBreakerMetrics contains circuit breaker statistics for the
// current window.
type CircuitBreakerMetrics struct {
	State       State     `json:"state"`
	Requests    int       `json:"requests"`
	Failures    int       `json:"failures"`
	FailureRate float64   `json:"failure_rate"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	OpenedAt    time.Time `json:"opened_at,omitzero"`
}
