package health

import (
	"context"
	"time"
)

// Status is the health of one component.
type Status int

const (
	// StatusHealthy means the component serves normally.
	StatusHealthy Status = iota
	// StatusDegraded means the component serves with reduced capacity,
	// e.g. a backend skipped behind an open circuit.
	StatusDegraded
	// StatusUnhealthy means the component does not serve.
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of one check.
type Result struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Error     error          `json:"-"`
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails sets the details of a result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// WithDuration sets the duration of a result.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker reports the health of one component.
//
// Contract:
// - Concurrency: Check must be safe for concurrent use.
// - Context: Check must honor cancellation.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the checker name.
func (f *CheckerFunc) Name() string { return f.name }

// Check calls the function.
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }
