package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/calcops/calc"
)

// Backend computes a calculation.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: the call deadline travels in ctx and must be honored.
// - Errors: return *Error (via Transient, Permanent, RateLimited) so the
// resilience layer can classify the failure; unclassified errors are
// treated as permanent.
type Backend interface {
	Compute(ctx context.Context, req calc.Request) (calc.Result, error)
}

// Func adapts a function to the Backend interface.
type Func func(ctx context.Context, req calc.Request) (calc.Result, error)

// Compute calls f.
func (f Func) Compute(ctx context.Context, req calc.Request) (calc.Result, error) {
	return f(ctx, req)
}

// Descriptor is the static configuration of a backend.
type Descriptor struct {
	// Name identifies the backend, e.g. "native-fast".
	Name string `yaml:"name"`

	// CostWeight is the relative cost of one call. Lower is cheaper.
	CostWeight float64 `yaml:"cost_weight"`

	// MaxLatency is the declared maximum acceptable latency of one attempt.
	MaxLatency time.Duration `yaml:"max_latency"`

	// Accuracy ranks backends by accuracy. Higher is more accurate.
	Accuracy int `yaml:"accuracy"`

	// MaxPrecision is the highest precision the backend can serve.
	// Unset means any precision.
	MaxPrecision calc.Precision `yaml:"max_precision"`

	// CrossValidation marks backends usable by the validated strategy.
	CrossValidation bool `yaml:"cross_validation"`

	// RateLimit is an optional client-side limit in calls per second.
	RateLimit float64 `yaml:"rate_limit"`

	// MaxConcurrency bounds in-flight calls to the backend. Excess calls
	// queue in arrival order. Zero means unbounded.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Capable reports whether the backend can serve precision p.
func (d Descriptor) Capable(p calc.Precision) bool {
	return d.MaxPrecision == calc.PrecisionUnset || d.MaxPrecision >= p
}

// ErrDuplicateBackend is returned when a name is registered twice.
var ErrDuplicateBackend = errors.New("backend: duplicate backend name")

// ErrUnknownBackend is returned for a name that is not in the set.
var ErrUnknownBackend = errors.New("backend: unknown backend")

type member struct {
	desc Descriptor
	impl Backend
}

// Set is a fixed, ordered collection of backends. Order is configuration
// order. A Set is populated before use and read-only afterwards.
type Set struct {
	members []member
	index   map[string]int
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add appends a backend.
func (s *Set) Add(d Descriptor, b Backend) error {
	if d.Name == "" {
		return fmt.Errorf("backend: name is required")
	}
	if b == nil {
		return fmt.Errorf("backend: %s: implementation is nil", d.Name)
	}
	if _, ok := s.index[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, d.Name)
	}
	s.index[d.Name] = len(s.members)
	s.members = append(s.members, member{desc: d, impl: b})
	return nil
}

// MustAdd is Add that panics on error. Intended for static wiring in tests
// and examples.
func (s *Set) MustAdd(d Descriptor, b Backend) *Set {
	if err := s.Add(d, b); err != nil {
		panic(err)
	}
	return s
}

// Get returns the descriptor and implementation for name.
func (s *Set) Get(name string) (Descriptor, Backend, bool) {
	if s == nil {
		return Descriptor{}, nil, false
	}
	i, ok := s.index[name]
	if !ok {
		return Descriptor{}, nil, false
	}
	m := s.members[i]
	return m.desc, m.impl, true
}

// Order returns the configuration position of name, or -1.
func (s *Set) Order(name string) int {
	if s == nil {
		return -1
	}
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Descriptors returns all descriptors in configuration order.
func (s *Set) Descriptors() []Descriptor {
	if s == nil {
		return nil
	}
	out := make([]Descriptor, len(s.members))
	for i, m := range s.members {
		out[i] = m.desc
	}
	return out
}

// Len returns the number of backends.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}
