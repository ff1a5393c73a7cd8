package calc

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match them with errors.Is.
var (
	ErrValidation        = errors.New("calc: invalid request")
	ErrPermanent         = errors.New("calc: permanent backend failure")
	ErrMismatch          = errors.New("calc: validation mismatch")
	ErrFallbackExhausted = errors.New("calc: fallback exhausted")
	ErrClosed            = errors.New("calc: engine closed")
	ErrStorage           = errors.New("calc: cache storage failure")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("calc: invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// FieldDiff describes one field on which two candidates disagree.
type FieldDiff struct {
	Field     string
	Backend   string  // candidate compared against the primary
	Primary   float64 // primary value; NaN when the primary lacks the field
	Other     float64 // candidate value; NaN when the candidate lacks the field
	Delta     float64
	Tolerance float64
}

func (d FieldDiff) String() string {
	return fmt.Sprintf("%s[%s]: %g vs %g (delta %g > %g)", d.Field, d.Backend, d.Primary, d.Other, d.Delta, d.Tolerance)
}

// MismatchError is returned when validated backends disagree. It carries
// every candidate result; none is preferred.
type MismatchError struct {
	Fingerprint string
	Candidates  []Result
	Diffs       []FieldDiff
}

func (e *MismatchError) Error() string {
	parts := make([]string, 0, len(e.Diffs))
	for _, d := range e.Diffs {
		parts = append(parts, d.String())
	}
	return fmt.Sprintf("calc: validation mismatch across %d candidates: %s", len(e.Candidates), strings.Join(parts, "; "))
}

// Is matches ErrMismatch.
func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// FallbackError is the terminal failure after every fallback was tried.
type FallbackError struct {
	Fingerprint string
	Tried       []string
	LastErr     error

	// StalePrecisionInsufficient is set when a cached value existed but
	// at a lower precision than requested.
	StalePrecisionInsufficient bool
}

func (e *FallbackError) Error() string {
	var b strings.Builder
	b.WriteString("calc: fallback exhausted")
	if len(e.Tried) > 0 {
		b.WriteString(" after ")
		b.WriteString(strings.Join(e.Tried, ", "))
	}
	if e.StalePrecisionInsufficient {
		b.WriteString(" (cached value below requested precision)")
	}
	if e.LastErr != nil {
		b.WriteString(": ")
		b.WriteString(e.LastErr.Error())
	}
	return b.String()
}

func (e *FallbackError) Unwrap() error { return e.LastErr }

// Is matches ErrFallbackExhausted.
func (e *FallbackError) Is(target error) bool { return target == ErrFallbackExhausted }

// ErrorKind classifies an EngineError.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindPermanent
	KindMismatch
	KindFallbackExhausted
	KindCanceled
	KindClosed
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermanent:
		return "permanent"
	case KindMismatch:
		return "mismatch"
	case KindFallbackExhausted:
		return "fallback_exhausted"
	case KindCanceled:
		return "canceled"
	case KindClosed:
		return "closed"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// EngineError is the only error type returned by calculation entry points.
type EngineError struct {
	Kind        ErrorKind
	Fingerprint string
	Backends    []string // backends tried, in order
	Err         error
}

func (e *EngineError) Error() string {
	msg := "calc: " + e.Kind.String()
	if e.Fingerprint != "" {
		msg += " [" + e.Fingerprint + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *EngineError) Is(target error) bool {
	switch e.Kind {
	case KindValidation:
		return target == ErrValidation
	case KindPermanent:
		return target == ErrPermanent
	case KindMismatch:
		return target == ErrMismatch
	case KindFallbackExhausted:
		return target == ErrFallbackExhausted
	case KindClosed:
		return target == ErrClosed
	case KindStorage:
		return target == ErrStorage
	}
	return false
}

// KindOf returns the kind of an EngineError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return 0
}
