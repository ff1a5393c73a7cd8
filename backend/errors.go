package backend

import (
	"errors"
	"fmt"
	"time"
)

// Class is the retry classification of a backend failure.
type Class int

const (
	// ClassPermanent failures are deterministic rejections and never retried.
	ClassPermanent Class = iota
	// ClassTransient failures (timeouts, rate limits, transient I/O) are retried.
	ClassTransient
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// ErrRateLimited marks a rate-limited rejection.
var ErrRateLimited = errors.New("backend: rate limited")

// Error is a classified backend failure.
type Error struct {
	Backend string
	Class   Class

	// After is the backend's Retry-After hint; zero means none.
	After time.Duration

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure may be retried.
func (e *Error) Transient() bool { return e.Class == ClassTransient }

// RetryAfter returns the backend's retry hint.
func (e *Error) RetryAfter() (time.Duration, bool) {
	return e.After, e.After > 0
}

// Transient wraps err as a retryable failure.
func Transient(name string, err error) error {
	return &Error{Backend: name, Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(name string, err error) error {
	return &Error{Backend: name, Class: ClassPermanent, Err: err}
}

// RateLimited returns a transient failure carrying a Retry-After hint.
func RateLimited(name string, after time.Duration) error {
	return &Error{Backend: name, Class: ClassTransient, After: after, Err: ErrRateLimited}
}

// IsTransient reports whether err is a transient backend failure.
func IsTransient(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Class == ClassTransient
}

// IsPermanent reports whether err is a permanent backend failure.
func IsPermanent(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Class == ClassPermanent
}
