package orchestrator

import (
	"context"
	"errors"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/calc"
	"github.com/jonwraymond/calcops/resilience"
)

// ErrInvalidConfig is returned by Config.Validate and New.
var ErrInvalidConfig = errors.New("orchestrator: invalid config")

// exhaustedError reports that no planned backend produced a result. It
// never leaves the package; the fallback chain turns it into a result or
// a FallbackExhausted EngineError.
type exhaustedError struct {
	tried []string
	err   error
}

func (e *exhaustedError) Error() string {
	if e.err == nil {
		return "orchestrator: no backend produced a result"
	}
	return "orchestrator: no backend produced a result: " + e.err.Error()
}

func (e *exhaustedError) Unwrap() error { return e.err }

// permanent reports whether a backend failure is a deterministic rejection.
// Unclassified errors are permanent; resilience and context errors are not.
func permanent(err error) bool {
	if backend.IsPermanent(err) {
		return true
	}
	if backend.IsTransient(err) || resilience.IsRetryable(err) {
		return false
	}
	switch {
	case errors.Is(err, resilience.ErrMaxRetriesExceeded),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrBulkheadFull),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func engineError(kind calc.ErrorKind, fp string, tried []string, err error) *calc.EngineError {
	return &calc.EngineError{Kind: kind, Fingerprint: fp, Backends: tried, Err: err}
}
