package health

import "errors"

var (
	// ErrCheckTimeout is recorded when a check outlives the aggregate timeout.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned for an unregistered name.
	ErrCheckerNotFound = errors.New("health: checker not found")
)
