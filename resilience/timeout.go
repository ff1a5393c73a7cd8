package resilience

import (
	"context"
	"errors"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration of one attempt.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout bounds each attempt with its own deadline.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Timeout{config: config}
}

// Execute runs op with a deadline. It returns ErrTimeout when the attempt
// deadline fires and the parent context's error when the parent ends first.
// op keeps running in the background until it observes cancellation.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeoutCause(ctx, t.config.Timeout, ErrTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(context.Cause(ctx), ErrTimeout) {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), ErrTimeout) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

