package health

import (
	"context"
	"time"
)

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultPingTimeout bounds one ping.
const DefaultPingTimeout = 2 * time.Second

// PingChecker reports a store unhealthy when its ping fails.
type PingChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// NewPingChecker creates a checker over p. timeout <= 0 uses
// DefaultPingTimeout.
func NewPingChecker(name string, p Pinger, timeout time.Duration) *PingChecker {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	return &PingChecker{name: name, pinger: p, timeout: timeout}
}

// Name returns the checker name.
func (c *PingChecker) Name() string { return c.name }

// Check pings the store.
func (c *PingChecker) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.pinger.Ping(ctx); err != nil {
		return Unhealthy("ping failed: "+err.Error(), err).WithDuration(time.Since(start))
	}
	return Healthy("reachable").WithDuration(time.Since(start))
}
