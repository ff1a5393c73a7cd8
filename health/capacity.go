package health

import (
	"context"
	"fmt"
)

// Bounded is implemented by caches with a capacity limit.
type Bounded interface {
	Usage() (entries int, bytes int64)
	Capacity() (entries int, bytes int64)
}

// DefaultCapacityThreshold is the usage ratio reported as degraded.
const DefaultCapacityThreshold = 0.95

// CapacityChecker reports how full a bounded cache is. A full LRU keeps
// serving by evicting, so the worst status it reports is degraded.
type CapacityChecker struct {
	name      string
	cache     Bounded
	threshold float64
}

// NewCapacityChecker creates a checker over b. threshold outside (0, 1]
// uses DefaultCapacityThreshold.
func NewCapacityChecker(name string, b Bounded, threshold float64) *CapacityChecker {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultCapacityThreshold
	}
	return &CapacityChecker{name: name, cache: b, threshold: threshold}
}

// Name returns the checker name.
func (c *CapacityChecker) Name() string { return c.name }

// Check compares usage with capacity by entries and by bytes.
func (c *CapacityChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	entries, bytes := c.cache.Usage()
	maxEntries, maxBytes := c.cache.Capacity()
	ratio := 0.0
	if maxEntries > 0 {
		ratio = float64(entries) / float64(maxEntries)
	}
	if maxBytes > 0 {
		ratio = max(ratio, float64(bytes)/float64(maxBytes))
	}

	details := map[string]any{
		"entries":       entries,
		"max_entries":   maxEntries,
		"bytes":         bytes,
		"max_bytes":     maxBytes,
		"usage_percent": ratio * 100,
	}
	msg := fmt.Sprintf("usage %.1f%%", ratio*100)
	if ratio >= c.threshold {
		return Degraded("near capacity: " + msg).WithDetails(details)
	}
	return Healthy(msg).WithDetails(details)
}
