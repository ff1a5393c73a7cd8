package cache

import "sync/atomic"

// TierStats are the counters of one level.
type TierStats struct {
	Level     Level  `json:"level"`
	Name      string `json:"name"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Errors    uint64 `json:"errors"`
	Evictions uint64 `json:"evictions"`
}

// Stats is a snapshot of hierarchy counters.
type Stats struct {
	Tiers []TierStats `json:"tiers"`

	// Hits counts lookups served fresh; Misses counts lookups that found
	// nothing fresh at any level.
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`

	Promotions uint64 `json:"promotions"`
	Dropped    uint64 `json:"dropped"` // tasks refused by a full queue; writes then ran inline
}

// HitRate returns Hits / (Hits + Misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Tier returns the stats for a level.
func (s Stats) Tier(l Level) (TierStats, bool) {
	for _, t := range s.Tiers {
		if t.Level == l {
			return t, true
		}
	}
	return TierStats{}, false
}

type tierCounters struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	errors        atomic.Uint64
	evictionsBase atomic.Uint64
}

func (c *tierCounters) reset(evictions uint64) {
	c.hits.Store(0)
	c.misses.Store(0)
	c.errors.Store(0)
	c.evictionsBase.Store(evictions)
}
