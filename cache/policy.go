package cache

import "time"

// DefaultStaleGrace is how long an expired entry stays available as a
// stale fallback.
const DefaultStaleGrace = 24 * time.Hour

// Policy configures expiry for one level.
type Policy struct {
	// TTL is the freshness lifetime of entries written to the level.
	// Zero means entries never expire.
	TTL time.Duration `yaml:"ttl"`

	// MaxTTL clamps TTL overrides. Zero means no maximum.
	MaxTTL time.Duration `yaml:"max_ttl"`

	// StaleGrace is how long past expiry an entry is retained for the
	// stale fallback. Zero disables stale serving from this level.
	StaleGrace time.Duration `yaml:"stale_grace"`
}

// DefaultPolicy returns the default policy for a level.
// L1: 1h, L2: 24h, L3: never expires. Grace is 24h everywhere.
func DefaultPolicy(l Level) Policy {
	p := Policy{StaleGrace: DefaultStaleGrace}
	switch l {
	case L1:
		p.TTL = time.Hour
	case L2:
		p.TTL = 24 * time.Hour
	}
	return p
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.TTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

// Retention returns how long a tier should keep an entry whose freshness
// lifetime is ttl. Zero means keep indefinitely.
func (p Policy) Retention(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if p.StaleGrace > 0 {
		return ttl + p.StaleGrace
	}
	return ttl
}

// servableStale reports whether an expired entry may still be served stale.
func (p Policy) servableStale(e Entry, now time.Time) bool {
	if p.StaleGrace <= 0 || e.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(e.ExpiresAt.Add(p.StaleGrace))
}
