package calc

import (
	"maps"
	"time"
)

// Result is a computed calculation plus provenance.
type Result struct {
	// Values holds the backend's output fields, e.g. "solar_longitude".
	Values map[string]float64 `json:"values"`

	// Backend is the name of the backend that produced the values.
	Backend string `json:"backend"`

	// Strategy is the routing strategy that selected the backend.
	Strategy Strategy `json:"strategy"`

	// Precision is inherited from the request.
	Precision Precision `json:"precision"`

	// ComputedAt is strictly increasing across computations of one engine.
	ComputedAt time.Time `json:"computed_at"`

	// ComputationID identifies the computation that produced the values.
	ComputationID string `json:"computation_id,omitempty"`

	// Stale marks values served from an expired cache entry.
	Stale bool `json:"stale,omitempty"`

	// Degraded marks values produced by the native approximation fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	r.Values = maps.Clone(r.Values)
	return r
}

// Equal reports whether two results carry the same values and provenance.
func (r Result) Equal(o Result) bool {
	return maps.Equal(r.Values, o.Values) &&
		r.Backend == o.Backend &&
		r.Strategy == o.Strategy &&
		r.Precision == o.Precision &&
		r.ComputedAt.Equal(o.ComputedAt) &&
		r.ComputationID == o.ComputationID &&
		r.Stale == o.Stale &&
		r.Degraded == o.Degraded
}

// Cacheable reports whether r may be written to the cache.
func (r Result) Cacheable() bool {
	return !r.Stale && !r.Degraded
}
