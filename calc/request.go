package calc

import (
	"math"
	"time"
)

// Request is a calculation request. It is a value type; callers must not
// share a Request across goroutines while mutating it.
type Request struct {
	// Time is the instant being calculated for.
	Time time.Time `json:"time"`

	// Latitude in degrees, [-90, 90].
	Latitude float64 `json:"latitude"`

	// Longitude in degrees, [-180, 180].
	Longitude float64 `json:"longitude"`

	// TZOffsetMinutes is the offset of local civil time from UTC.
	TZOffsetMinutes int `json:"tz_offset_minutes"`

	// Precision is the minimum acceptable precision of the result.
	Precision Precision `json:"precision"`

	// Strategy optionally overrides the configured routing strategy.
	Strategy Strategy `json:"strategy,omitempty"`
}

// Bounds is the supported epoch range, Min inclusive and Max exclusive.
type Bounds struct {
	Min time.Time `yaml:"min"`
	Max time.Time `yaml:"max"`
}

// DefaultBounds covers 1800-01-01 through 2399-12-31 UTC.
func DefaultBounds() Bounds {
	return Bounds{
		Min: time.Date(1800, time.January, 1, 0, 0, 0, 0, time.UTC),
		Max: time.Date(2400, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Timezone offset limits in minutes (UTC-12:00 to UTC+14:00).
const (
	MinTZOffsetMinutes = -12 * 60
	MaxTZOffsetMinutes = 14 * 60
)

// Normalize returns a copy with Time in UTC and the default precision applied
// when Precision is unset.
func (r Request) Normalize(def Precision) Request {
	r.Time = r.Time.UTC()
	if r.Precision == PrecisionUnset {
		if def == PrecisionUnset {
			def = DefaultPrecision
		}
		r.Precision = def
	}
	return r
}

// Equal reports structural equality.
func (r Request) Equal(o Request) bool {
	return r.Time.Equal(o.Time) &&
		r.Latitude == o.Latitude &&
		r.Longitude == o.Longitude &&
		r.TZOffsetMinutes == o.TZOffsetMinutes &&
		r.Precision == o.Precision &&
		r.Strategy == o.Strategy
}

// LocalDate returns the civil date at the request's timezone offset.
func (r Request) LocalDate() (year int, month time.Month, day int) {
	return r.Time.UTC().Add(time.Duration(r.TZOffsetMinutes) * time.Minute).Date()
}

// Validate checks field ranges. Zero Bounds means DefaultBounds.
func (r Request) Validate(b Bounds) error {
	if b.Min.IsZero() && b.Max.IsZero() {
		b = DefaultBounds()
	}
	if !finite(r.Latitude) || r.Latitude < -90 || r.Latitude > 90 {
		return &ValidationError{Field: "latitude", Value: r.Latitude, Reason: "must be within [-90, 90]"}
	}
	if !finite(r.Longitude) || r.Longitude < -180 || r.Longitude > 180 {
		return &ValidationError{Field: "longitude", Value: r.Longitude, Reason: "must be within [-180, 180]"}
	}
	if r.Time.IsZero() {
		return &ValidationError{Field: "time", Value: r.Time, Reason: "is required"}
	}
	if r.Time.Before(b.Min) || !r.Time.Before(b.Max) {
		return &ValidationError{Field: "time", Value: r.Time, Reason: "outside supported epoch " +
			b.Min.Format(time.DateOnly) + " to " + b.Max.Format(time.DateOnly)}
	}
	if r.TZOffsetMinutes < MinTZOffsetMinutes || r.TZOffsetMinutes > MaxTZOffsetMinutes {
		return &ValidationError{Field: "tz_offset_minutes", Value: r.TZOffsetMinutes, Reason: "must be within [-720, 840]"}
	}
	if !r.Precision.Valid() {
		return &ValidationError{Field: "precision", Value: int(r.Precision), Reason: "unrecognized level"}
	}
	if !r.Strategy.Valid() {
		return &ValidationError{Field: "strategy", Value: int(r.Strategy), Reason: "unrecognized strategy"}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
