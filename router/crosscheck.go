package router

import (
	"math"
	"sort"

	"github.com/jonwraymond/calcops/calc"
)

// CrossChecker compares the results of a validated plan. candidates[0] is
// the primary's result. An empty return means the candidates agree.
type CrossChecker interface {
	Check(p calc.Precision, candidates []calc.Result) []calc.FieldDiff
}

// DefaultTolerances are the per-precision tolerances used when a field has
// no explicit tolerance.
var DefaultTolerances = map[calc.Precision]float64{
	calc.PrecisionStandard: 0.1,
	calc.PrecisionHigh:     0.01,
	calc.PrecisionExtreme:  0.001,
}

// DefaultAngularFields are compared modulo 360.
var DefaultAngularFields = []string{"solar_longitude", "lunar_longitude"}

// ToleranceChecker compares every field of every candidate against the
// primary. A field missing from either side is a disagreement.
type ToleranceChecker struct {
	// Tolerances per precision. Nil uses DefaultTolerances.
	Tolerances map[calc.Precision]float64
	// Fields overrides the tolerance of individual fields.
	Fields map[string]float64
	// Angular lists fields in degrees where 359.99 and 0.01 are close.
	Angular []string
}

// NewToleranceChecker returns a checker with the default tolerances and
// angular fields.
func NewToleranceChecker() *ToleranceChecker {
	return &ToleranceChecker{Angular: DefaultAngularFields}
}

// Check implements CrossChecker.
func (c *ToleranceChecker) Check(p calc.Precision, candidates []calc.Result) []calc.FieldDiff {
	if len(candidates) < 2 {
		return nil
	}
	primary := candidates[0]

	var diffs []calc.FieldDiff
	for _, other := range candidates[1:] {
		for _, field := range unionFields(primary.Values, other.Values) {
			tol := c.tolerance(p, field)
			a, okA := primary.Values[field]
			b, okB := other.Values[field]
			if !okA || !okB {
				diffs = append(diffs, calc.FieldDiff{
					Field:     field,
					Backend:   other.Backend,
					Primary:   valueOrNaN(a, okA),
					Other:     valueOrNaN(b, okB),
					Delta:     math.Inf(1),
					Tolerance: tol,
				})
				continue
			}
			delta := math.Abs(a - b)
			if c.angular(field) {
				delta = angularDelta(a, b)
			}
			if delta > tol || math.IsNaN(delta) {
				diffs = append(diffs, calc.FieldDiff{
					Field:     field,
					Backend:   other.Backend,
					Primary:   a,
					Other:     b,
					Delta:     delta,
					Tolerance: tol,
				})
			}
		}
	}
	return diffs
}

func (c *ToleranceChecker) tolerance(p calc.Precision, field string) float64 {
	if t, ok := c.Fields[field]; ok {
		return t
	}
	tols := c.Tolerances
	if tols == nil {
		tols = DefaultTolerances
	}
	if t, ok := tols[p]; ok {
		return t
	}
	return DefaultTolerances[calc.DefaultPrecision]
}

func (c *ToleranceChecker) angular(field string) bool {
	for _, f := range c.Angular {
		if f == field {
			return true
		}
	}
	return false
}

// angularDelta is the shortest distance between two angles in degrees.
func angularDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}

func unionFields(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func valueOrNaN(v float64, ok bool) float64 {
	if !ok {
		return math.NaN()
	}
	return v
}
