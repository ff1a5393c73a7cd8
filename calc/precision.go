package calc

import (
	"fmt"
	"strings"
)

// Precision is the requested accuracy level of a calculation.
// Levels are ordered: Standard < High < Extreme.
type Precision int

const (
	// PrecisionUnset means no precision was given; the configured default applies.
	PrecisionUnset Precision = iota
	// PrecisionStandard is the cheapest acceptable precision.
	PrecisionStandard
	// PrecisionHigh is the default precision.
	PrecisionHigh
	// PrecisionExtreme requests the most accurate backend available.
	PrecisionExtreme
)

// DefaultPrecision is used when a request leaves Precision unset.
const DefaultPrecision = PrecisionHigh

// String returns the text form of the precision.
func (p Precision) String() string {
	switch p {
	case PrecisionUnset:
		return "unset"
	case PrecisionStandard:
		return "standard"
	case PrecisionHigh:
		return "high"
	case PrecisionExtreme:
		return "extreme"
	default:
		return fmt.Sprintf("precision(%d)", int(p))
	}
}

// Valid reports whether p is a recognized level.
func (p Precision) Valid() bool {
	return p >= PrecisionStandard && p <= PrecisionExtreme
}

// Satisfies reports whether a result computed at p can serve a request for want.
func (p Precision) Satisfies(want Precision) bool {
	return p >= want
}

// ParsePrecision parses "standard", "high" or "extreme" (case-insensitive).
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return PrecisionStandard, nil
	case "high":
		return PrecisionHigh, nil
	case "extreme":
		return PrecisionExtreme, nil
	case "":
		return PrecisionUnset, nil
	}
	return PrecisionUnset, fmt.Errorf("%w: unknown precision %q", ErrValidation, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Precision) MarshalText() ([]byte, error) {
	if p == PrecisionUnset {
		return []byte(""), nil
	}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: unknown precision %d", ErrValidation, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Precision) UnmarshalText(text []byte) error {
	v, err := ParsePrecision(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
