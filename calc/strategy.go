package calc

import (
	"fmt"
	"strings"
)

// Strategy selects how the router picks backends for a request.
type Strategy int

const (
	// StrategyDefault defers to the orchestrator's configured strategy.
	StrategyDefault Strategy = iota
	// AlwaysPrimary always uses the designated primary backend.
	AlwaysPrimary
	// AlwaysReference always uses the designated reference backend.
	AlwaysReference
	// Intelligent picks by precision: cheapest capable for Standard,
	// most accurate for High and Extreme.
	Intelligent
	// Validated runs several backends and requires agreement.
	Validated
	// PerformanceOptimized picks by observed latency and error rate.
	PerformanceOptimized
)

var strategyNames = map[Strategy]string{
	StrategyDefault:      "default",
	AlwaysPrimary:        "always-primary",
	AlwaysReference:      "always-reference",
	Intelligent:          "intelligent",
	Validated:            "validated",
	PerformanceOptimized: "performance-optimized",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Valid reports whether s is a known variant, including StrategyDefault.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy parses the text form of a strategy. Empty means StrategyDefault.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyDefault, nil
	}
	for k, name := range strategyNames {
		if name == s {
			return k, nil
		}
	}
	return StrategyDefault, fmt.Errorf("%w: unknown strategy %q", ErrValidation, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %d", ErrValidation, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
