package router

import (
	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/calc"
)

// Decision functions. Each is pure over its inputs and returns a fresh slice.

func named(descs []backend.Descriptor, name string) []backend.Descriptor {
	for _, d := range descs {
		if d.Name == name {
			return []backend.Descriptor{d}
		}
	}
	return nil
}

func capable(descs []backend.Descriptor, p calc.Precision) []backend.Descriptor {
	out := make([]backend.Descriptor, 0, len(descs))
	for _, d := range descs {
		if d.Capable(p) {
			out = append(out, d)
		}
	}
	return out
}

// intelligent prefers the cheapest capable backend for Standard requests
// and the most accurate one otherwise.
func intelligent(descs []backend.Descriptor, p calc.Precision, order func(string) int) []backend.Descriptor {
	out := capable(descs, p)
	if p <= calc.PrecisionStandard {
		sortDescriptors(out, func(a, b backend.Descriptor) bool {
			return tieBreak(a, b, order)
		})
		return out
	}
	sortDescriptors(out, func(a, b backend.Descriptor) bool {
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		return tieBreak(a, b, order)
	})
	return out
}

// validated returns the primary followed by every other capable
// cross-validation backend.
func validated(descs []backend.Descriptor, p calc.Precision, primary string, order func(string) int) []backend.Descriptor {
	var head []backend.Descriptor
	rest := make([]backend.Descriptor, 0, len(descs))
	for _, d := range descs {
		switch {
		case d.Name == primary:
			head = append(head, d)
		case d.CrossValidation && d.Capable(p):
			rest = append(rest, d)
		}
	}
	if len(head) == 0 {
		// Without the primary there is no result to return.
		return nil
	}
	sortDescriptors(rest, func(a, b backend.Descriptor) bool {
		return tieBreak(a, b, order)
	})
	return append(head, rest...)
}

func performance(descs []backend.Descriptor, p calc.Precision, score func(backend.Descriptor) float64, order func(string) int) []backend.Descriptor {
	out := capable(descs, p)
	scores := make(map[string]float64, len(out))
	for _, d := range out {
		scores[d.Name] = score(d)
	}
	sortDescriptors(out, func(a, b backend.Descriptor) bool {
		if scores[a.Name] != scores[b.Name] {
			return scores[a.Name] < scores[b.Name]
		}
		return tieBreak(a, b, order)
	})
	return out
}
