package router

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/calc"
)

func nop(context.Context, calc.Request) (calc.Result, error) { return calc.Result{}, nil }

func testSet() *backend.Set {
	s := backend.NewSet()
	s.MustAdd(backend.Descriptor{Name: "native", CostWeight: 1, Accuracy: 2, MaxPrecision: calc.PrecisionHigh, MaxLatency: 50 * time.Millisecond, CrossValidation: true}, backend.Func(nop))
	s.MustAdd(backend.Descriptor{Name: "swiss", CostWeight: 5, Accuracy: 3, MaxPrecision: calc.PrecisionExtreme, MaxLatency: 200 * time.Millisecond, CrossValidation: true}, backend.Func(nop))
	s.MustAdd(backend.Descriptor{Name: "approx", CostWeight: 0.5, Accuracy: 1, MaxPrecision: calc.PrecisionStandard, MaxLatency: 10 * time.Millisecond}, backend.Func(nop))
	return s
}

func newRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	r, err := New(testSet(), Config{Primary: "native", Reference: "swiss"}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func req(p calc.Precision) calc.Request {
	return calc.Request{
		Time:      time.Date(1991, 8, 13, 8, 1, 0, 0, time.UTC),
		Latitude:  12.9629,
		Longitude: 77.5775,
		Precision: p,
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(backend.NewSet(), Config{}); err == nil {
		t.Error("New(empty set) error = nil")
	}
	if _, err := New(testSet(), Config{Primary: "missing"}); !errors.Is(err, backend.ErrUnknownBackend) {
		t.Errorf("New(unknown primary) error = %v, want ErrUnknownBackend", err)
	}

	r, err := New(testSet(), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cfg := r.Config()
	if cfg.Primary != "native" || cfg.Reference != "native" {
		t.Errorf("Primary/Reference = %q/%q, want first backend", cfg.Primary, cfg.Reference)
	}
	if cfg.Default != calc.Intelligent || cfg.MinValidators != 2 || cfg.ErrorPenalty != DefaultErrorPenalty {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestSelect_Strategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy calc.Strategy
		prec     calc.Precision
		want     []string
	}{
		{"always primary", calc.AlwaysPrimary, calc.PrecisionExtreme, []string{"native"}},
		{"always reference", calc.AlwaysReference, calc.PrecisionStandard, []string{"swiss"}},
		{"intelligent standard cheapest", calc.Intelligent, calc.PrecisionStandard, []string{"approx", "native", "swiss"}},
		{"intelligent high most accurate", calc.Intelligent, calc.PrecisionHigh, []string{"swiss", "native"}},
		{"intelligent extreme capable only", calc.Intelligent, calc.PrecisionExtreme, []string{"swiss"}},
		{"default resolves to intelligent", calc.StrategyDefault, calc.PrecisionHigh, []string{"swiss", "native"}},
		{"validated primary first", calc.Validated, calc.PrecisionHigh, []string{"native", "swiss"}},
		{"performance uses latency prior", calc.PerformanceOptimized, calc.PrecisionStandard, []string{"approx", "native", "swiss"}},
	}

	r := newRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := r.Select(req(tt.prec), tt.strategy)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if got := plan.Names(); !slices.Equal(got, tt.want) {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
			if plan.Validate != (tt.strategy == calc.Validated) {
				t.Errorf("Validate = %v", plan.Validate)
			}
		})
	}
}

func TestSelect_TieBreak(t *testing.T) {
	s := backend.NewSet()
	s.MustAdd(backend.Descriptor{Name: "b", CostWeight: 2, Accuracy: 1}, backend.Func(nop))
	s.MustAdd(backend.Descriptor{Name: "a", CostWeight: 1, Accuracy: 1}, backend.Func(nop))
	s.MustAdd(backend.Descriptor{Name: "c", CostWeight: 1, Accuracy: 1}, backend.Func(nop))
	r, err := New(s, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, p := range []calc.Precision{calc.PrecisionStandard, calc.PrecisionHigh} {
		plan, err := r.Select(req(p), calc.Intelligent)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if got, want := plan.Names(), []string{"a", "c", "b"}; !slices.Equal(got, want) {
			t.Errorf("Select(%s) = %v, want %v", p, got, want)
		}
	}
}

func TestSelect_SkipsUnavailable(t *testing.T) {
	open := map[string]bool{"native": true}
	r := newRouter(t, WithAvailability(func(name string) bool { return !open[name] }))

	plan, err := r.Select(req(calc.PrecisionStandard), calc.Intelligent)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := plan.Names(); slices.Contains(got, "native") {
		t.Errorf("plan %v contains an open backend", got)
	}

	if _, err := r.Select(req(calc.PrecisionHigh), calc.AlwaysPrimary); !errors.Is(err, ErrNoEligibleBackend) {
		t.Errorf("Select(always-primary, open) error = %v, want ErrNoEligibleBackend", err)
	}
	if _, err := r.Select(req(calc.PrecisionHigh), calc.Validated); !errors.Is(err, ErrNoEligibleBackend) {
		t.Errorf("Select(validated, primary open) error = %v, want ErrNoEligibleBackend", err)
	}
}

func TestSelect_InsufficientValidators(t *testing.T) {
	open := map[string]bool{"swiss": true}
	r := newRouter(t, WithAvailability(func(name string) bool { return !open[name] }))

	_, err := r.Select(req(calc.PrecisionHigh), calc.Validated)
	if !errors.Is(err, ErrInsufficientValidators) {
		t.Errorf("Select() error = %v, want ErrInsufficientValidators", err)
	}
	if !errors.Is(err, ErrNoEligibleBackend) {
		t.Errorf("Select() error = %v, should match ErrNoEligibleBackend", err)
	}
}

func TestSelect_PerformanceFollowsEWMA(t *testing.T) {
	tr := backend.NewTracker(0.5)
	r := newRouter(t, WithTracker(tr))

	tr.Observe("approx", 300*time.Millisecond, nil)
	tr.Observe("native", 20*time.Millisecond, nil)
	tr.Observe("swiss", 5*time.Millisecond, errors.New("boom"))

	plan, err := r.Select(req(calc.PrecisionStandard), calc.PerformanceOptimized)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	// swiss: 5ms * (1 + 10*1) = 55ms; native 20ms; approx 300ms.
	if got, want := plan.Names(), []string{"native", "swiss", "approx"}; !slices.Equal(got, want) {
		t.Errorf("Select() = %v, want %v", got, want)
	}

	for i := 0; i < 10; i++ {
		tr.Observe("native", 500*time.Millisecond, nil)
	}
	plan, _ = r.Select(req(calc.PrecisionStandard), calc.PerformanceOptimized)
	if plan.Names()[0] == "native" {
		t.Errorf("Select() = %v, slow backend still preferred", plan.Names())
	}
}

func TestSelect_UnknownStrategy(t *testing.T) {
	r := newRouter(t)
	if _, err := r.Select(req(calc.PrecisionHigh), calc.Strategy(42)); err == nil {
		t.Error("Select(unknown) error = nil")
	}
}
