package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/calc"
)

// Router errors.
var (
	// ErrNoEligibleBackend is returned when a strategy leaves no backend to try.
	ErrNoEligibleBackend = errors.New("router: no eligible backend")

	// ErrInsufficientValidators is returned when fewer than MinValidators
	// cross-validation backends are available.
	ErrInsufficientValidators = fmt.Errorf("%w: not enough validators", ErrNoEligibleBackend)
)

// DefaultErrorPenalty is the default weight of the error rate in the
// performance score.
const DefaultErrorPenalty = 10.0

// Config configures a Router.
type Config struct {
	// Primary is the designated primary backend.
	Primary string `yaml:"primary"`

	// Reference is the designated reference backend.
	Reference string `yaml:"reference"`

	// Default is used when a request carries no strategy.
	// Default: Intelligent
	Default calc.Strategy `yaml:"default_strategy"`

	// MinValidators is the minimum number of backends in a validated plan.
	// Default: 2
	MinValidators int `yaml:"min_validators"`

	// ErrorPenalty scales the EWMA error rate in the performance score.
	// Default: 10
	ErrorPenalty float64 `yaml:"error_penalty"`
}

// Plan is the ordered list of backends to try for one request.
type Plan struct {
	Strategy calc.Strategy
	Backends []backend.Descriptor
	// Validate is set for validated plans: every backend runs and the
	// results are cross-checked.
	Validate bool
}

// Names returns the backend names in plan order.
func (p Plan) Names() []string {
	out := make([]string, len(p.Backends))
	for i, d := range p.Backends {
		out[i] = d.Name
	}
	return out
}

// Availability reports whether a backend currently admits calls.
type Availability func(name string) bool

// Option configures a Router.
type Option func(*Router)

// WithTracker sets the EWMA tracker used by the performance strategy.
func WithTracker(t *backend.Tracker) Option {
	return func(r *Router) {
		if t != nil {
			r.tracker = t
		}
	}
}

// WithAvailability sets the filter applied to every plan, typically the
// backends' circuit breakers.
func WithAvailability(a Availability) Option {
	return func(r *Router) {
		if a != nil {
			r.available = a
		}
	}
}

// Router selects the backends to invoke for a request. It holds no
// mutable state of its own and is safe for concurrent use.
type Router struct {
	cfg       Config
	set       *backend.Set
	tracker   *backend.Tracker
	available Availability
}

// New creates a router over set.
func New(set *backend.Set, cfg Config, opts ...Option) (*Router, error) {
	if set.Len() == 0 {
		return nil, fmt.Errorf("router: backend set is empty")
	}
	if cfg.Default == calc.StrategyDefault {
		cfg.Default = calc.Intelligent
	}
	if !cfg.Default.Valid() {
		return nil, fmt.Errorf("router: invalid default strategy %d", int(cfg.Default))
	}
	if cfg.MinValidators <= 0 {
		cfg.MinValidators = 2
	}
	if cfg.ErrorPenalty <= 0 {
		cfg.ErrorPenalty = DefaultErrorPenalty
	}
	descs := set.Descriptors()
	if cfg.Primary == "" {
		cfg.Primary = descs[0].Name
	}
	if cfg.Reference == "" {
		cfg.Reference = cfg.Primary
	}
	for _, name := range []string{cfg.Primary, cfg.Reference} {
		if set.Order(name) < 0 {
			return nil, fmt.Errorf("%w: %s", backend.ErrUnknownBackend, name)
		}
	}

	r := &Router{
		cfg:       cfg,
		set:       set,
		tracker:   backend.NewTracker(backend.DefaultAlpha),
		available: func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Router) Config() Config {
	return r.cfg
}

// Tracker returns the EWMA tracker.
func (r *Router) Tracker() *backend.Tracker {
	return r.tracker
}

// Select returns the plan for req under strategy. StrategyDefault resolves
// to the configured default. Backends that are not available are removed
// from every plan.
func (r *Router) Select(req calc.Request, strategy calc.Strategy) (Plan, error) {
	if strategy == calc.StrategyDefault {
		strategy = r.cfg.Default
	}

	descs := r.eligible()
	plan := Plan{Strategy: strategy}

	switch strategy {
	case calc.AlwaysPrimary:
		plan.Backends = named(descs, r.cfg.Primary)
	case calc.AlwaysReference:
		plan.Backends = named(descs, r.cfg.Reference)
	case calc.Intelligent:
		plan.Backends = intelligent(descs, req.Precision, r.order)
	case calc.Validated:
		plan.Backends = validated(descs, req.Precision, r.cfg.Primary, r.order)
		plan.Validate = true
		if len(plan.Backends) < r.cfg.MinValidators {
			return plan, fmt.Errorf("%w: have %d, need %d", ErrInsufficientValidators, len(plan.Backends), r.cfg.MinValidators)
		}
	case calc.PerformanceOptimized:
		plan.Backends = performance(descs, req.Precision, r.score, r.order)
	default:
		return plan, fmt.Errorf("router: unknown strategy %d", int(strategy))
	}

	if len(plan.Backends) == 0 {
		return plan, fmt.Errorf("%w for strategy %s", ErrNoEligibleBackend, strategy)
	}
	return plan, nil
}

func (r *Router) eligible() []backend.Descriptor {
	all := r.set.Descriptors()
	out := all[:0]
	for _, d := range all {
		if r.available(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

func (r *Router) order(name string) int {
	return r.set.Order(name)
}

// score is the performance score of d: lower is better.
func (r *Router) score(d backend.Descriptor) float64 {
	latency := float64(d.MaxLatency)
	errRate := 0.0
	if s, ok := r.tracker.Snapshot(d.Name); ok && s.Samples > 0 {
		latency = float64(s.Latency)
		errRate = s.ErrorRate
	}
	return latency * (1 + r.cfg.ErrorPenalty*errRate)
}

// tieBreak orders a before b on lower cost weight, then configuration order.
func tieBreak(a, b backend.Descriptor, order func(string) int) bool {
	if a.CostWeight != b.CostWeight {
		return a.CostWeight < b.CostWeight
	}
	return order(a.Name) < order(b.Name)
}

func sortDescriptors(ds []backend.Descriptor, less func(a, b backend.Descriptor) bool) {
	sort.SliceStable(ds, func(i, j int) bool { return less(ds[i], ds[j]) })
}
