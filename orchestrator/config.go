package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/batch"
	"github.com/jonwraymond/calcops/calc"
	"github.com/jonwraymond/calcops/resilience"
	"github.com/jonwraymond/calcops/router"
)

// Config configures an Orchestrator.
type Config struct {
	// DefaultPrecision applies to requests that leave Precision unset.
	// Default: calc.DefaultPrecision
	DefaultPrecision calc.Precision `yaml:"default_precision"`

	// Epoch is the supported time range. Zero uses calc.DefaultBounds.
	Epoch calc.Bounds `yaml:"epoch"`

	Router     router.Config    `yaml:"router"`
	Scheduler  batch.Config     `yaml:"scheduler"`
	Retry      RetryConfig      `yaml:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit"`
	Validation ValidationConfig `yaml:"validation"`

	// BatchFanout bounds concurrent Calculate calls inside CalculateBatch.
	// Default: Scheduler.MaxConcurrent
	BatchFanout int `yaml:"batch_fanout"`

	// TrackerAlpha is the EWMA smoothing factor of backend statistics.
	// Default: backend.DefaultAlpha
	TrackerAlpha float64 `yaml:"tracker_alpha"`
}

// RetryConfig is the per-backend retry policy.
type RetryConfig struct {
	// MaxAttempts includes the first attempt. Default: 5
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelay is the wait after the first failure. Default: 100ms
	BaseDelay time.Duration `yaml:"base_delay"`
	// MaxDelay caps the computed wait. Default: 30s
	MaxDelay time.Duration `yaml:"max_delay"`
	// Jitter is the symmetric jitter fraction. Default: 0.25
	Jitter float64 `yaml:"jitter"`
}

// CircuitConfig is the per-backend circuit breaker policy.
type CircuitConfig struct {
	Window           time.Duration `yaml:"window"`
	MinRequests      int           `yaml:"min_requests"`
	FailureRate      float64       `yaml:"failure_rate"`
	Cooldown         time.Duration `yaml:"cooldown"`
	HalfOpenProbes   int           `yaml:"half_open_probes"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// ValidationConfig sets the agreement tolerances of the validated strategy.
type ValidationConfig struct {
	// Standard, High and Extreme are the per-precision tolerances.
	// Zero keeps router.DefaultTolerances for that level.
	Standard float64 `yaml:"standard"`
	High     float64 `yaml:"high"`
	Extreme  float64 `yaml:"extreme"`

	// Fields overrides the tolerance of individual fields.
	Fields map[string]float64 `yaml:"fields"`

	// Angular lists fields compared modulo 360.
	// Default: router.DefaultAngularFields
	Angular []string `yaml:"angular"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPrecision: calc.DefaultPrecision,
		Epoch:            calc.DefaultBounds(),
		Router:           router.Config{Default: calc.Intelligent, MinValidators: 2, ErrorPenalty: router.DefaultErrorPenalty},
		Scheduler:        batch.DefaultConfig(),
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Jitter:      resilience.DefaultJitter,
		},
		Circuit: CircuitConfig{
			Window:           60 * time.Second,
			MinRequests:      5,
			FailureRate:      0.5,
			Cooldown:         30 * time.Second,
			HalfOpenProbes:   1,
			SuccessThreshold: 1,
		},
		TrackerAlpha: backend.DefaultAlpha,
	}
}

// Validate reports every invalid setting, joined.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultPrecision != calc.PrecisionUnset && !c.DefaultPrecision.Valid() {
		errs = append(errs, fmt.Errorf("default_precision %d is not a recognized level", int(c.DefaultPrecision)))
	}
	if !c.Epoch.Min.IsZero() && !c.Epoch.Max.IsZero() && !c.Epoch.Min.Before(c.Epoch.Max) {
		errs = append(errs, fmt.Errorf("epoch min %s is not before max %s", c.Epoch.Min, c.Epoch.Max))
	}
	if c.Router.Default != calc.StrategyDefault && !c.Router.Default.Valid() {
		errs = append(errs, fmt.Errorf("router default strategy %d is not recognized", int(c.Router.Default)))
	}
	if c.Retry.Jitter > 1 {
		errs = append(errs, fmt.Errorf("retry jitter %g exceeds 1", c.Retry.Jitter))
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		errs = append(errs, fmt.Errorf("retry base_delay %s exceeds max_delay %s", c.Retry.BaseDelay, c.Retry.MaxDelay))
	}
	if c.Circuit.FailureRate < 0 || c.Circuit.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("circuit failure_rate %g outside [0, 1]", c.Circuit.FailureRate))
	}
	for name, tol := range c.Validation.Fields {
		if tol < 0 {
			errs = append(errs, fmt.Errorf("validation tolerance for %s is negative", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c RetryConfig) retry(onRetry func(resilience.RetryState, error)) *resilience.Retry {
	return resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		Jitter:       c.Jitter,
		OnRetry:      onRetry,
	})
}

func (c CircuitConfig) breaker(onChange func(from, to resilience.State)) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Window:              c.Window,
		MinRequests:         c.MinRequests,
		FailureRate:         c.FailureRate,
		Cooldown:            c.Cooldown,
		HalfOpenMaxRequests: c.HalfOpenProbes,
		SuccessThreshold:    c.SuccessThreshold,
		OnStateChange:       onChange,
		IsFailure:           countsAgainstCircuit,
	})
}

// countsAgainstCircuit excludes cancellation and deterministic rejections,
// which say nothing about the backend's health.
func countsAgainstCircuit(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !backend.IsPermanent(err)
}

func (c ValidationConfig) checker() *router.ToleranceChecker {
	tc := router.NewToleranceChecker()
	if c.Standard > 0 || c.High > 0 || c.Extreme > 0 {
		tols := make(map[calc.Precision]float64, len(router.DefaultTolerances))
		for p, t := range router.DefaultTolerances {
			tols[p] = t
		}
		for p, t := range map[calc.Precision]float64{
			calc.PrecisionStandard: c.Standard,
			calc.PrecisionHigh:     c.High,
			calc.PrecisionExtreme:  c.Extreme,
		} {
			if t > 0 {
				tols[p] = t
			}
		}
		tc.Tolerances = tols
	}
	if len(c.Fields) > 0 {
		tc.Fields = c.Fields
	}
	if len(c.Angular) > 0 {
		tc.Angular = c.Angular
	}
	return tc
}
