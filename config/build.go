package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/cache"
	"github.com/jonwraymond/calcops/health"
	"github.com/jonwraymond/calcops/observe"
	"github.com/jonwraymond/calcops/orchestrator"
	"github.com/jonwraymond/calcops/server"
)

// Engine is a running orchestrator with the resources it owns.
type Engine struct {
	*orchestrator.Orchestrator

	Observer observe.Observer
	Logger   observe.Logger
	Health   *health.Aggregator

	srv     ServerConfig
	metrics string
	closers []func() error
}

// Handler returns the HTTP surface of the engine. With the prometheus
// metrics exporter it also serves /metrics from the default registry.
func (e *Engine) Handler() (http.Handler, error) {
	opts := []server.Option{
		server.WithHealth(e.Health),
		server.WithLogger(e.Logger),
		server.WithTimeout(e.srv.RequestTimeout),
		server.WithMaxBatch(e.srv.MaxBatch),
	}
	if e.metrics == "prometheus" {
		opts = append(opts, server.WithPrometheus(prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	}
	s, err := server.New(e.Orchestrator, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: server: %w", err)
	}
	return s.Handler(), nil
}

// Close drains the orchestrator, then closes the stores and flushes
// telemetry. Every failure is returned joined.
func (e *Engine) Close(ctx context.Context) error {
	errs := []error{e.Orchestrator.Close(ctx)}
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	errs = append(errs, e.Observer.Shutdown(ctx))
	return errors.Join(errs...)
}

// Build opens the configured tiers and telemetry and wires an
// orchestrator over impls. Every descriptor in Backends, and the
// approximation if set, must have an implementation in impls.
func (c *Config) Build(ctx context.Context, impls map[string]backend.Backend) (_ *Engine, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, c.Observe)
	if err != nil {
		return nil, fmt.Errorf("config: observer: %w", err)
	}
	e := &Engine{Observer: obs, Logger: obs.Logger(), srv: c.Server}
	if c.Observe.Metrics.Enabled {
		e.metrics = c.Observe.Metrics.Exporter
	}
	defer func() {
		if err != nil {
			for i := len(e.closers) - 1; i >= 0; i-- {
				_ = e.closers[i]()
			}
			_ = obs.Shutdown(ctx)
		}
	}()

	metrics, err := observe.NewMetrics(obs.Meter())
	if err != nil {
		return nil, fmt.Errorf("config: metrics: %w", err)
	}

	tiers, err := c.openTiers(ctx, e)
	if err != nil {
		return nil, err
	}
	h, err := cache.NewHierarchy(c.Cache.Config, tiers,
		cache.WithLogger(e.Logger), cache.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("config: cache: %w", err)
	}

	set := backend.NewSet()
	for _, d := range c.Backends {
		impl, ok := impls[d.Name]
		if !ok {
			return nil, fmt.Errorf("config: backend %q: %w", d.Name, backend.ErrUnknownBackend)
		}
		if err := set.Add(d, impl); err != nil {
			return nil, fmt.Errorf("config: backend %q: %w", d.Name, err)
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithHierarchy(h),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogger(e.Logger),
		orchestrator.WithTracer(observe.NewTracer(obs.Tracer())),
	}
	if c.Approximation != "" {
		impl, ok := impls[c.Approximation]
		if !ok {
			return nil, fmt.Errorf("config: approximation %q: %w", c.Approximation, backend.ErrUnknownBackend)
		}
		opts = append(opts, orchestrator.WithApproximation(backend.Descriptor{Name: c.Approximation}, impl))
	}

	o, err := orchestrator.New(c.Engine, set, opts...)
	if err != nil {
		_ = h.Close(ctx)
		return nil, err
	}
	e.Orchestrator = o

	e.Health = health.NewAggregator(health.AggregatorConfig{})
	e.Health.Register(o.HealthCheckers()...)

	e.Logger.Info(ctx, "engine started",
		observe.Field{Key: "levels", Value: len(h.Levels())},
		observe.Field{Key: "backends", Value: set.Len()},
	)
	return e, nil
}

func (c *Config) openTiers(ctx context.Context, e *Engine) (cache.Tiers, error) {
	var tiers cache.Tiers
	if c.Cache.Memory.Enabled {
		tiers.L1 = cache.NewMemoryTier(c.Cache.Memory.MemoryConfig)
	}
	if c.Cache.Redis.Enabled {
		rs, err := cache.NewRedisStore(ctx, c.Cache.Redis.RedisConfig)
		if err != nil {
			return tiers, fmt.Errorf("config: %w", err)
		}
		e.closers = append(e.closers, rs.Close)
		tiers.L2 = cache.NewStoreTier("redis", rs)
	}
	if c.Cache.SQLite.Enabled {
		ss, err := cache.OpenSQLiteStore(ctx, c.Cache.SQLite.SQLiteConfig)
		if err != nil {
			return tiers, fmt.Errorf("config: %w", err)
		}
		e.closers = append(e.closers, ss.Close)
		tiers.L3 = cache.NewStoreTier("sqlite", ss)
	}
	return tiers, nil
}
