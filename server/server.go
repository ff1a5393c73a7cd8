package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/calcops/health"
	"github.com/jonwraymond/calcops/observe"
	"github.com/jonwraymond/calcops/orchestrator"
)

// Default limits.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxBodyBytes   = 1 << 20
	DefaultMaxBatch       = 1000
)

// Server routes HTTP requests to an orchestrator.
type Server struct {
	orch    *orchestrator.Orchestrator
	health  *health.Aggregator
	logger  observe.Logger
	timeout time.Duration
	maxBody int64
	batch   int

	gatherer prometheus.Gatherer
	latency  *prometheus.HistogramVec
}

// Option configures a Server.
type Option func(*Server) error

// WithHealth mounts the probe routes over agg.
func WithHealth(agg *health.Aggregator) Option {
	return func(s *Server) error {
		s.health = agg
		return nil
	}
}

// WithLogger sets the request logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Server) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d > 0 {
			s.timeout = d
		}
		return nil
	}
}

// WithMaxBatch bounds the number of requests in one batch call.
func WithMaxBatch(n int) Option {
	return func(s *Server) error {
		if n > 0 {
			s.batch = n
		}
		return nil
	}
}

// WithPrometheus records request latency on reg and serves g at /metrics.
// A latency collector already registered on reg is reused.
func WithPrometheus(reg prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(s *Server) error {
		latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calcops_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method", "status_code"})
		if err := reg.Register(latency); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
			existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				return err
			}
			latency = existing
		}
		s.latency = latency
		s.gatherer = g
		return nil
	}
}

// New creates a server over o.
func New(o *orchestrator.Orchestrator, opts ...Option) (*Server, error) {
	s := &Server{
		orch:    o,
		logger:  observe.NopLogger(),
		timeout: DefaultRequestTimeout,
		maxBody: DefaultMaxBodyBytes,
		batch:   DefaultMaxBatch,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.observeRequests)
	r.Use(s.recoverer)
	r.Use(chimw.Timeout(s.timeout))

	r.Route("/v1", func(r chi.Router) {
		r.Use(maxBody(s.maxBody))
		r.Post("/calculate", s.calculate)
		r.Post("/calculate/batch", s.calculateBatch)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", s.stats)
			r.Post("/stats/reset", s.resetStats)
			r.Post("/precompute", s.precompute)
			r.Delete("/cache", s.clear)
			r.Delete("/cache/entries/{fingerprint}", s.invalidate)
			r.Delete("/cache/dates/{date}", s.invalidateDate)
			r.Delete("/cache/prefix", s.invalidatePrefix)
		})
	})

	if s.health != nil {
		r.Get("/healthz", health.LivenessHandler())
		r.Get("/readyz", health.ReadinessHandler(s.health))
		r.Get("/health", health.DetailedHandler(s.health))
		r.Get("/health/{name}", health.SingleCheckHandler(s.health, func(r *http.Request) string {
			return chi.URLParam(r, "name")
		}))
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
