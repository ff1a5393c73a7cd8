package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/calcops/backend"
	"github.com/jonwraymond/calcops/cache"
	"github.com/jonwraymond/calcops/calc"
	"github.com/jonwraymond/calcops/observe"
)

var errUnavailable = errors.New("backend unavailable")

// scenario is the reference request: 1991-08-13 at (12.9629, 77.5775), IST.
func scenario(p calc.Precision) calc.Request {
	return calc.Request{
		Time:            time.Date(1991, time.August, 13, 6, 30, 0, 0, time.UTC),
		Latitude:        12.9629,
		Longitude:       77.5775,
		TZOffsetMinutes: 330,
		Precision:       p,
	}
}

func values(req calc.Request) map[string]float64 {
	return map[string]float64{
		"solar_longitude": 140.25 + float64(req.Time.YearDay())/100,
		"lunar_longitude": 12.5,
		"day":             float64(req.Time.Day()),
	}
}

// fakeBackend counts calls and delegates to fn, or returns values(req).
type fakeBackend struct {
	calls atomic.Int32
	fn    func(n int, req calc.Request) (calc.Result, error)
}

func (b *fakeBackend) Compute(ctx context.Context, req calc.Request) (calc.Result, error) {
	n := int(b.calls.Add(1))
	if b.fn != nil {
		return b.fn(n, req)
	}
	return calc.Result{Values: values(req)}, nil
}

func (b *fakeBackend) Calls() int { return int(b.calls.Load()) }

func succeeding() *fakeBackend { return &fakeBackend{} }

// failingFirst fails the first n calls transiently.
func failingFirst(name string, n int) *fakeBackend {
	return &fakeBackend{fn: func(call int, req calc.Request) (calc.Result, error) {
		if call <= n {
			return calc.Result{}, backend.Transient(name, errUnavailable)
		}
		return calc.Result{Values: values(req)}, nil
	}}
}

func alwaysTransient(name string) *fakeBackend { return failingFirst(name, 1<<30) }

// blocking waits for release before succeeding.
func blocking(release <-chan struct{}) *fakeBackend {
	return &fakeBackend{fn: func(_ int, req calc.Request) (calc.Result, error) {
		<-release
		return calc.Result{Values: values(req)}, nil
	}}
}

func descriptor(name string, cost float64, accuracy int) backend.Descriptor {
	return backend.Descriptor{
		Name:            name,
		CostWeight:      cost,
		MaxLatency:      time.Second,
		Accuracy:        accuracy,
		CrossValidation: true,
	}
}

// testConfig keeps retry waits short.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg Config, set *backend.Set, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, set, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recordingMetrics counts retries, fallbacks and circuit transitions.
type recordingMetrics struct {
	observe.Metrics

	mu          sync.Mutex
	retries     map[string]int
	fallbacks   map[string]int
	transitions []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		Metrics:   observe.NopMetrics(),
		retries:   make(map[string]int),
		fallbacks: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordRetry(_ context.Context, backend string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[backend]++
}

func (m *recordingMetrics) RecordFallback(_ context.Context, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[step]++
}

func (m *recordingMetrics) RecordCircuitStateChange(_ context.Context, backend, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, backend+":"+from+"->"+to)
}

func (m *recordingMetrics) Retries(backend string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[backend]
}

func (m *recordingMetrics) Fallbacks(step string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbacks[step]
}

// downTier fails every operation.
type downTier struct{ name string }

func (d downTier) Name() string { return d.name }
func (downTier) Get(context.Context, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errUnavailable
}
func (downTier) Set(context.Context, cache.Entry, time.Duration) error { return errUnavailable }
func (downTier) Delete(context.Context, string) error                  { return errUnavailable }
func (downTier) DeletePrefix(context.Context, string) (int, error) {
	return 0, errUnavailable
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func kindOf(t *testing.T, err error) calc.ErrorKind {
	t.Helper()
	var ee *calc.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error %v (%T) is not an EngineError", err, err)
	}
	return ee.Kind
}
