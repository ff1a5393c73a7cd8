package health

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func fixed(name string, r Result) Checker {
	return NewCheckerFunc(name, func(context.Context) Result { return r })
}

func TestNewAggregator_Defaults(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	if agg.config.Timeout != DefaultCheckTimeout {
		t.Errorf("Timeout = %v, want %v", agg.config.Timeout, DefaultCheckTimeout)
	}
}

func TestAggregator_RegisterOrder(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	agg.Register(fixed("l2", Healthy("ok")), fixed("l3", Healthy("ok")), fixed("circuit:native-fast", Healthy("ok")))

	want := []string{"l2", "l3", "circuit:native-fast"}
	if got := agg.CheckerNames(); !slices.Equal(got, want) {
		t.Errorf("CheckerNames() = %v, want %v", got, want)
	}

	agg.Unregister("l3")
	want = []string{"l2", "circuit:native-fast"}
	if got := agg.CheckerNames(); !slices.Equal(got, want) {
		t.Errorf("after Unregister CheckerNames() = %v, want %v", got, want)
	}
}

func TestAggregator_RegisterReplaces(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	agg.Register(fixed("l2", Healthy("first")))
	agg.Register(fixed("l2", Healthy("second")))

	if n := len(agg.CheckerNames()); n != 1 {
		t.Fatalf("len(CheckerNames()) = %d, want 1", n)
	}
	r, err := agg.Check(context.Background(), "l2")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if r.Message != "second" {
		t.Errorf("Message = %q, want second", r.Message)
	}
}

func TestAggregator_CheckNotFound(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	if _, err := agg.Check(context.Background(), "missing"); err != ErrCheckerNotFound {
		t.Errorf("Check() error = %v, want ErrCheckerNotFound", err)
	}
}

func TestAggregator_CheckAll(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	agg.Register(fixed("l2", Healthy("ok")), fixed("circuit:reference", Degraded("open")))

	rep := agg.CheckAll(context.Background())
	if len(rep.Checks) != 2 {
		t.Fatalf("len(Checks) = %d, want 2", len(rep.Checks))
	}
	if rep.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", rep.Status)
	}
	if rep.Checks["l2"].Duration < 0 {
		t.Errorf("Duration = %v, want non-negative", rep.Checks["l2"].Duration)
	}
}

func TestAggregator_CheckAllEmpty(t *testing.T) {
	rep := NewAggregator(AggregatorConfig{}).CheckAll(context.Background())
	if len(rep.Checks) != 0 || rep.Status != StatusHealthy {
		t.Errorf("CheckAll() = %+v, want empty healthy report", rep)
	}
}

func TestAggregator_CheckAllConcurrencyLimit(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Concurrency: 1})

	var active, peak atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		agg.Register(NewCheckerFunc(name, func(context.Context) Result {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return Healthy("ok")
		}))
	}

	agg.CheckAll(context.Background())
	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}
}

func TestAggregator_CheckAllTimeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	agg.Register(NewCheckerFunc("slow", func(ctx context.Context) Result {
		<-release
		return Healthy("ok")
	}))

	rep := agg.CheckAll(context.Background())
	slow := rep.Checks["slow"]
	if slow.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", slow.Status)
	}
	if slow.Error != ErrCheckTimeout {
		t.Errorf("Error = %v, want ErrCheckTimeout", slow.Error)
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]Result
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", map[string]Result{"a": Healthy("ok"), "b": Healthy("ok")}, StatusHealthy},
		{"one degraded", map[string]Result{"a": Healthy("ok"), "b": Degraded("slow")}, StatusDegraded},
		{"unhealthy wins", map[string]Result{"a": Degraded("slow"), "b": Unhealthy("down", nil)}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overall(tt.results); got != tt.want {
				t.Errorf("Overall() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_Checker(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	agg.Register(fixed("l3", Unhealthy("down", nil)))

	c := agg.Checker()
	if c.Name() != "aggregate" {
		t.Errorf("Name() = %v, want aggregate", c.Name())
	}
	r := c.Check(context.Background())
	if r.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", r.Status)
	}
	if r.Message != "some checks failed" {
		t.Errorf("Message = %q, want %q", r.Message, "some checks failed")
	}
	if _, ok := r.Details["l3"]; !ok {
		t.Errorf("Details = %v, want entry for l3", r.Details)
	}
}
