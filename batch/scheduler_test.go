package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/calcops/calc"
)

func result(backend string) calc.Result {
	return calc.Result{
		Values:    map[string]float64{"solar_longitude": 140.25},
		Backend:   backend,
		Precision: calc.PrecisionHigh,
	}
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

func TestScheduler_CoalescesConcurrentCallers(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close(context.Background())

	const callers = 50
	var executions atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (calc.Result, error) {
		executions.Add(1)
		<-release
		return result("native"), nil
	}

	var (
		wg       sync.WaitGroup
		outcomes = make([]Outcome, callers)
		results  = make([]calc.Result, callers)
		errs     = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], outcomes[i], errs[i] = s.Submit(context.Background(), "k", fn)
		}()
	}
	waitFor(t, "all callers to join", func() bool { return s.Stats().Waiting == callers })
	close(release)
	wg.Wait()

	if n := executions.Load(); n != 1 {
		t.Fatalf("executions = %d, want 1", n)
	}
	executed := 0
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i].Backend != "native" {
			t.Errorf("caller %d result = %+v", i, results[i])
		}
		if outcomes[i] == Executed {
			executed++
		}
	}
	if executed != 1 {
		t.Errorf("Executed outcomes = %d, want 1", executed)
	}

	st := s.Stats()
	if st.Submitted != callers || st.Executed != 1 || st.Shared != callers-1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestScheduler_ResultsAreIndependentCopies(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close(context.Background())

	release := make(chan struct{})
	fn := func(context.Context) (calc.Result, error) {
		<-release
		return result("native"), nil
	}
	var (
		wg   sync.WaitGroup
		a, b calc.Result
	)
	wg.Add(2)
	go func() { defer wg.Done(); a, _, _ = s.Submit(context.Background(), "k", fn) }()
	go func() { defer wg.Done(); b, _, _ = s.Submit(context.Background(), "k", fn) }()
	waitFor(t, "both callers", func() bool { return s.Stats().Waiting == 2 })
	close(release)
	wg.Wait()

	a.Values["solar_longitude"] = 0
	if b.Values["solar_longitude"] != 140.25 {
		t.Error("callers share the result map")
	}
}

func TestScheduler_CallerTimeoutDoesNotCancelComputation(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close(context.Background())

	release := make(chan struct{})
	sawCancel := make(chan bool, 1)
	fn := func(ctx context.Context) (calc.Result, error) {
		<-release
		sawCancel <- ctx.Err() != nil
		return result("native"), nil
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	type submission struct {
		outcome Outcome
		err     error
	}
	shortDone := make(chan submission, 1)
	go func() {
		_, outcome, err := s.Submit(short, "k", fn)
		shortDone <- submission{outcome, err}
	}()
	waitFor(t, "leader", func() bool { return s.Stats().Executed == 1 })

	done := make(chan struct{})
	var (
		res calc.Result
		err error
	)
	go func() {
		defer close(done)
		res, _, err = s.Submit(context.Background(), "k", fn)
	}()

	first := <-shortDone
	if !errors.Is(first.err, context.DeadlineExceeded) || first.outcome != Abandoned {
		t.Fatalf("short caller = %v, %v, want Abandoned, DeadlineExceeded", first.outcome, first.err)
	}

	waitFor(t, "second caller", func() bool { return s.Stats().Waiting == 1 })
	close(release)
	<-done

	if err != nil || res.Backend != "native" {
		t.Fatalf("remaining caller = %+v, %v", res, err)
	}
	if <-sawCancel {
		t.Error("computation context was canceled by the abandoning caller")
	}
	if st := s.Stats(); st.Executed != 1 || st.Abandoned != 1 {
		t.Errorf("Stats() = %+v, want 1 executed, 1 abandoned", st)
	}
}

func TestScheduler_LateCallerStartsFresh(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close(context.Background())

	var executions atomic.Int32
	fn := func(context.Context) (calc.Result, error) {
		executions.Add(1)
		return result("native"), nil
	}

	for i := range 3 {
		_, outcome, err := s.Submit(context.Background(), "k", fn)
		if err != nil || outcome != Executed {
			t.Fatalf("submit %d = %v, %v, want Executed", i, outcome, err)
		}
	}
	if executions.Load() != 3 {
		t.Errorf("executions = %d, want 3", executions.Load())
	}
}

func TestScheduler_ErrorReachesEveryWaiter(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close(context.Background())

	boom := errors.New("backend exploded")
	release := make(chan struct{})
	fn := func(context.Context) (calc.Result, error) {
		<-release
		return calc.Result{}, boom
	}

	const callers = 5
	errs := make(chan error, callers)
	for range callers {
		go func() {
			_, _, err := s.Submit(context.Background(), "k", fn)
			errs <- err
		}()
	}
	waitFor(t, "callers", func() bool { return s.Stats().Waiting == callers })
	close(release)
	for range callers {
		if err := <-errs; !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
	}
}

func TestScheduler_GlobalLimitIsFIFO(t *testing.T) {
	s := New(Config{MaxConcurrent: 1})
	defer s.Close(context.Background())

	var (
		mu      sync.Mutex
		order   []string
		active  atomic.Int32
		peak    atomic.Int32
		release = make(chan struct{})
	)
	run := func(name string, block bool) Func {
		return func(context.Context) (calc.Result, error) {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			if block {
				<-release
			}
			active.Add(-1)
			return result(name), nil
		}
	}

	var wg sync.WaitGroup
	submit := func(name string, block bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.Submit(context.Background(), name, run(name, block)); err != nil {
				t.Errorf("%s: %v", name, err)
			}
		}()
	}

	submit("k0", true)
	waitFor(t, "k0 to run", func() bool { return active.Load() == 1 })
	for i := 1; i <= 4; i++ {
		submit(fmt.Sprintf("k%d", i), false)
		waitFor(t, "queue", func() bool { return s.Stats().Queued == i })
		time.Sleep(2 * time.Millisecond) // let the waiter reach the semaphore
	}
	close(release)
	wg.Wait()

	want := []string{"k0", "k1", "k2", "k3", "k4"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestScheduler_ComputeTimeout(t *testing.T) {
	s := New(Config{ComputeTimeout: 20 * time.Millisecond})
	defer s.Close(context.Background())

	_, _, err := s.Submit(context.Background(), "k", func(ctx context.Context) (calc.Result, error) {
		<-ctx.Done()
		return calc.Result{}, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestScheduler_RecoversPanic(t *testing.T) {
	s := New(DefaultConfig())
	defer s.Close(context.Background())

	_, _, err := s.Submit(context.Background(), "k", func(context.Context) (calc.Result, error) {
		panic("bad ephemeris")
	})
	if !errors.Is(err, ErrPanicked) {
		t.Fatalf("err = %v, want ErrPanicked", err)
	}
	if st := s.Stats(); st.InFlight != 0 {
		t.Errorf("InFlight = %d after panic, want 0", st.InFlight)
	}
}

func TestScheduler_CloseWaitsAndRefuses(t *testing.T) {
	s := New(DefaultConfig())

	release := make(chan struct{})
	abandonCtx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _, _ = s.Submit(abandonCtx, "k", func(context.Context) (calc.Result, error) {
			<-release
			return result("native"), nil
		})
	}()
	waitFor(t, "computation start", func() bool { return s.Stats().InFlight == 1 })
	cancel() // caller leaves; the computation must still be awaited

	closeErr := make(chan error, 1)
	go func() { closeErr <- s.Close(context.Background()) }()

	select {
	case err := <-closeErr:
		t.Fatalf("Close() returned %v before the computation finished", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-closeErr; err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, _, err := s.Submit(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
}

func TestScheduler_CloseHonorsContext(t *testing.T) {
	s := New(DefaultConfig())
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _, _ = s.Submit(context.Background(), "k", func(context.Context) (calc.Result, error) {
			<-release
			return result("native"), nil
		})
	}()
	waitFor(t, "computation start", func() bool { return s.Stats().InFlight == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want DeadlineExceeded", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Shards: 5})
	cfg := s.Config()
	if cfg.Shards != 8 || len(s.groups) != 8 {
		t.Errorf("shards = %d/%d, want 8", cfg.Shards, len(s.groups))
	}
	if cfg.MaxConcurrent != DefaultMaxConcurrent || cfg.ComputeTimeout != DefaultComputeTimeout {
		t.Errorf("Config() = %+v", cfg)
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{Executed: "executed", Shared: "shared", Abandoned: "abandoned", 0: "unknown"} {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
