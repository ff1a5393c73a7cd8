package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/calcops/calc"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

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

func sampleResult(p calc.Precision) calc.Result {
	return calc.Result{
		Values:        map[string]float64{"solar_longitude": 140.25, "lunar_longitude": 12.5},
		Backend:       "native",
		Strategy:      calc.Intelligent,
		Precision:     p,
		ComputedAt:    epoch,
		ComputationID: "c-1",
	}
}

var errTierDown = errors.New("tier down")

// failingTier fails every operation.
type failingTier struct{ name string }

func (f failingTier) Name() string { return f.name }
func (failingTier) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errTierDown
}
func (failingTier) Set(context.Context, Entry, time.Duration) error { return errTierDown }
func (failingTier) Delete(context.Context, string) error            { return errTierDown }
func (failingTier) DeletePrefix(context.Context, string) (int, error) {
	return 0, errTierDown
}

// blockingTier blocks Set until release is closed.
type blockingTier struct {
	*MemoryTier
	entered chan struct{}
	release chan struct{}
}

func newBlockingTier() *blockingTier {
	return &blockingTier{
		MemoryTier: NewMemoryTier(MemoryConfig{}),
		entered:    make(chan struct{}, 16),
		release:    make(chan struct{}),
	}
}

func (b *blockingTier) Set(ctx context.Context, e Entry, retain time.Duration) error {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryTier.Set(ctx, e, retain)
}
