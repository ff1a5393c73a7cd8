package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the maximum number of concurrent operations.
	// Default: 10
	MaxConcurrent int

	// MaxWait bounds the time spent queued for a slot. Zero waits until
	// the context ends.
	MaxWait time.Duration

	// FailFast rejects immediately with ErrBulkheadFull instead of queueing.
	FailFast bool
}

// Bulkhead limits concurrent operations. Callers beyond the limit queue
// and are admitted in arrival order.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted

	mu        sync.Mutex
	active    int
	maxActive int
	queued    int
	rejected  int64
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire takes a slot, queueing FIFO when none is free.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		b.admitted()
		return nil
	}
	if b.config.FailFast {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return ErrBulkheadFull
	}

	wctx := ctx
	if b.config.MaxWait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, b.config.MaxWait)
		defer cancel()
	}

	b.mu.Lock()
	b.queued++
	b.mu.Unlock()

	err := b.sem.Acquire(wctx, 1)

	b.mu.Lock()
	b.queued--
	b.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return ErrBulkheadFull
	}
	b.admitted()
	return nil
}

func (b *Bulkhead) admitted() {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
}

// Release returns a slot taken by Acquire.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	b.sem.Release(1)
}

// Execute runs the operation within the bulkhead.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// Metrics returns current bulkhead metrics.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadMetrics{
		Active:        b.active,
		MaxActive:     b.maxActive,
		Queued:        b.queued,
		Available:     b.config.MaxConcurrent - b.active,
		MaxConcurrent: b.config.MaxConcurrent,
		Rejected:      b.rejected,
	}
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Queued        int
	Available     int
	MaxConcurrent int
	Rejected      int64
}
