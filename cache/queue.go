package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Background queue defaults.
const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 1024
	DefaultTaskTimeout = 5 * time.Second
)

type task struct {
	ctx context.Context
	fn  func(ctx context.Context)
	gen *generation
}

// generation tracks the tasks accepted between two flushes.
type generation struct{ wg sync.WaitGroup }

// workQueue runs detached tier writes on a fixed pool. submit reports a
// full queue; the caller decides whether to drop or run the work inline.
type workQueue struct {
	tasks   chan task
	timeout time.Duration
	wg      sync.WaitGroup
	full    atomic.Uint64

	mu     sync.RWMutex
	gen    *generation
	closed bool
}

func newWorkQueue(workers, size int, timeout time.Duration) *workQueue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	q := &workQueue{tasks: make(chan task, size), timeout: timeout, gen: &generation{}}
	q.wg.Add(workers)
	for range workers {
		go q.run()
	}
	return q
}

func (q *workQueue) run() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.exec(t.ctx, t.fn)
		t.gen.wg.Done()
	}
}

// exec runs fn under the task timeout.
func (q *workQueue) exec(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	fn(ctx)
}

// submit enqueues fn detached from the caller's cancellation. It reports
// false when the queue is full or closed.
func (q *workQueue) submit(ctx context.Context, fn func(ctx context.Context)) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	g := q.gen
	g.wg.Add(1)
	select {
	case q.tasks <- task{ctx: context.WithoutCancel(ctx), fn: fn, gen: g}:
		return true
	default:
		g.wg.Done()
		q.full.Add(1)
		return false
	}
}

// flush waits until every task accepted before the call has finished.
// Tasks submitted meanwhile belong to the next generation.
func (q *workQueue) flush(ctx context.Context) error {
	q.mu.Lock()
	g := q.gen
	q.gen = &generation{}
	q.mu.Unlock()
	return wait(ctx, &g.wg)
}

// close stops intake and waits for the workers to drain the queue.
func (q *workQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	return wait(ctx, &q.wg)
}

func wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
