package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned by Submit once Shutdown has been called.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics is a point-in-time view of a WorkerPool.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool caps the number of progressive and streaming operations that
// run concurrently across every run of an Engine. A run holds at most one
// slot at a time. Workers left behind by an abandoned stream keep their
// slot until the operation returns.
type WorkerPool struct {
	slots    chan struct{}
	stopping chan struct{}

	// gate orders wg.Add against Shutdown's Wait.
	gate    sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	active, completed, failed, panics atomic.Int64
}

func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		slots:    make(chan struct{}, max(size, 1)),
		stopping: make(chan struct{}),
	}
}

// Submit runs fn on its own goroutine once a slot is free. It waits for a
// slot until ctx ends or the pool shuts down. Panics inside fn are counted
// and swallowed; fn recovers on its own when it needs the panic value.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isStopped() {
		return ErrPoolShutdown
	}
	if err := p.acquire(ctx); err != nil {
		return err
	}

	p.gate.Lock()
	if p.stopped {
		p.gate.Unlock()
		p.release()
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.gate.Unlock()

	p.active.Add(1)
	go p.work(ctx, fn)
	return nil
}

func (p *WorkerPool) work(ctx context.Context, fn func(ctx context.Context) error) {
	defer p.wg.Done()
	defer p.release()
	defer p.active.Add(-1)
	defer func() {
		if recover() != nil {
			p.panics.Add(1)
			p.failed.Add(1)
		}
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

func (p *WorkerPool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-p.stopping:
		return ErrPoolShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) release() { <-p.slots }

func (p *WorkerPool) isStopped() bool {
	p.gate.Lock()
	defer p.gate.Unlock()
	return p.stopped
}

// Wait blocks until every submitted function has returned.
func (p *WorkerPool) Wait() { p.wg.Wait() }

// Shutdown rejects new work, wakes Submit calls waiting for a slot and
// waits for running workers. Calling it again is a no-op.
func (p *WorkerPool) Shutdown() {
	p.gate.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopping)
	}
	p.gate.Unlock()
	p.wg.Wait()
}

func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}

// panicError wraps a recovered value so it can travel as a node error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("operation panicked: %w", err)
	}
	return fmt.Errorf("operation panicked: %v", r)
}
