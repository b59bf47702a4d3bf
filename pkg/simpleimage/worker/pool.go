// Package worker provides the bounded pool that runs asynchronous ingestion.
//
// The pool keeps CoreWorkers goroutines draining a bounded queue. When the
// queue is full it starts short-lived burst workers up to MaxWorkers in
// total, and once those are exhausted the task runs on the submitting
// goroutine. Work is never dropped while the pool is open.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("worker: pool closed")

// Config sizes the pool.
type Config struct {
	CoreWorkers int
	MaxWorkers  int
	QueueSize   int
	Logger      *slog.Logger
}

// DefaultConfig matches the I/O-bound ingestion workload: few workers, a
// bounded queue, and caller-runs backpressure.
func DefaultConfig() Config {
	return Config{
		CoreWorkers: 4,
		MaxWorkers:  8,
		QueueSize:   100,
	}
}

type task struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Pool is a bounded worker pool with caller-runs backpressure.
type Pool struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context

	mu     sync.RWMutex
	closed bool
	queue  chan task
	burst  *semaphore.Weighted

	wg         sync.WaitGroup
	callerRuns atomic.Int64
	bursts     atomic.Int64
}

// New starts CoreWorkers goroutines and returns the pool.
func New(cfg Config) *Pool {
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = 1
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		ctx:    context.Background(),
		queue:  make(chan task, cfg.QueueSize),
		burst:  semaphore.NewWeighted(int64(cfg.MaxWorkers - cfg.CoreWorkers)),
	}

	for i := 0; i < cfg.CoreWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit hands fn to the pool. The returned channel is closed when fn has
// returned. If neither the queue nor a burst worker can take fn it runs
// synchronously before Submit returns.
func (p *Pool) Submit(fn func(ctx context.Context)) (<-chan struct{}, error) {
	t := task{fn: fn, done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}

	select {
	case p.queue <- t:
		p.mu.RUnlock()
		return t.done, nil
	default:
	}

	if p.burst.TryAcquire(1) {
		p.wg.Add(1)
		p.mu.RUnlock()
		p.bursts.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.burst.Release(1)
			p.run(t)
		}()
		return t.done, nil
	}
	p.mu.RUnlock()

	p.callerRuns.Add(1)
	p.logger.Warn("worker pool saturated, running task on caller",
		"queue_size", p.cfg.QueueSize, "max_workers", p.cfg.MaxWorkers)
	p.run(t)
	return t.done, nil
}

// Close stops accepting work and waits for queued and running tasks, or for
// ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports how often backpressure kicked in.
type Stats struct {
	Queued     int
	Bursts     int64
	CallerRuns int64
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:     len(p.queue),
		Bursts:     p.bursts.Load(),
		CallerRuns: p.callerRuns.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		p.run(t)
	}
}

func (p *Pool) run(t task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r)
		}
	}()
	t.fn(p.ctx)
}
