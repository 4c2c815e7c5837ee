// Package worker provides the bounded goroutine pool that runs
// ingestion jobs. Uploads return immediately with a processing
// document; the pool controls how many of those ingest concurrently.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Submit when the queue is saturated.
// Callers surface it as a transient unavailability.
var ErrQueueFull = errors.New("worker queue full")

// ErrStopped is returned by Submit after the pool has shut down.
var ErrStopped = errors.New("worker pool stopped")

// Job is one unit of background work.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of goroutines with a bounded queue.
type Pool struct {
	workers int
	jobs    chan Job
	logger  *slog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewPool creates a pool with the given number of workers and a queue
// of queueSize pending jobs.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		logger:  logger,
	}
}

// Start launches the workers. Jobs receive ctx; canceling it asks
// running jobs to wind down, but queued jobs still run so their state
// transitions complete.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.runJob(ctx, id, job)
			}
		}(i)
	}
}

func (p *Pool) runJob(ctx context.Context, worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", "worker", worker, "panic", r)
		}
	}()
	job(ctx)
}

// Submit queues a job without blocking. A full queue is an error so
// the caller can push back instead of buffering unboundedly.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight and queued jobs to
// finish. Safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
