package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/bugnest/internal/metrics"
)

var (
	ErrPoolFull    = errors.New("pipeline queue full")
	ErrPoolStopped = errors.New("pipeline stopped")
)

// Job is a unit of background work. ctx is cancelled when the pool is
// stopped without finishing its drain.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed set of workers fed by a bounded queue.
type Pool struct {
	workers int
	jobs    chan Job
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		metrics.SetPoolJobsQueued(len(p.jobs))
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline job panicked", "panic", r)
		}
	}()
	job(p.ctx)
}

// Submit enqueues job without blocking. It fails with ErrPoolFull when the
// queue is at capacity and ErrPoolStopped after Stop.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		metrics.SetPoolJobsQueued(len(p.jobs))
		return nil
	default:
		return ErrPoolFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish. If ctx ends
// first, running jobs are cancelled and ctx's error is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
