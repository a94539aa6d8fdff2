package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Job is a unit of work run by the pool.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of goroutines fed by a buffered channel.
type Pool struct {
	name       string
	numWorkers int
	jobs       chan Job
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a pool with numWorkers goroutines.
func NewPool(name string, numWorkers int, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		name:       name,
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		logger:     logger,
	}
}

// Start launches the workers. Jobs run on a context detached from ctx's
// cancellation, so a job already taken finishes even during shutdown.
func (p *Pool) Start(ctx context.Context) {
	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
	p.logger.Info("worker pool started", "pool", p.name, "num_workers", p.numWorkers)
}

// Submit hands job to a worker, blocking while the pool is saturated.
// It reports false if ctx ends first.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the jobs channel and waits for queued and running jobs to
// finish. Submit must not be called afterwards.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped", "pool", p.name)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"pool", p.name,
				"worker_id", id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	job(ctx)
}
