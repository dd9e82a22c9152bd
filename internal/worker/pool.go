package worker

import (
	"context"
	"log/slog"
	"sync"
)

// JobHandler processes one callback job.
type JobHandler interface {
	Handle(ctx context.Context, job CallbackJob)
}

// Pool manages a fixed number of worker goroutines that process callback jobs.
type Pool struct {
	numWorkers int
	jobs       chan CallbackJob
	handler    JobHandler
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, handler JobHandler, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan CallbackJob, numWorkers*2),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit queues a job, blocking while the pool is saturated. It returns
// ctx.Err() if ctx ends first.
func (p *Pool) Submit(ctx context.Context, job CallbackJob) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.handler.Handle(ctx, job)
		}
	}
}
