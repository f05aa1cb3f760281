// Package worker drains the job queue and hands each batch job to a Runner.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/logger"
	"github.com/okian/stopodds/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 1
	poolShutdownTimeout = 30 * time.Second
)

// Job status labels for metrics.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// ErrSkipped marks a job that ended without doing work but without failing,
// e.g. a conflicting lease or an undersized corpus. Runners wrap it.
var ErrSkipped = errors.New("job skipped")

// Runner executes one batch job.
type Runner interface {
	Run(ctx context.Context, job model.Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job model.Job) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job model.Job) error { return f(ctx, job) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Job
}

// Worker processes jobs from the queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in hand, if any.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing jobs.
type InMemoryWorker struct {
	queue      Queue
	runner     Runner
	name       string
	jobTimeout time.Duration

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, runner Runner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		runner:   runner,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs a single job and records its outcome.
func (w *InMemoryWorker) process(ctx context.Context, job model.Job) {
	runCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	start := time.Now()
	err := w.runner.Run(runCtx, job)
	metrics.RecordJobLatency(float64(time.Since(start).Milliseconds()))

	fields := []logger.Field{
		logger.String("worker", w.name),
		logger.String("job_id", job.ID),
		logger.String("kind", string(job.Kind)),
		logger.String("reason", job.Reason),
		logger.Duration("took", time.Since(start)),
	}
	switch {
	case err == nil:
		metrics.RecordJobProcessed(string(job.Kind), StatusOK)
		w.logger.Info(ctx, "job finished", fields...)
	case errors.Is(err, ErrSkipped):
		metrics.RecordJobProcessed(string(job.Kind), StatusSkipped)
		w.logger.Info(ctx, "job skipped", append(fields, logger.Error(err))...)
	default:
		metrics.RecordJobProcessed(string(job.Kind), StatusFailed)
		metrics.RecordErrorByComponent("worker", "job_failed")
		w.logger.Error(ctx, "job failed", append(fields, logger.Error(err))...)
	}
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a new worker pool. A count below one uses a single worker.
// Every worker gets opts.
func NewPool(workerCount int, queue Queue, runner Runner, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		w := NewInMemoryWorker(queue, runner, opts...)
		w.name += "-" + strconv.Itoa(i)
		pool.workers[i] = w
	}
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Shutdown closes the queue and waits for every worker to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker %d: %w", i, shutdownCtx.Err())
		}
	}
	return nil
}
