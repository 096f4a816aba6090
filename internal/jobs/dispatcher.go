// Package jobs owns the extraction job lifecycle: validation and creation,
// asynchronous dispatch to a bounded worker pool, progress reads, and
// cancellation.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lorekeep/entity-extractor/internal/common"
)

// Runner processes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID int64) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, jobID int64) error

func (f RunnerFunc) Run(ctx context.Context, jobID int64) error { return f(ctx, jobID) }

type task struct {
	jobID int64
	ctx   context.Context
}

// Dispatcher fans queued jobs out to a fixed worker pool.
type Dispatcher struct {
	runner  Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.ch = make(chan task, n)
		}
	}
}

func WithJobTimeout(dur time.Duration) Option {
	return func(d *Dispatcher) {
		if dur > 0 {
			d.timeout = dur
		}
	}
}

func NewDispatcher(runner Runner, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		runner:  runner,
		logger:  logger,
		workers: 2,
		timeout: 30 * time.Minute,
		ch:      make(chan task, 64),
	}
	for _, o := range opts {
		o(d)
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go func(workerID int) {
				defer d.wg.Done()
				d.logger.Info("worker started", "worker_id", workerID)

				for t := range d.ch {
					if t.ctx.Err() != nil {
						d.logger.Info("job skipped, cancelled while queued",
							"worker_id", workerID, "job_id", t.jobID)
						continue
					}
					ctx, cancel := context.WithTimeout(t.ctx, d.timeout)
					err := d.runner.Run(ctx, t.jobID)
					cancel()

					switch {
					case errors.Is(err, context.Canceled):
						d.logger.Info("job cancelled", "worker_id", workerID, "job_id", t.jobID)
					case err != nil:
						d.logger.Error("processing failed", "worker_id", workerID, "job_id", t.jobID, "error", err)
					default:
						d.logger.Info("processed job successfully", "worker_id", workerID, "job_id", t.jobID)
					}
				}

				d.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Submit queues a job for processing. jobCtx governs the whole run;
// cancelling it stops the job at the next chunk boundary. Returns
// ErrQueueFull instead of blocking when the buffer has no room.
func (d *Dispatcher) Submit(jobID int64, jobCtx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("cannot submit: dispatcher is shutting down", "job_id", jobID)
		return common.ErrQueueFull
	}
	select {
	case d.ch <- task{jobID: jobID, ctx: jobCtx}:
		d.logger.Info("queued job for processing", "job_id", jobID)
		return nil
	default:
		d.logger.Warn("job queue full", "job_id", jobID)
		return common.ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued jobs to drain, up to ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.logger.Warn("shutdown interrupted by context")
	case <-done:
		d.logger.Info("queue drained, shutdown complete")
	}
}
