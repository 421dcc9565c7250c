package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"saas_template/internal/utils"
)

const bookkeepingTimeout = 5 * time.Second

// Processor handles one job. A returned error counts as a failed attempt.
type Processor func(ctx context.Context, job *Job) error

// WorkerStats counts finished jobs since Start
type WorkerStats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Worker runs a Processor over a queue with a fixed concurrency
type Worker struct {
	queue       Queue
	process     Processor
	concurrency int
	config      *Config
	logger      *utils.Logger

	mu        sync.Mutex
	running   bool
	stopLoop  context.CancelFunc
	abortJobs context.CancelFunc
	wg        sync.WaitGroup
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker; concurrency below 1 means 1
func NewWorker(q Queue, process Processor, concurrency int, config *Config) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		process:     process,
		concurrency: concurrency,
		config:      config,
		logger:      utils.NewLogger("worker:" + q.Name()),
	}
}

// Concurrency returns the number of parallel job slots
func (w *Worker) Concurrency() int {
	return w.concurrency
}

// Stats returns job counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{Completed: w.completed.Load(), Failed: w.failed.Load()}
}

// Start launches the job slots. Cancelling ctx stops reserving new jobs;
// jobs in flight run to completion unless Stop's deadline passes.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true

	loopCtx, stopLoop := context.WithCancel(ctx)
	jobCtx, abortJobs := context.WithCancel(context.WithoutCancel(ctx))
	w.stopLoop = stopLoop
	w.abortJobs = abortJobs

	w.logger.Info("Worker starting", "concurrency", w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(loopCtx, jobCtx)
	}
}

// Stop stops reserving jobs and waits for in-flight jobs. When ctx expires
// first, running jobs are cancelled and ctx.Err() is returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopLoop, abortJobs := w.stopLoop, w.abortJobs
	w.mu.Unlock()

	stopLoop()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		abortJobs()
		<-done
		err = ctx.Err()
	}
	abortJobs()
	w.logger.Info("Worker stopped")
	return err
}

// run is one job slot
func (w *Worker) run(loopCtx, jobCtx context.Context) {
	defer w.wg.Done()

	for {
		if loopCtx.Err() != nil {
			return
		}

		job, err := w.queue.Reserve(loopCtx, w.config.PollTimeout)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || loopCtx.Err() != nil {
				return
			}
			w.logger.Error("Failed to reserve job", "error", err)
			select {
			case <-time.After(1 * time.Second): // Back off on error
			case <-loopCtx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		w.handle(jobCtx, job)
	}
}

// handle processes a single job with retries
func (w *Worker) handle(ctx context.Context, job *Job) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.Backoff(attempt)
			w.logger.Debug("Retrying job", "job_id", job.ID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}

		attempts++
		job.AttemptsMade = attempts
		if err := w.safeProcess(ctx, job); err != nil {
			lastErr = err
			w.logger.Warn("Job attempt failed", "job_id", job.ID, "attempt", attempts, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		w.completed.Add(1)
		w.logger.Info(fmt.Sprintf("Job %s completed successfully", job.ID), "name", job.Name, "attempts", attempts)
		w.bookkeep(ctx, job.ID, func(bctx context.Context) error {
			return w.queue.Complete(bctx, job.ID, attempts)
		})
		return
	}

	if ctx.Err() != nil {
		w.logger.Warn(fmt.Sprintf("Job %s interrupted, returning it to the queue", job.ID), "name", job.Name, "attempts", attempts)
		w.bookkeep(ctx, job.ID, func(bctx context.Context) error {
			return w.queue.Release(bctx, job.ID, attempts)
		})
		return
	}

	w.failed.Add(1)
	w.logger.Error(fmt.Sprintf("Job %s failed", job.ID), "name", job.Name, "attempts", attempts, "error", lastErr)
	w.bookkeep(ctx, job.ID, func(bctx context.Context) error {
		return w.queue.Fail(bctx, job.ID, attempts, lastErr.Error())
	})
}

// bookkeep records a job outcome even when ctx was cancelled
func (w *Worker) bookkeep(ctx context.Context, id string, fn func(context.Context) error) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := fn(bctx); err != nil {
		w.logger.Error("Failed to record job outcome", "job_id", id, "error", err)
	}
}

func (w *Worker) safeProcess(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.process(ctx, job)
}
