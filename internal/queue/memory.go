package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue implements Queue in process memory
type MemoryQueue struct {
	name    string
	mu      sync.Mutex
	jobs    map[string]*Job
	waiting []string
	nextID  int64
	paused  bool
	closed  bool
	// ready is closed and replaced whenever a job becomes reservable
	ready chan struct{}
	now   func() time.Time
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name:  name,
		jobs:  make(map[string]*Job),
		ready: make(chan struct{}),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the queue name
func (q *MemoryQueue) Name() string {
	return q.name
}

// Add appends a job
func (q *MemoryQueue) Add(ctx context.Context, name string, data interface{}) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	q.nextID++
	job, err := newJob(q.nextID, name, data, q.now())
	if err != nil {
		q.nextID--
		return nil, err
	}
	q.jobs[job.ID] = job
	q.waiting = append(q.waiting, job.ID)
	q.signalLocked()
	return copyJob(job), nil
}

// Reserve moves the oldest waiting job to active
func (q *MemoryQueue) Reserve(ctx context.Context, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if !q.paused && len(q.waiting) > 0 {
			id := q.waiting[0]
			q.waiting = q.waiting[1:]
			job := q.jobs[id]
			now := q.now()
			job.Status = StatusActive
			job.ProcessedOn = &now
			q.mu.Unlock()
			return copyJob(job), nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns an active job to the head of the waiting list
func (q *MemoryQueue) Release(ctx context.Context, id string, attempts int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.activeLocked(id)
	if err != nil {
		return err
	}
	job.Status = StatusWaiting
	job.AttemptsMade = attempts
	job.Progress = 0
	job.ProcessedOn = nil
	q.waiting = append([]string{id}, q.waiting...)
	q.signalLocked()
	return nil
}

// Complete marks an active job completed
func (q *MemoryQueue) Complete(ctx context.Context, id string, attempts int) error {
	return q.finish(id, attempts, StatusCompleted, "")
}

// Fail marks an active job failed
func (q *MemoryQueue) Fail(ctx context.Context, id string, attempts int, reason string) error {
	return q.finish(id, attempts, StatusFailed, reason)
}

func (q *MemoryQueue) finish(id string, attempts int, status JobStatus, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.activeLocked(id)
	if err != nil {
		return err
	}
	now := q.now()
	job.Status = status
	job.AttemptsMade = attempts
	job.FailedReason = reason
	job.FinishedOn = &now
	if status == StatusCompleted {
		job.Progress = 100
	}
	return nil
}

func (q *MemoryQueue) activeLocked(id string) (*Job, error) {
	if q.closed {
		return nil, ErrQueueClosed
	}
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != StatusActive {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	return job, nil
}

// UpdateProgress sets job progress
func (q *MemoryQueue) UpdateProgress(ctx context.Context, id string, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.activeLocked(id)
	if err != nil {
		return err
	}
	job.Progress = clampProgress(progress)
	return nil
}

// Get returns a job by ID
func (q *MemoryQueue) Get(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return q.viewLocked(job), nil
}

// Counts returns the number of jobs per status
func (q *MemoryQueue) Counts(ctx context.Context) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Counts{}, ErrQueueClosed
	}

	var c Counts
	for _, job := range q.jobs {
		switch job.Status {
		case StatusWaiting:
			if q.paused {
				c.Paused++
			} else {
				c.Waiting++
			}
		case StatusActive:
			c.Active++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

// Jobs lists jobs newest first
func (q *MemoryQueue) Jobs(ctx context.Context, statuses []JobStatus, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	result := make([]*Job, 0)
	for _, job := range q.jobs {
		view := q.viewLocked(job)
		if wantsStatus(statuses, view.Status) {
			result = append(result, view)
		}
	}
	return newestFirst(result, limit), nil
}

// Retry moves a failed job back to waiting
func (q *MemoryQueue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusFailed {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}

	resetForRetry(job)
	q.waiting = append(q.waiting, id)
	q.signalLocked()
	return nil
}

// Pause stops Reserve from handing out jobs
func (q *MemoryQueue) Pause(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.paused = true
	return nil
}

// Resume undoes Pause
func (q *MemoryQueue) Resume(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.paused = false
	q.signalLocked()
	return nil
}

// IsPaused reports whether the queue is paused
func (q *MemoryQueue) IsPaused(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	return q.paused, nil
}

// Close shuts down the queue and wakes blocked Reserve calls
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.signalLocked()
	return nil
}

func (q *MemoryQueue) signalLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}

// viewLocked copies a job, reporting waiting jobs of a paused queue as paused
func (q *MemoryQueue) viewLocked(job *Job) *Job {
	view := copyJob(job)
	if q.paused && view.Status == StatusWaiting {
		view.Status = StatusPaused
	}
	return view
}

func resetForRetry(job *Job) {
	job.Status = StatusWaiting
	job.FailedReason = ""
	job.Progress = 0
	job.ProcessedOn = nil
	job.FinishedOn = nil
}

func copyJob(job *Job) *Job {
	c := *job
	c.Data = append([]byte(nil), job.Data...)
	return &c
}
