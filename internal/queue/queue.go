// Package queue provides named job queues with two backends:
//
// 1. Memory Queue (in-process):
//   - No persistence, jobs are lost on restart
//   - Zero external dependencies
//   - Suited to standalone and development deployments
//
// 2. Redis Queue (hash + list + sorted sets):
//   - Persistent across restarts
//   - Supports workers in separate processes
//
// Job lifecycle:
//
//	   ┌──────Release──────┐
//	   ▼                   │
//	waiting ──Reserve──▶ active ──Complete──▶ completed
//	   ▲                   │
//	   └──────Retry─────── failed ◀──Fail──┘
//
// Workers process jobs with a fixed concurrency and retry failed attempts
// in-process with exponential backoff before marking a job failed. A job
// cut short by a worker shutdown is released back to waiting instead.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	StatusWaiting   JobStatus = "waiting"
	StatusActive    JobStatus = "active"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	// StatusPaused is reported for waiting jobs of a paused queue
	StatusPaused JobStatus = "paused"
)

// ParseStatus validates a status name
func ParseStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusPaused:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Job is one unit of deferred work
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Status       JobStatus       `json:"status"`
	AttemptsMade int             `json:"attemptsMade"`
	FailedReason string          `json:"failedReason,omitempty"`
	Progress     int             `json:"progress"`
	CreatedAt    time.Time       `json:"timestamp"`
	ProcessedOn  *time.Time      `json:"processedOn,omitempty"`
	FinishedOn   *time.Time      `json:"finishedOn,omitempty"`
}

// Decode unmarshals the job payload into dest
func (j *Job) Decode(dest interface{}) error {
	if err := json.Unmarshal(j.Data, dest); err != nil {
		return fmt.Errorf("failed to decode job %s data: %w", j.ID, err)
	}
	return nil
}

// seq orders jobs by creation; IDs are increasing integers
func (j *Job) seq() int64 {
	n, _ := strconv.ParseInt(j.ID, 10, 64)
	return n
}

// Counts is the number of jobs per status
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Paused    int `json:"paused"`
}

// Queue is a named FIFO of jobs
type Queue interface {
	// Name returns the queue name
	Name() string

	// Add appends a job whose payload is data serialized as JSON
	Add(ctx context.Context, name string, data interface{}) (*Job, error)

	// Reserve moves the oldest waiting job to active. It returns nil, nil
	// when nothing is ready within timeout or the queue is paused.
	Reserve(ctx context.Context, timeout time.Duration) (*Job, error)

	// Complete marks an active job completed
	Complete(ctx context.Context, id string, attempts int) error

	// Release returns an active job to the head of the waiting list,
	// keeping its attempt count
	Release(ctx context.Context, id string, attempts int) error

	// Fail marks an active job failed
	Fail(ctx context.Context, id string, attempts int, reason string) error

	// UpdateProgress sets the progress (0-100) of a job
	UpdateProgress(ctx context.Context, id string, progress int) error

	// Get returns a job by ID
	Get(ctx context.Context, id string) (*Job, error)

	// Counts returns the number of jobs per status
	Counts(ctx context.Context) (Counts, error)

	// Jobs lists jobs in the given statuses, newest first. An empty status
	// list means all statuses; limit <= 0 means no limit.
	Jobs(ctx context.Context, statuses []JobStatus, limit int) ([]*Job, error)

	// Retry moves a failed job back to waiting
	Retry(ctx context.Context, id string) error

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)

	// Close releases the queue
	Close() error
}

// Config holds queue configuration
type Config struct {
	// MaxRetries is the number of extra attempts after the first failure
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt
	RetryBackoff time.Duration

	// PollTimeout bounds each Reserve call of a worker
	PollTimeout time.Duration

	// KeyPrefix namespaces Redis keys
	KeyPrefix string
}

// DefaultConfig returns default queue configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		PollTimeout:  5 * time.Second,
		KeyPrefix:    "queue",
	}
}

// Backoff returns the wait before the given retry (1-based)
func (c *Config) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return c.RetryBackoff * time.Duration(1<<uint(retry-1))
}

func newJob(id int64, name string, data interface{}, now time.Time) (*Job, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}
	return &Job{
		ID:        strconv.FormatInt(id, 10),
		Name:      name,
		Data:      payload,
		Status:    StatusWaiting,
		CreatedAt: now,
	}, nil
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// wantsStatus reports whether st is selected by statuses
func wantsStatus(statuses []JobStatus, st JobStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// newestFirst sorts jobs by descending ID and applies limit
func newestFirst(jobs []*Job, limit int) []*Job {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].seq() > jobs[j].seq() })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
