package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on Redis. Job bodies live in a hash, waiting
// IDs in a list and the other states in sorted sets scored by job ID. IDs
// being handed to a worker sit briefly in a "reserving" list.
type RedisQueue struct {
	client redis.UniversalClient
	name   string
	prefix string
	closed atomic.Bool
	now    func() time.Time
}

// NewRedisQueue creates a Redis-backed queue on a shared client. Close does
// not close the client.
func NewRedisQueue(client redis.UniversalClient, name string, config *Config) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "queue"
	}

	return &RedisQueue{
		client: client,
		name:   name,
		prefix: fmt.Sprintf("%s:%s", keyPrefix, name),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (q *RedisQueue) key(part string) string {
	return q.prefix + ":" + part
}

func (q *RedisQueue) statusKey(st JobStatus) string {
	return q.key(string(st))
}

// Name returns the queue name
func (q *RedisQueue) Name() string {
	return q.name
}

// Add appends a job
func (q *RedisQueue) Add(ctx context.Context, name string, data interface{}) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	id, err := q.client.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job id: %w", err)
	}
	job, err := newJob(id, name, data, q.now())
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.ID, body)
		pipe.RPush(ctx, q.key("wait"), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to push to Redis: %w", err)
	}
	return job, nil
}

// Reserve moves the oldest waiting job to active
func (q *RedisQueue) Reserve(ctx context.Context, timeout time.Duration) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	paused, err := q.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		select {
		case <-time.After(timeout):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// LMOVE parks the ID in the reserving list so a cancelled caller can
	// never drop it between the pop and the activation.
	var id string
	if timeout <= 0 {
		id, err = q.client.LMove(ctx, q.key("wait"), q.key("reserving"), "LEFT", "RIGHT").Result()
	} else {
		id, err = q.client.BLMove(ctx, q.key("wait"), q.key("reserving"), "LEFT", "RIGHT", timeout).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	job, err := q.activate(actx, id)
	if err != nil {
		return nil, errors.Join(err, q.unreserve(actx, id, errors.Is(err, ErrJobNotFound)))
	}
	return job, nil
}

// activate moves a reserved ID into the active set
func (q *RedisQueue) activate(ctx context.Context, id string) (*Job, error) {
	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := q.now()
	job.Status = StatusActive
	job.ProcessedOn = &now
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.ID, body)
		pipe.LRem(ctx, q.key("reserving"), 1, job.ID)
		pipe.ZAdd(ctx, q.statusKey(StatusActive), redis.Z{Score: float64(job.seq()), Member: job.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate job %s: %w", id, err)
	}
	return job, nil
}

// unreserve hands a reserved ID back to the head of the waiting list, or
// drops it when its body is gone
func (q *RedisQueue) unreserve(ctx context.Context, id string, drop bool) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("reserving"), 1, id)
		if !drop {
			pipe.LPush(ctx, q.key("wait"), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release job %s: %w", id, err)
	}
	return nil
}

// Release returns an active job to the head of the waiting list
func (q *RedisQueue) Release(ctx context.Context, id string, attempts int) error {
	job, err := q.active(ctx, id)
	if err != nil {
		return err
	}
	job.Status = StatusWaiting
	job.AttemptsMade = attempts
	job.Progress = 0
	job.ProcessedOn = nil
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.ID, body)
		pipe.ZRem(ctx, q.statusKey(StatusActive), job.ID)
		pipe.LPush(ctx, q.key("wait"), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release job %s: %w", id, err)
	}
	return nil
}

// Complete marks an active job completed
func (q *RedisQueue) Complete(ctx context.Context, id string, attempts int) error {
	return q.finish(ctx, id, attempts, StatusCompleted, "")
}

// Fail marks an active job failed
func (q *RedisQueue) Fail(ctx context.Context, id string, attempts int, reason string) error {
	return q.finish(ctx, id, attempts, StatusFailed, reason)
}

func (q *RedisQueue) finish(ctx context.Context, id string, attempts int, status JobStatus, reason string) error {
	job, err := q.active(ctx, id)
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
	return q.move(ctx, job, StatusActive)
}

func (q *RedisQueue) active(ctx context.Context, id string) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusActive {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	return job, nil
}

// UpdateProgress sets job progress
func (q *RedisQueue) UpdateProgress(ctx context.Context, id string, progress int) error {
	job, err := q.active(ctx, id)
	if err != nil {
		return err
	}
	job.Progress = clampProgress(progress)
	return q.save(ctx, job)
}

// Get returns a job by ID
func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return q.view(ctx, job)
}

// Counts returns the number of jobs per status
func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	if q.closed.Load() {
		return Counts{}, ErrQueueClosed
	}

	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.ZCard(ctx, q.statusKey(StatusActive))
	reserving := pipe.LLen(ctx, q.key("reserving"))
	completed := pipe.ZCard(ctx, q.statusKey(StatusCompleted))
	failed := pipe.ZCard(ctx, q.statusKey(StatusFailed))
	paused := pipe.Exists(ctx, q.key("paused"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	c := Counts{
		Active:    int(active.Val() + reserving.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}
	if paused.Val() > 0 {
		c.Paused = int(waiting.Val())
	} else {
		c.Waiting = int(waiting.Val())
	}
	return c, nil
}

// Jobs lists jobs newest first
func (q *RedisQueue) Jobs(ctx context.Context, statuses []JobStatus, limit int) ([]*Job, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	paused, err := q.IsPaused(ctx)
	if err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	var ids []string
	waitingStatus := StatusWaiting
	if paused {
		waitingStatus = StatusPaused
	}
	if wantsStatus(statuses, waitingStatus) {
		// newest waiting jobs are at the tail of the list
		start := int64(0)
		if limit > 0 {
			start = int64(-limit)
		}
		waiting, err := q.client.LRange(ctx, q.key("wait"), start, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list waiting jobs: %w", err)
		}
		ids = append(ids, waiting...)
	}
	for _, st := range []JobStatus{StatusActive, StatusCompleted, StatusFailed} {
		if !wantsStatus(statuses, st) {
			continue
		}
		members, err := q.client.ZRevRange(ctx, q.statusKey(st), 0, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list %s jobs: %w", st, err)
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}

	bodies, err := q.client.HMGet(ctx, q.key("jobs"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	jobs := make([]*Job, 0, len(bodies))
	for _, raw := range bodies {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			continue // Skip malformed jobs
		}
		if paused && job.Status == StatusWaiting {
			job.Status = StatusPaused
		}
		jobs = append(jobs, &job)
	}
	return newestFirst(jobs, limit), nil
}

// Retry moves a failed job back to waiting
func (q *RedisQueue) Retry(ctx context.Context, id string) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	job, err := q.load(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != StatusFailed {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	resetForRetry(job)
	return q.move(ctx, job, StatusFailed)
}

// Pause stops Reserve from handing out jobs
func (q *RedisQueue) Pause(ctx context.Context) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if err := q.client.Set(ctx, q.key("paused"), "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to pause queue: %w", err)
	}
	return nil
}

// Resume undoes Pause
func (q *RedisQueue) Resume(ctx context.Context) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if err := q.client.Del(ctx, q.key("paused")).Err(); err != nil {
		return fmt.Errorf("failed to resume queue: %w", err)
	}
	return nil
}

// IsPaused reports whether the queue is paused
func (q *RedisQueue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.client.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read pause flag: %w", err)
	}
	return n > 0, nil
}

// Close marks the queue closed. The shared client stays open.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	body, err := q.client.HGet(ctx, q.key("jobs"), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, q.key("jobs"), job.ID, body).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// move persists job and transfers its ID from one state index to the one
// matching job.Status
func (q *RedisQueue) move(ctx context.Context, job *Job, from JobStatus) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	score := float64(job.seq())

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key("jobs"), job.ID, body)
		if from != StatusWaiting {
			pipe.ZRem(ctx, q.statusKey(from), job.ID)
		}
		if job.Status == StatusWaiting {
			pipe.RPush(ctx, q.key("wait"), job.ID)
		} else {
			pipe.ZAdd(ctx, q.statusKey(job.Status), redis.Z{Score: score, Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move job %s to %s: %w", job.ID, job.Status, err)
	}
	return nil
}

func (q *RedisQueue) view(ctx context.Context, job *Job) (*Job, error) {
	if job.Status != StatusWaiting {
		return job, nil
	}
	paused, err := q.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		job.Status = StatusPaused
	}
	return job, nil
}
