package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisQueue(t *testing.T, name string) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewRedisQueue(client, name, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func TestRedisQueue_AddReserveComplete(t *testing.T) {
	q, mr := setupRedisQueue(t, "test-redis-basic")
	ctx := context.Background()

	added, err := q.Add(ctx, "greet", testPayload{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "1", added.ID)
	assert.True(t, mr.Exists("queue:test-redis-basic:jobs"))

	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, added.ID, job.ID)
	assert.Equal(t, StatusActive, job.Status)
	assert.NotNil(t, job.ProcessedOn)

	var p testPayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, "u1", p.UserID)

	require.NoError(t, q.UpdateProgress(ctx, job.ID, 40))
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	require.NoError(t, q.Complete(ctx, job.ID, 1))
	got, err = q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.NotNil(t, got.FinishedOn)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, counts)

	assert.ErrorIs(t, q.Complete(ctx, job.ID, 1), ErrInvalidTransition)
}

func TestRedisQueue_FIFOAndEmpty(t *testing.T) {
	q, _ := setupRedisQueue(t, "test-redis-fifo")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Add(ctx, "n", testPayload{N: i})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		job, err := q.Reserve(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, job)
		var p testPayload
		require.NoError(t, job.Decode(&p))
		assert.Equal(t, i, p.N)
	}

	job, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisQueue_FailRetry(t *testing.T) {
	q, _ := setupRedisQueue(t, "test-redis-retry")
	ctx := context.Background()

	_, err := q.Add(ctx, "flaky", testPayload{})
	require.NoError(t, err)
	job, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job.ID, 4, "boom"))

	failed, err := q.Jobs(ctx, []JobStatus{StatusFailed}, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].FailedReason)
	assert.Equal(t, 4, failed[0].AttemptsMade)

	require.NoError(t, q.Retry(ctx, job.ID))
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Waiting: 1}, counts)

	again, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Empty(t, again.FailedReason)

	assert.ErrorIs(t, q.Retry(ctx, "404"), ErrJobNotFound)
	assert.ErrorIs(t, q.Retry(ctx, job.ID), ErrInvalidTransition)
}

func TestRedisQueue_PauseResume(t *testing.T) {
	q, _ := setupRedisQueue(t, "test-redis-pause")
	ctx := context.Background()

	_, err := q.Add(ctx, "a", testPayload{})
	require.NoError(t, err)
	require.NoError(t, q.Pause(ctx))

	job, err := q.Reserve(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Paused: 1}, counts)

	jobs, err := q.Jobs(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusPaused, jobs[0].Status)

	require.NoError(t, q.Resume(ctx))
	paused, err := q.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	job, err = q.Reserve(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestRedisQueue_JobsNewestFirst(t *testing.T) {
	q, _ := setupRedisQueue(t, "test-redis-list")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := q.Add(ctx, "n", testPayload{N: i})
		require.NoError(t, err)
	}
	job, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job.ID, 1))

	jobs, err := q.Jobs(ctx, nil, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"5", "4", "3"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	completed, err := q.Jobs(ctx, []JobStatus{StatusCompleted}, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "1", completed[0].ID)
}

// cmdHook runs afterCmd once a command has been executed and lets failPipe
// reject whole pipelines before they reach the server
type cmdHook struct {
	afterCmd func(cmd redis.Cmder)
	failPipe func(cmds []redis.Cmder) error
}

func (h *cmdHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if h.afterCmd != nil {
			h.afterCmd(cmd)
		}
		return err
	}
}

func (h *cmdHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if h.failPipe != nil {
			if err := h.failPipe(cmds); err != nil {
				return err
			}
		}
		return next(ctx, cmds)
	}
}

func hookedRedisQueue(t *testing.T, name string, hook *cmdHook) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	client.AddHook(hook)

	q, err := NewRedisQueue(client, name, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func isMove(cmd redis.Cmder) bool {
	return cmd.Name() == "lmove" || cmd.Name() == "blmove"
}

func TestRedisQueue_ReserveSurvivesCancelAfterPop(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second} {
		t.Run(fmt.Sprintf("timeout=%s", timeout), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			hook := &cmdHook{afterCmd: func(cmd redis.Cmder) {
				if isMove(cmd) {
					cancel()
				}
			}}
			q := hookedRedisQueue(t, "test-redis-cancel", hook)

			added, err := q.Add(context.Background(), "greet", testPayload{UserID: "u1"})
			require.NoError(t, err)

			job, err := q.Reserve(ctx, timeout)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, added.ID, job.ID)
			assert.Error(t, ctx.Err())

			bg := context.Background()
			counts, err := q.Counts(bg)
			require.NoError(t, err)
			assert.Equal(t, Counts{Active: 1}, counts)

			active, err := q.Jobs(bg, []JobStatus{StatusActive}, 0)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, added.ID, active[0].ID)

			require.NoError(t, q.Complete(bg, job.ID, 1))
		})
	}
}

func TestRedisQueue_ReserveReturnsJobWhenActivationFails(t *testing.T) {
	var failed atomic.Bool
	hook := &cmdHook{failPipe: func(cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if cmd.Name() == "zadd" && failed.CompareAndSwap(false, true) {
				return errors.New("connection reset")
			}
		}
		return nil
	}}
	q := hookedRedisQueue(t, "test-redis-activate", hook)
	ctx := context.Background()

	first, err := q.Add(ctx, "a", testPayload{N: 1})
	require.NoError(t, err)
	_, err = q.Add(ctx, "b", testPayload{N: 2})
	require.NoError(t, err)

	job, err := q.Reserve(ctx, 0)
	require.Error(t, err)
	assert.Nil(t, job)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Waiting: 2}, counts)

	again, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
}

func TestRedisQueue_ReserveDropsOrphanedIDs(t *testing.T) {
	q, mr := setupRedisQueue(t, "test-redis-orphan")
	ctx := context.Background()

	added, err := q.Add(ctx, "a", testPayload{})
	require.NoError(t, err)
	mr.HDel("queue:test-redis-orphan:jobs", added.ID)

	_, err = q.Reserve(ctx, 0)
	assert.ErrorIs(t, err, ErrJobNotFound)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)
}

func TestRedisQueue_Release(t *testing.T) {
	q, _ := setupRedisQueue(t, "test-redis-release")
	ctx := context.Background()

	first, err := q.Add(ctx, "a", testPayload{N: 1})
	require.NoError(t, err)
	_, err = q.Add(ctx, "b", testPayload{N: 2})
	require.NoError(t, err)

	job, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.UpdateProgress(ctx, job.ID, 30))
	require.NoError(t, q.Release(ctx, job.ID, 2))
	assert.ErrorIs(t, q.Release(ctx, job.ID, 2), ErrInvalidTransition)

	released, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, released.Status)
	assert.Equal(t, 2, released.AttemptsMade)
	assert.Equal(t, 0, released.Progress)
	assert.Nil(t, released.ProcessedOn)

	next, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)
}

// TestRedisQueue_RandomInterruptions cancels callers at random points around
// the pop and checks no job is ever lost or handed out twice
func TestRedisQueue_RandomInterruptions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var cancelCurrent atomic.Value
	hook := &cmdHook{afterCmd: func(cmd redis.Cmder) {
		if !isMove(cmd) {
			return
		}
		if fn, ok := cancelCurrent.Load().(context.CancelFunc); ok && fn != nil {
			fn()
		}
	}}
	q := hookedRedisQueue(t, "test-redis-sweep", hook)
	bg := context.Background()

	const total = 40
	for i := 0; i < total; i++ {
		_, err := q.Add(bg, "n", testPayload{N: i})
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for len(seen) < total {
		ctx, cancel := context.WithCancel(bg)
		if rng.Intn(2) == 0 {
			cancelCurrent.Store(cancel)
		} else {
			cancelCurrent.Store(context.CancelFunc(nil))
		}
		timeout := time.Duration(0)
		if rng.Intn(2) == 0 {
			timeout = 50 * time.Millisecond
		}
		job, err := q.Reserve(ctx, timeout)
		cancel()
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.False(t, seen[job.ID], "job %s handed out twice", job.ID)
		seen[job.ID] = true
		if rng.Intn(3) == 0 {
			require.NoError(t, q.Release(bg, job.ID, 1))
			delete(seen, job.ID)
			continue
		}
		require.NoError(t, q.Complete(bg, job.ID, 1))
	}

	counts, err := q.Counts(bg)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: total}, counts)
}

func TestRedisQueue_Closed(t *testing.T) {
	q, _ := setupRedisQueue(t, "test-redis-closed")
	require.NoError(t, q.Close())

	_, err := q.Add(context.Background(), "x", testPayload{})
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, err = q.Reserve(context.Background(), 0)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRedisQueue_GetMissing(t *testing.T) {
	q, _ := setupRedisQueue(t, "test-redis-missing")
	_, err := q.Get(context.Background(), "42")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

// TestRedisQueue_RealServer runs against a live Redis when REDIS_TEST_URL is set
func TestRedisQueue_RealServer(t *testing.T) {
	raw := os.Getenv("REDIS_TEST_URL")
	if raw == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	conn, err := ParseRedisURL(raw)
	require.NoError(t, err)

	client := redis.NewClient(conn.Options())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	cfg := DefaultConfig()
	cfg.KeyPrefix = "queue-test"
	q, err := NewRedisQueue(client, "integration", cfg)
	require.NoError(t, err)
	defer q.Close()

	keys, _ := client.Keys(ctx, "queue-test:integration:*").Result()
	if len(keys) > 0 {
		client.Del(ctx, keys...)
	}
	defer func() {
		keys, _ := client.Keys(context.Background(), "queue-test:integration:*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	}()

	added, err := q.Add(ctx, "n", testPayload{N: 7})
	require.NoError(t, err)
	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, added.ID, job.ID)
	require.NoError(t, q.Complete(ctx, job.ID, 1))
}
