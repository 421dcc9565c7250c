package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func noop(ctx context.Context, job *Job) error { return nil }

func TestRegistry_GetAndAll(t *testing.T) {
	r, err := NewRegistry(MemoryFactory(), nil,
		Definition{Name: "emails", Concurrency: 2, Processor: noop},
		Definition{Name: "reports", Concurrency: 1, Processor: noop},
	)
	require.NoError(t, err)
	defer r.Close()

	q, err := r.Get("emails")
	require.NoError(t, err)
	assert.Equal(t, "emails", q.Name())

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, ErrQueueNotFound)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "emails", all[0].Name())
	assert.Equal(t, "reports", all[1].Name())
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(MemoryFactory(), nil,
		Definition{Name: "a"},
		Definition{Name: "a"},
	)
	assert.Error(t, err)
}

func TestRegistry_Summaries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r, err := NewRegistry(RedisFactory(client, nil), nil,
		Definition{Name: "one"},
		Definition{Name: "two"},
	)
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	one, _ := r.Get("one")
	two, _ := r.Get("two")
	one.Add(ctx, "x", testPayload{})
	one.Add(ctx, "x", testPayload{})
	require.NoError(t, two.Pause(ctx))

	summaries, err := r.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, Summary{Name: "one", Counts: Counts{Waiting: 2}}, summaries[0])
	assert.Equal(t, Summary{Name: "two", Paused: true}, summaries[1])
}

func TestRegistry_StartStopWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, err := NewRegistry(MemoryFactory(), fastConfig(),
		Definition{Name: "jobs", Concurrency: 5, Processor: noop},
		Definition{Name: "inbox"}, // no processor, no worker
	)
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	r.StartWorkers(ctx)
	r.StartWorkers(ctx) // idempotent

	workers := r.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, 5, workers[0].Concurrency())

	q, _ := r.Get("jobs")
	q.Add(ctx, "x", testPayload{})
	waitFor(t, func() bool { return workers[0].Stats().Completed == 1 })

	require.NoError(t, r.StopWorkers(ctx))
	assert.Empty(t, r.Workers())
}
