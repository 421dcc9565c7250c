package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"saas_template/internal/queue"
	"saas_template/internal/utils"
)

func strPtr(s string) *string { return &s }

type fakeMailer struct {
	mu    sync.Mutex
	sent  []string
	names []*string
	err   error
}

func (m *fakeMailer) SendWelcome(ctx context.Context, to string, firstName *string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, to)
	m.names = append(m.names, firstName)
	return "email_" + to, nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestTestJobData_DisplayName(t *testing.T) {
	tests := []struct {
		name string
		data TestJobData
		want string
	}{
		{"both", TestJobData{FirstName: strPtr("Ada"), LastName: strPtr("Lovelace")}, "Ada Lovelace"},
		{"first only", TestJobData{FirstName: strPtr("Ada")}, "Ada"},
		{"last only", TestJobData{LastName: strPtr("Lovelace")}, "Lovelace"},
		{"none", TestJobData{}, "Unknown"},
		{"empty strings", TestJobData{FirstName: strPtr(""), LastName: strPtr("")}, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.data.DisplayName())
		})
	}
}

func TestProcessTestJob(t *testing.T) {
	q := queue.NewMemoryQueue(TestQueueName)
	defer q.Close()
	ctx := context.Background()

	_, err := q.Add(ctx, "test-job", TestJobData{UserID: "user_1", Email: "a@example.com"})
	require.NoError(t, err)
	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, ProcessTestJob(ctx, job))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, ProcessTestJob(cancelled, job), context.Canceled)
}

func TestProcessTestJob_BadPayload(t *testing.T) {
	job := &queue.Job{ID: "1", Data: []byte(`"not an object"`)}
	assert.Error(t, ProcessTestJob(context.Background(), job))
}

func TestRegistryLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := queue.DefaultConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	mailer := &fakeMailer{}
	registry, err := NewRegistry(queue.MemoryFactory(), cfg, mailer)
	require.NoError(t, err)
	defer registry.Close()

	require.Len(t, registry.All(), 2)

	ctx := context.Background()
	StartWorkers(ctx, registry)
	workers := registry.Workers()
	require.Len(t, workers, 2)
	assert.Equal(t, TestQueueConcurrency, workers[0].Concurrency())
	assert.Equal(t, EmailQueueConcurrency, workers[1].Concurrency())

	job, err := EnqueueTestJob(ctx, registry, TestJobData{UserID: "user_1", Email: "a@example.com", FirstName: strPtr("Ada")})
	require.NoError(t, err)

	q, err := registry.Get(TestQueueName)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, job.ID)
		return err == nil && got.Status == queue.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, err = EnqueueWelcomeEmail(ctx, registry, WelcomeEmailData{Email: "ada@example.com", FirstName: strPtr("Ada")})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mailer.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, StopWorkers(ctx, registry))
}

func TestNewRegistry_RequiresMailer(t *testing.T) {
	_, err := NewRegistry(queue.MemoryFactory(), nil, nil)
	assert.Error(t, err)
}

func TestWelcomeProcessor(t *testing.T) {
	ctx := context.Background()
	mailer := &fakeMailer{}
	process := WelcomeProcessor(mailer)

	require.NoError(t, process(ctx, &queue.Job{ID: "1", Data: []byte(`{"email":"ada@example.com","firstName":"Ada"}`)}))
	require.Equal(t, []string{"ada@example.com"}, mailer.sent)
	require.NotNil(t, mailer.names[0])
	assert.Equal(t, "Ada", *mailer.names[0])

	require.NoError(t, process(ctx, &queue.Job{ID: "2", Data: []byte(`{"email":"bob@example.com"}`)}))
	assert.Nil(t, mailer.names[1])

	assert.Error(t, process(ctx, &queue.Job{ID: "3", Data: []byte(`{}`)}), "email is required")
	assert.Error(t, process(ctx, &queue.Job{ID: "4", Data: []byte(`[]`)}))

	failing := WelcomeProcessor(&fakeMailer{err: errors.New("rate limited")})
	err := failing(ctx, &queue.Job{ID: "5", Data: []byte(`{"email":"ada@example.com"}`)})
	assert.ErrorContains(t, err, "rate limited")
}

func TestEnqueueWelcomeEmail(t *testing.T) {
	registry, err := NewRegistry(queue.MemoryFactory(), nil, &fakeMailer{})
	require.NoError(t, err)
	defer registry.Close()
	ctx := context.Background()

	_, err = EnqueueWelcomeEmail(ctx, registry, WelcomeEmailData{})
	assert.Error(t, err)

	job, err := EnqueueWelcomeEmail(ctx, registry, WelcomeEmailData{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "welcome-email", job.Name)

	q, err := registry.Get(EmailQueueName)
	require.NoError(t, err)
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
}

func TestEnqueueTestJob_Validation(t *testing.T) {
	registry, err := NewRegistry(queue.MemoryFactory(), nil, &fakeMailer{})
	require.NoError(t, err)
	defer registry.Close()

	_, err = EnqueueTestJob(context.Background(), registry, TestJobData{Email: "a@example.com"})
	assert.Error(t, err)
	_, err = EnqueueTestJob(context.Background(), registry, TestJobData{UserID: "u"})
	assert.Error(t, err)
}

func TestProcessTestJob_FollowsConfiguredLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	closer := utils.ConfigureLogging(utils.LogOptions{Level: utils.Error, File: path})
	t.Cleanup(func() {
		closer.Close()
		utils.ConfigureLogging(utils.LogOptions{Level: utils.Info})
	})

	job := &queue.Job{ID: "7", Data: []byte(`{"userId":"user_1","email":"a@example.com"}`)}
	require.NoError(t, ProcessTestJob(context.Background(), job))
	logger.Error("marker")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "marker")
	assert.NotContains(t, string(raw), "Processing test job")
	assert.NotContains(t, string(raw), "Test job finished")
}
