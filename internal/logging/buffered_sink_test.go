package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"saas_template/internal/models"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]*models.UsageLog
	err     error
}

func (f *fakeWriter) WriteBatch(ctx context.Context, logs []*models.UsageLog) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	cp := append([]*models.UsageLog(nil), logs...)
	f.batches = append(f.batches, cp)
	return "key", nil
}

func (f *fakeWriter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeWriter) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestBufferedSink_FlushesOnSize(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{}
	sink := NewBufferedSink(w, BufferedSinkConfig{BufferSize: 100, FlushSize: 3, FlushInterval: time.Hour})

	for i := 0; i < 6; i++ {
		require.NoError(t, sink.Enqueue(&models.UsageLog{Model: "m"}))
	}

	assert.Eventually(t, func() bool { return w.batchCount() == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, sink.Shutdown(context.Background()))
	assert.Equal(t, 6, w.total())
}

func TestBufferedSink_FlushesOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{}
	sink := NewBufferedSink(w, BufferedSinkConfig{BufferSize: 10, FlushSize: 100, FlushInterval: 20 * time.Millisecond})
	defer sink.Shutdown(context.Background())

	require.NoError(t, sink.Enqueue(&models.UsageLog{Model: "m"}))
	assert.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBufferedSink_ShutdownDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{}
	sink := NewBufferedSink(w, BufferedSinkConfig{BufferSize: 10, FlushSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 4; i++ {
		require.NoError(t, sink.Enqueue(&models.UsageLog{Model: "m"}))
	}
	require.NoError(t, sink.Shutdown(context.Background()))

	assert.Equal(t, 4, w.total())
	assert.ErrorIs(t, sink.Enqueue(&models.UsageLog{}), ErrSinkClosed)
	assert.NoError(t, sink.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestBufferedSink_WriterFailureDropsBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{err: errors.New("s3 down")}
	sink := NewBufferedSink(w, BufferedSinkConfig{BufferSize: 10, FlushSize: 1, FlushInterval: time.Hour})

	require.NoError(t, sink.Enqueue(&models.UsageLog{Model: "m"}))
	require.NoError(t, sink.Shutdown(context.Background()))
	assert.Equal(t, 0, w.total())
}

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	assert.NoError(t, sink.Enqueue(&models.UsageLog{Model: "gpt-4"}))
	assert.NoError(t, sink.Shutdown(context.Background()))
}

func TestObjectKey(t *testing.T) {
	ts := time.Date(2025, 11, 30, 14, 30, 22, 123456789, time.UTC)
	assert.Equal(t, "usage/2025/11/30/api-0-20251130-143022-123456789.jsonl", ObjectKey("usage/", "api-0", ts))
}

func TestEncodeJSONL(t *testing.T) {
	logs := []*models.UsageLog{
		{Model: "a", InputTokens: 1},
		{Model: "b", OutputTokens: 2},
	}

	body, n := EncodeJSONL(logs)
	assert.Equal(t, 2, n)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	var names []string
	for scanner.Scan() {
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		names = append(names, decoded["model"].(string))
	}
	assert.Equal(t, []string{"a", "b"}, names)
}
