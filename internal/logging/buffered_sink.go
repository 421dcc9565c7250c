package logging

import (
	"context"
	"errors"
	"sync"
	"time"

	"saas_template/internal/models"
	"saas_template/internal/utils"
)

// ErrSinkFull is returned when the in-memory buffer cannot take more logs
var ErrSinkFull = errors.New("archive buffer full")

// ErrSinkClosed is returned after Shutdown
var ErrSinkClosed = errors.New("archive sink closed")

// BufferedSinkConfig controls batching
type BufferedSinkConfig struct {
	BufferSize    int           // In-memory queue size
	FlushSize     int           // Flush after this many logs
	FlushInterval time.Duration // Flush at least this often when non-empty
}

// BufferedSink batches usage logs in memory and hands them to a BatchWriter
// when the batch is full, on a timer, and on shutdown.
type BufferedSink struct {
	writer BatchWriter
	cfg    BufferedSinkConfig
	logger *utils.Logger

	logCh  chan *models.UsageLog
	doneCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewBufferedSink starts the flush loop
func NewBufferedSink(writer BatchWriter, cfg BufferedSinkConfig) *BufferedSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}

	s := &BufferedSink{
		writer: writer,
		cfg:    cfg,
		logger: utils.NewLogger("usage-archive"),
		logCh:  make(chan *models.UsageLog, cfg.BufferSize),
		doneCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues a log without blocking. A full buffer drops the log.
func (s *BufferedSink) Enqueue(log *models.UsageLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.logCh <- log:
		return nil
	default:
		return ErrSinkFull
	}
}

// Shutdown stops accepting logs, flushes what is buffered and waits for the
// loop to exit or ctx to expire.
func (s *BufferedSink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.doneCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BufferedSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.UsageLog, 0, s.cfg.FlushSize)

	for {
		select {
		case l := <-s.logCh:
			batch = append(batch, l)
			if len(batch) >= s.cfg.FlushSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		case <-s.doneCh:
			// Drain remaining logs
			for {
				select {
				case l := <-s.logCh:
					batch = append(batch, l)
					if len(batch) >= s.cfg.FlushSize {
						batch = s.flush(batch)
					}
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes the batch and returns an empty slice to reuse. A failed
// write is logged and the batch is dropped.
func (s *BufferedSink) flush(batch []*models.UsageLog) []*models.UsageLog {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
		s.logger.Error("Failed to archive usage batch", "count", len(batch), "error", err)
	}
	return make([]*models.UsageLog, 0, s.cfg.FlushSize)
}
