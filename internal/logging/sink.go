// Package logging archives recorded usage logs outside the database.
package logging

import (
	"context"

	"saas_template/internal/models"
)

// Sink receives usage logs after they are stored
type Sink interface {
	Enqueue(log *models.UsageLog) error
	Shutdown(ctx context.Context) error
}

// BatchWriter persists a batch of usage logs and returns where it went
type BatchWriter interface {
	WriteBatch(ctx context.Context, logs []*models.UsageLog) (string, error)
}

// NoopSink discards everything
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(log *models.UsageLog) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
