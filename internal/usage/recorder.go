// Package usage records completion calls in the usage ledger and reports on
// them. Recording is best-effort: a failure never reaches the caller of the
// completion.
package usage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"saas_template/internal/logging"
	"saas_template/internal/models"
	"saas_template/internal/utils"
)

const recordTimeout = 5 * time.Second

// Store appends usage logs
type Store interface {
	Create(ctx context.Context, log *models.UsageLog) error
}

// Entry describes one completed call
type Entry struct {
	Model        string
	InputText    string
	OutputText   string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	InputCost    float64
	OutputCost   float64
	TotalCost    float64
}

// Outcome reports whether an entry reached the ledger
type Outcome struct {
	ID  uuid.UUID
	Err error
}

// Recorded reports whether the entry was stored
func (o Outcome) Recorded() bool {
	return o.Err == nil
}

// Stats counts recording outcomes since startup
type Stats struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
}

// Recorder writes usage entries to a Store and optionally an archive sink
type Recorder struct {
	store    Store
	archive  logging.Sink
	logger   *utils.Logger
	recorded atomic.Int64
	failed   atomic.Int64
}

// NewRecorder creates a recorder. archive may be nil.
func NewRecorder(store Store, archive logging.Sink) *Recorder {
	if archive == nil {
		archive = logging.NewNoopSink()
	}
	return &Recorder{
		store:   store,
		archive: archive,
		logger:  utils.NewLogger("usage"),
	}
}

// Record appends one entry. It never returns an error; failures are logged
// and reported in the Outcome. Cancellation of ctx does not abort the write.
func (r *Recorder) Record(ctx context.Context, e Entry) Outcome {
	log := &models.UsageLog{
		ID:           uuid.New(),
		Model:        e.Model,
		InputText:    e.InputText,
		OutputText:   e.OutputText,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		TotalTokens:  e.TotalTokens,
		InputCost:    e.InputCost,
		OutputCost:   e.OutputCost,
		TotalCost:    e.TotalCost,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.store.Create(writeCtx, log); err != nil {
		r.failed.Add(1)
		r.logger.Error("Failed to record usage", "model", e.Model, "error", err)
		return Outcome{ID: log.ID, Err: err}
	}
	r.recorded.Add(1)

	if err := r.archive.Enqueue(log); err != nil {
		r.logger.Warn("Failed to archive usage", "id", log.ID, "error", err)
	}

	r.logger.Debug("Recorded usage",
		"id", log.ID,
		"model", log.Model,
		"total_tokens", log.TotalTokens,
		"total_cost", log.TotalCost,
	)
	return Outcome{ID: log.ID}
}

// Stats returns recording counters
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Failed:   r.failed.Load(),
	}
}
