package usage

import (
	"context"
	"strconv"
	"time"

	"saas_template/internal/models"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 200
	DefaultSummaryDays = 7
	MaxSummaryDays     = 365
)

// Source is the read side of the usage ledger
type Source interface {
	ListRecent(ctx context.Context, limit int) ([]*models.UsageLog, error)
	Summary(ctx context.Context, days int, now time.Time) (*models.UsageSummary, error)
}

// LogView is a usage log as shown to administrators. Costs are decimal
// strings so no precision is lost in transit.
type LogView struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	InputText    string `json:"inputText"`
	OutputText   string `json:"outputText"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	TotalTokens  int    `json:"totalTokens"`
	InputCost    string `json:"inputCost"`
	OutputCost   string `json:"outputCost"`
	TotalCost    string `json:"totalCost"`
	CreatedAt    string `json:"createdAt"`
}

// Reporter serves the admin usage views
type Reporter struct {
	source Source
	now    func() time.Time
}

// NewReporter creates a reporter over source
func NewReporter(source Source) *Reporter {
	return &Reporter{source: source, now: time.Now}
}

// Recent returns the newest logs first. limit <= 0 means 50.
func (r *Reporter) Recent(ctx context.Context, limit int) ([]LogView, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	logs, err := r.source.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	views := make([]LogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, toView(l))
	}
	return views, nil
}

// Summarize aggregates the last days of usage. Out of range values fall back
// to the 7 day default.
func (r *Reporter) Summarize(ctx context.Context, days int) (*models.UsageSummary, error) {
	if days <= 0 || days > MaxSummaryDays {
		days = DefaultSummaryDays
	}
	return r.source.Summary(ctx, days, r.now())
}

func toView(l *models.UsageLog) LogView {
	return LogView{
		ID:           l.ID.String(),
		Model:        l.Model,
		InputText:    l.InputText,
		OutputText:   l.OutputText,
		InputTokens:  l.InputTokens,
		OutputTokens: l.OutputTokens,
		TotalTokens:  l.TotalTokens,
		InputCost:    formatCost(l.InputCost),
		OutputCost:   formatCost(l.OutputCost),
		TotalCost:    formatCost(l.TotalCost),
		CreatedAt:    l.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func formatCost(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
