package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageLog is one completion call as recorded in the usage ledger. Rows are
// written once and never updated.
type UsageLog struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Model        string    `db:"model" json:"model"`
	InputText    string    `db:"input_text" json:"inputText"`
	OutputText   string    `db:"output_text" json:"outputText"`
	InputTokens  int       `db:"input_tokens" json:"inputTokens"`
	OutputTokens int       `db:"output_tokens" json:"outputTokens"`
	TotalTokens  int       `db:"total_tokens" json:"totalTokens"`
	InputCost    float64   `db:"input_cost" json:"inputCost"`
	OutputCost   float64   `db:"output_cost" json:"outputCost"`
	TotalCost    float64   `db:"total_cost" json:"totalCost"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Normalize clamps negative counts and costs to zero and keeps the total
// cost equal to input plus output.
func (l *UsageLog) Normalize() {
	if l.InputTokens < 0 {
		l.InputTokens = 0
	}
	if l.OutputTokens < 0 {
		l.OutputTokens = 0
	}
	if l.TotalTokens < 0 {
		l.TotalTokens = 0
	}
	if l.InputCost < 0 {
		l.InputCost = 0
	}
	if l.OutputCost < 0 {
		l.OutputCost = 0
	}
	l.TotalCost = l.InputCost + l.OutputCost
}
