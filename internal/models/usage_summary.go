package models

import (
	"math"
	"sort"
	"time"
)

// UsageSummary aggregates usage logs over a reporting window
type UsageSummary struct {
	TotalCalls   int           `json:"totalCalls"`
	TotalTokens  int           `json:"totalTokens"`
	TotalCost    float64       `json:"totalCost"`
	InputTokens  int           `json:"inputTokens"`
	OutputTokens int           `json:"outputTokens"`
	DailyUsage   []DailyUsage  `json:"dailyUsage"`
	ModelUsage   []ModelUsage  `json:"modelUsage"`
	Period       SummaryPeriod `json:"period"`
}

// SummaryPeriod describes the reporting window
type SummaryPeriod struct {
	Days      int       `json:"days"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// DailyUsage is the per-day rollup; Date is YYYY-MM-DD in UTC
type DailyUsage struct {
	Date         string  `json:"date"`
	Calls        int     `json:"calls"`
	TotalTokens  int     `json:"totalTokens"`
	TotalCost    float64 `json:"totalCost"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
}

// ModelUsage is the per-model rollup
type ModelUsage struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	TotalTokens  int     `json:"totalTokens"`
	TotalCost    float64 `json:"totalCost"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
}

// RoundCost rounds a dollar amount to 8 decimal places for display
func RoundCost(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// SummaryStart returns the start of a window of the given number of days
// ending at now: midnight UTC, days before now.
func SummaryStart(now time.Time, days int) time.Time {
	start := now.UTC().AddDate(0, 0, -days)
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
}

// SummarizeUsage rolls up logs into totals, ascending daily usage and
// per-model usage ordered by cost, highest first. Only the reported
// costs are rounded.
func SummarizeUsage(logs []*UsageLog, days int, start, end time.Time) *UsageSummary {
	summary := &UsageSummary{
		Period:     SummaryPeriod{Days: days, StartDate: start, EndDate: end},
		DailyUsage: []DailyUsage{},
		ModelUsage: []ModelUsage{},
	}

	daily := make(map[string]*DailyUsage)
	byModel := make(map[string]*ModelUsage)
	var totalCost float64

	for _, l := range logs {
		totalCost += l.TotalCost
		summary.TotalCalls++
		summary.TotalTokens += l.TotalTokens
		summary.InputTokens += l.InputTokens
		summary.OutputTokens += l.OutputTokens

		date := l.CreatedAt.UTC().Format("2006-01-02")
		d, ok := daily[date]
		if !ok {
			d = &DailyUsage{Date: date}
			daily[date] = d
		}
		d.Calls++
		d.TotalTokens += l.TotalTokens
		d.TotalCost += l.TotalCost
		d.InputTokens += l.InputTokens
		d.OutputTokens += l.OutputTokens

		m, ok := byModel[l.Model]
		if !ok {
			m = &ModelUsage{Model: l.Model}
			byModel[l.Model] = m
		}
		m.Calls++
		m.TotalTokens += l.TotalTokens
		m.TotalCost += l.TotalCost
		m.InputTokens += l.InputTokens
		m.OutputTokens += l.OutputTokens
	}

	summary.TotalCost = RoundCost(totalCost)

	for _, d := range daily {
		d.TotalCost = RoundCost(d.TotalCost)
		summary.DailyUsage = append(summary.DailyUsage, *d)
	}
	sort.Slice(summary.DailyUsage, func(i, j int) bool {
		return summary.DailyUsage[i].Date < summary.DailyUsage[j].Date
	})

	for _, m := range byModel {
		m.TotalCost = RoundCost(m.TotalCost)
		summary.ModelUsage = append(summary.ModelUsage, *m)
	}
	sort.Slice(summary.ModelUsage, func(i, j int) bool {
		a, b := summary.ModelUsage[i], summary.ModelUsage[j]
		if a.TotalCost != b.TotalCost {
			return a.TotalCost > b.TotalCost
		}
		return a.Model < b.Model
	})

	return summary
}
