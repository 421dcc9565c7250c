package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"saas_template/internal/models"
)

// DefaultRecentLimit is the page size of the recent usage log listing
const DefaultRecentLimit = 50

const sqliteTimeLayout = "2006-01-02T15:04:05.000Z"

const usageLogColumns = `id, model, input_text, output_text,
	input_tokens, output_tokens, total_tokens,
	input_cost, output_cost, total_cost, created_at`

// UsageLogRepository handles the append-only usage ledger
type UsageLogRepository struct {
	db *DB
}

// NewUsageLogRepository creates a new usage log repository
func NewUsageLogRepository(db *DB) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

// usageLogRow mirrors the table. created_at comes back as time.Time from
// Postgres and as ISO text from SQLite.
type usageLogRow struct {
	ID           string  `db:"id"`
	Model        string  `db:"model"`
	InputText    string  `db:"input_text"`
	OutputText   string  `db:"output_text"`
	InputTokens  int     `db:"input_tokens"`
	OutputTokens int     `db:"output_tokens"`
	TotalTokens  int     `db:"total_tokens"`
	InputCost    float64 `db:"input_cost"`
	OutputCost   float64 `db:"output_cost"`
	TotalCost    float64 `db:"total_cost"`
	CreatedAt    dbTime  `db:"created_at"`
}

func (r *usageLogRow) toModel() (*models.UsageLog, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid usage log id %q: %w", r.ID, err)
	}
	return &models.UsageLog{
		ID:           id,
		Model:        r.Model,
		InputText:    r.InputText,
		OutputText:   r.OutputText,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		InputCost:    r.InputCost,
		OutputCost:   r.OutputCost,
		TotalCost:    r.TotalCost,
		CreatedAt:    r.CreatedAt.Time,
	}, nil
}

// Create appends a usage log. The ID is generated when empty and CreatedAt
// is filled from the database clock.
func (r *UsageLogRepository) Create(ctx context.Context, log *models.UsageLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	log.Normalize()

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := r.db.conn.Rebind(`
		INSERT INTO openrouter_usage_logs (
			id, model, input_text, output_text,
			input_tokens, output_tokens, total_tokens,
			input_cost, output_cost, total_cost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING created_at
	`)

	var createdAt dbTime
	err := r.db.conn.QueryRowxContext(ctx, query,
		log.ID.String(),
		log.Model,
		log.InputText,
		log.OutputText,
		log.InputTokens,
		log.OutputTokens,
		log.TotalTokens,
		log.InputCost,
		log.OutputCost,
		log.TotalCost,
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("failed to create usage log: %w", err)
	}

	log.CreatedAt = createdAt.Time
	return nil
}

// GetByID retrieves a usage log by ID
func (r *UsageLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UsageLog, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := r.db.conn.Rebind(`SELECT ` + usageLogColumns + ` FROM openrouter_usage_logs WHERE id = ?`)

	var row usageLogRow
	if err := r.db.conn.GetContext(ctx, &row, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUsageLogNotFound
		}
		return nil, fmt.Errorf("failed to get usage log: %w", err)
	}
	return row.toModel()
}

// ListRecent returns the newest usage logs first
func (r *UsageLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.UsageLog, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := r.db.conn.Rebind(`SELECT ` + usageLogColumns + `
		FROM openrouter_usage_logs
		ORDER BY created_at DESC
		LIMIT ?`)

	var rows []usageLogRow
	if err := r.db.conn.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	return toModels(rows)
}

// ListSince returns usage logs created at or after since, oldest first
func (r *UsageLogRepository) ListSince(ctx context.Context, since time.Time) ([]*models.UsageLog, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := r.db.conn.Rebind(`SELECT ` + usageLogColumns + `
		FROM openrouter_usage_logs
		WHERE created_at >= ?
		ORDER BY created_at ASC`)

	var rows []usageLogRow
	if err := r.db.conn.SelectContext(ctx, &rows, query, r.timeArg(since)); err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	return toModels(rows)
}

// Count returns the number of recorded calls
func (r *UsageLogRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := r.db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM openrouter_usage_logs`); err != nil {
		return 0, fmt.Errorf("failed to count usage logs: %w", err)
	}
	return n, nil
}

// Summary aggregates the last days of usage ending at now. Results are
// shared by calls whose now falls in the same cache-TTL bucket.
func (r *UsageLogRepository) Summary(ctx context.Context, days int, now time.Time) (*models.UsageSummary, error) {
	start := models.SummaryStart(now, days)
	key := strconv.Itoa(days) + ":" + start.Format("2006-01-02")
	if r.db.summaryTTL > 0 {
		key += ":" + strconv.FormatInt(now.Truncate(r.db.summaryTTL).Unix(), 10)
	}

	if cached, ok := r.db.summaryCache.Get(key); ok {
		return cached, nil
	}

	logs, err := r.ListSince(ctx, start)
	if err != nil {
		return nil, err
	}

	summary := models.SummarizeUsage(logs, days, start, now.UTC())
	r.db.summaryCache.Set(key, summary)
	return summary, nil
}

// timeArg formats a timestamp the way the dialect stores created_at
func (r *UsageLogRepository) timeArg(t time.Time) interface{} {
	if r.db.driver == DriverSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t
}

func toModels(rows []usageLogRow) ([]*models.UsageLog, error) {
	logs := make([]*models.UsageLog, 0, len(rows))
	for i := range rows {
		l, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// dbTime scans timestamps stored natively or as text
type dbTime struct {
	time.Time
}

var dbTimeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Scan implements sql.Scanner
func (t *dbTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

// Value implements driver.Valuer
func (t dbTime) Value() (driver.Value, error) {
	return t.Time, nil
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
