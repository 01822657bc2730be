// Package costledger records per-call LLM and OCR usage in an append-only
// journal and rolls it up for reporting and budget checks.
//
// Recording is deliberately infallible from the caller's point of view:
// a ledger write that fails is logged and dropped, never propagated, so a
// bookkeeping hiccup cannot abort an ingestion or enrichment operation.
package costledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS cost_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	request_type TEXT NOT NULL DEFAULT 'text',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	input_cost_usd REAL NOT NULL DEFAULT 0,
	output_cost_usd REAL NOT NULL DEFAULT 0,
	pipeline TEXT,
	content_uuid TEXT,
	operation TEXT,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 1,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_created ON cost_records(created_at);
CREATE INDEX IF NOT EXISTS idx_cost_model ON cost_records(model);
CREATE INDEX IF NOT EXISTS idx_cost_pipeline ON cost_records(pipeline);
CREATE INDEX IF NOT EXISTS idx_cost_content ON cost_records(content_uuid);
`

// timeLayout is the stored form of created_at: UTC text that SQLite's date
// functions parse and that compares chronologically. The driver's native
// time.Time encoding is opaque to strftime.
const timeLayout = "2006-01-02 15:04:05.000"

// GroupBy selects the aggregation key for Aggregate.
type GroupBy string

const (
	GroupByDay      GroupBy = "day"
	GroupByMonth    GroupBy = "month"
	GroupByModel    GroupBy = "model"
	GroupByPipeline GroupBy = "pipeline"
	GroupByContent  GroupBy = "content"
)

// Bucket is one row of an aggregation result.
type Bucket struct {
	Key          string  `json:"key"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// BudgetStatus is the result of a budget check.
type BudgetStatus struct {
	State    types.BudgetState `json:"state"`
	SpentUSD float64           `json:"spent_usd"`
	LimitUSD float64           `json:"limit_usd"`
	Fraction float64           `json:"fraction"`
}

// Period selects the spend window for CheckBudget.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// Ledger is the append-only cost journal. It shares the content store's
// database handle.
type Ledger struct {
	db *sql.DB

	// now is swappable for tests.
	now func() time.Time
}

// New applies the ledger schema and returns a ledger over db.
func New(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create cost ledger schema: %w", err)
	}
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Record appends one cost row. Failures are logged, never returned.
func (l *Ledger) Record(ctx context.Context, rec *types.CostRecord) {
	if rec == nil {
		return
	}
	if err := l.insert(ctx, rec); err != nil {
		log.Printf("costledger: failed to record usage (model=%s operation=%s): %v", rec.Model, rec.Operation, err)
	}
}

// RecordBatch appends many cost rows in one transaction. Failures are logged,
// never returned; on error no rows from the batch are written.
func (l *Ledger) RecordBatch(ctx context.Context, recs []types.CostRecord) {
	if len(recs) == 0 {
		return
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("costledger: failed to begin batch: %v", err)
		return
	}
	defer tx.Rollback()

	for i := range recs {
		if err := l.insertTx(ctx, tx, &recs[i]); err != nil {
			log.Printf("costledger: failed to record batch of %d: %v", len(recs), err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("costledger: failed to commit batch of %d: %v", len(recs), err)
	}
}

func (l *Ledger) insert(ctx context.Context, rec *types.CostRecord) error {
	return l.exec(ctx, l.db.ExecContext, rec)
}

func (l *Ledger) insertTx(ctx context.Context, tx *sql.Tx, rec *types.CostRecord) error {
	return l.exec(ctx, tx.ExecContext, rec)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (l *Ledger) exec(ctx context.Context, run execFunc, rec *types.CostRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = l.now()
	}
	requestType := rec.RequestType
	if requestType == "" {
		requestType = types.RequestText
	}

	_, err := run(ctx, `
		INSERT INTO cost_records (
			model, provider, request_type, input_tokens, output_tokens,
			cost_usd, input_cost_usd, output_cost_usd,
			pipeline, content_uuid, operation,
			latency_ms, success, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Model, rec.Provider, string(requestType), rec.InputTokens, rec.OutputTokens,
		rec.CostUSD, rec.InputCostUSD, rec.OutputCostUSD,
		nullable(rec.Pipeline), nullable(rec.ContentUUID), nullable(rec.Operation),
		rec.LatencyMS, rec.Success, nullable(rec.ErrorMessage), createdAt.UTC().Format(timeLayout),
	)
	return err
}

// Aggregate rolls up rows recorded at or after since, grouped by the given
// key. Buckets are ordered by descending spend, except time groupings which
// are chronological.
func (l *Ledger) Aggregate(ctx context.Context, by GroupBy, since time.Time) ([]Bucket, error) {
	var keyExpr, order string
	switch by {
	case GroupByDay:
		keyExpr, order = `strftime('%Y-%m-%d', created_at)`, "key ASC"
	case GroupByMonth:
		keyExpr, order = `strftime('%Y-%m', created_at)`, "key ASC"
	case GroupByModel:
		keyExpr, order = "model", "cost DESC"
	case GroupByPipeline:
		keyExpr, order = "COALESCE(pipeline, '')", "cost DESC"
	case GroupByContent:
		keyExpr, order = "COALESCE(content_uuid, '')", "cost DESC"
	default:
		return nil, fmt.Errorf("unknown aggregation key %q", by)
	}

	query := fmt.Sprintf(`
		SELECT %s AS key,
		       COUNT(*) AS calls,
		       SUM(input_tokens),
		       SUM(output_tokens),
		       SUM(cost_usd) AS cost
		FROM cost_records
		WHERE created_at >= ?
		GROUP BY key
		ORDER BY %s`, keyExpr, order)

	rows, err := l.db.QueryContext(ctx, query, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate costs: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Calls, &b.InputTokens, &b.OutputTokens, &b.CostUSD); err != nil {
			return nil, fmt.Errorf("failed to scan cost bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// TotalSince returns the total spend for rows at or after since.
func (l *Ledger) TotalSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx,
		`SELECT SUM(cost_usd) FROM cost_records WHERE created_at >= ?`, since.UTC().Format(timeLayout),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total costs: %w", err)
	}
	return total.Float64, nil
}

// CheckBudget compares current-period spend against limitUSD. Spend at or
// above 80% of the limit yields the warning state; at or above the limit,
// over. A non-positive limit means unlimited and always reports under.
func (l *Ledger) CheckBudget(ctx context.Context, period Period, limitUSD float64) (*BudgetStatus, error) {
	now := l.now()
	var since time.Time
	switch period {
	case PeriodDay:
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		since = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return nil, fmt.Errorf("unknown budget period %q", period)
	}

	spent, err := l.TotalSince(ctx, since)
	if err != nil {
		return nil, err
	}

	status := &BudgetStatus{State: types.BudgetUnder, SpentUSD: spent, LimitUSD: limitUSD}
	if limitUSD <= 0 {
		return status, nil
	}

	status.Fraction = spent / limitUSD
	switch {
	case spent >= limitUSD:
		status.State = types.BudgetOver
	case status.Fraction >= 0.8:
		status.State = types.BudgetWarning
	}
	return status, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
