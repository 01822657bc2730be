package costledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/contentstore/sqlite"
	"github.com/scrypster/recall/pkg/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger, err := New(db)
	require.NoError(t, err)
	return ledger
}

func record(mutate func(*types.CostRecord)) types.CostRecord {
	rec := types.CostRecord{
		Model:        "gpt-4o-mini",
		Provider:     "openai",
		RequestType:  types.RequestText,
		InputTokens:  1000,
		OutputTokens: 200,
		CostUSD:      0.01,
		Pipeline:     "pdf",
		ContentUUID:  "uuid-1",
		Operation:    "summarize",
		LatencyMS:    800,
		Success:      true,
	}
	if mutate != nil {
		mutate(&rec)
	}
	return rec
}

func TestRecordAndAggregateByModel(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	rec1 := record(nil)
	rec2 := record(func(r *types.CostRecord) {
		r.Model = "gpt-4o"
		r.CostUSD = 0.10
		r.InputTokens = 500
	})
	rec3 := record(func(r *types.CostRecord) { r.CostUSD = 0.02 })
	ledger.Record(ctx, &rec1)
	ledger.Record(ctx, &rec2)
	ledger.Record(ctx, &rec3)

	buckets, err := ledger.Aggregate(ctx, GroupByModel, time.Time{})
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	// Ordered by descending spend.
	assert.Equal(t, "gpt-4o", buckets[0].Key)
	assert.InDelta(t, 0.10, buckets[0].CostUSD, 1e-9)
	assert.Equal(t, 1, buckets[0].Calls)

	assert.Equal(t, "gpt-4o-mini", buckets[1].Key)
	assert.InDelta(t, 0.03, buckets[1].CostUSD, 1e-9)
	assert.Equal(t, 2, buckets[1].Calls)
	assert.Equal(t, int64(2000), buckets[1].InputTokens)
}

func TestRecordBatch(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	batch := []types.CostRecord{
		record(func(r *types.CostRecord) { r.Pipeline = "book"; r.CostUSD = 0.05 }),
		record(func(r *types.CostRecord) { r.Pipeline = "book"; r.CostUSD = 0.07 }),
		record(func(r *types.CostRecord) { r.Pipeline = "article"; r.CostUSD = 0.01 }),
	}
	ledger.RecordBatch(ctx, batch)

	buckets, err := ledger.Aggregate(ctx, GroupByPipeline, time.Time{})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "book", buckets[0].Key)
	assert.InDelta(t, 0.12, buckets[0].CostUSD, 1e-9)
}

func TestAggregateByDay(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	ledger.RecordBatch(ctx, []types.CostRecord{
		record(func(r *types.CostRecord) { r.CreatedAt = day1; r.CostUSD = 0.01 }),
		record(func(r *types.CostRecord) { r.CreatedAt = day1; r.CostUSD = 0.02 }),
		record(func(r *types.CostRecord) { r.CreatedAt = day2; r.CostUSD = 0.05 }),
	})

	buckets, err := ledger.Aggregate(ctx, GroupByDay, time.Time{})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "2026-08-20", buckets[0].Key)
	assert.InDelta(t, 0.03, buckets[0].CostUSD, 1e-9)
	assert.Equal(t, "2026-08-21", buckets[1].Key)
}

func TestAggregateHonorsSince(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	old := record(func(r *types.CostRecord) {
		r.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
		r.CostUSD = 1.0
	})
	recent := record(func(r *types.CostRecord) { r.CostUSD = 0.5 })
	ledger.Record(ctx, &old)
	ledger.Record(ctx, &recent)

	total, err := ledger.TotalSince(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, total, 1e-9)
}

func TestCheckBudgetStates(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }

	spend := record(func(r *types.CostRecord) {
		r.CreatedAt = fixed.Add(-time.Hour)
		r.CostUSD = 8.0
	})
	ledger.Record(ctx, &spend)

	status, err := ledger.CheckBudget(ctx, PeriodDay, 10.0)
	require.NoError(t, err)
	assert.Equal(t, types.BudgetWarning, status.State)
	assert.InDelta(t, 0.8, status.Fraction, 1e-9)

	status, err = ledger.CheckBudget(ctx, PeriodDay, 100.0)
	require.NoError(t, err)
	assert.Equal(t, types.BudgetUnder, status.State)

	status, err = ledger.CheckBudget(ctx, PeriodDay, 5.0)
	require.NoError(t, err)
	assert.Equal(t, types.BudgetOver, status.State)

	// Spend from a previous day is outside the daily window.
	status, err = ledger.CheckBudget(ctx, PeriodMonth, 5.0)
	require.NoError(t, err)
	assert.Equal(t, types.BudgetOver, status.State)

	// Unlimited budget always reports under.
	status, err = ledger.CheckBudget(ctx, PeriodDay, 0)
	require.NoError(t, err)
	assert.Equal(t, types.BudgetUnder, status.State)
}

func TestRecordNeverPanicsOnNil(t *testing.T) {
	ledger := newTestLedger(t)
	ledger.Record(context.Background(), nil)
	ledger.RecordBatch(context.Background(), nil)

	total, err := ledger.TotalSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
