package costledger

import (
	"context"
	"sync"
	"time"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// BatchRecorder is the sink side of batched cost submission. *Ledger
// implements it.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, recs []types.CostRecord)
}

// Collector accumulates attributed cost records during one pipeline or
// orchestrator run and submits them as a single batch at the end.
type Collector struct {
	pipeline string

	mu   sync.Mutex
	recs []types.CostRecord
}

func NewCollector(pipeline string) *Collector {
	return &Collector{pipeline: pipeline}
}

// Add converts an LLM usage into an attributed cost record. Nil usages are
// ignored so call sites can pass usage straight through from failed calls.
func (c *Collector) Add(usage *llm.Usage, reqType types.RequestType, contentUUID, operation string) {
	if usage == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, types.CostRecord{
		Model:         usage.Model,
		RequestType:   reqType,
		InputTokens:   usage.InputTokens,
		OutputTokens:  usage.OutputTokens,
		CostUSD:       usage.CostUSD,
		InputCostUSD:  usage.InputCostUSD,
		OutputCostUSD: usage.OutputCostUSD,
		Pipeline:      c.pipeline,
		ContentUUID:   contentUUID,
		Operation:     operation,
		LatencyMS:     usage.LatencyMS,
		Success:       true,
		CreatedAt:     time.Now().UTC(),
	})
}

// Total returns the accumulated spend so far.
func (c *Collector) Total() (costUSD float64, latencyMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.recs {
		costUSD += r.CostUSD
		latencyMS += r.LatencyMS
	}
	return costUSD, latencyMS
}

// Flush submits the accumulated batch. Safe with a nil sink or an empty
// batch.
func (c *Collector) Flush(ctx context.Context, sink BatchRecorder) {
	c.mu.Lock()
	recs := c.recs
	c.recs = nil
	c.mu.Unlock()
	if sink == nil || len(recs) == 0 {
		return
	}
	sink.RecordBatch(ctx, recs)
}
