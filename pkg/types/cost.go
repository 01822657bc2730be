package types

import "time"

// RequestType classifies an LLM call for cost accounting.
type RequestType string

const (
	RequestText      RequestType = "text"
	RequestVision    RequestType = "vision"
	RequestEmbedding RequestType = "embedding"
)

// CostRecord is one append-only row in the cost ledger, recorded per LLM or
// OCR call with full attribution.
type CostRecord struct {
	Model         string      `json:"model"`
	Provider      string      `json:"provider"`
	RequestType   RequestType `json:"request_type"`
	InputTokens   int         `json:"input_tokens"`
	OutputTokens  int         `json:"output_tokens"`
	CostUSD       float64     `json:"cost_usd"`
	InputCostUSD  float64     `json:"input_cost_usd"`
	OutputCostUSD float64     `json:"output_cost_usd"`
	Pipeline      string      `json:"pipeline,omitempty"`
	ContentUUID   string      `json:"content_id,omitempty"`
	Operation     string      `json:"operation,omitempty"`
	LatencyMS     int64       `json:"latency_ms"`
	Success       bool        `json:"success"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// BudgetState is the result of comparing period spend to a configured limit.
type BudgetState string

const (
	BudgetUnder   BudgetState = "under"
	BudgetWarning BudgetState = "warning" // spend >= 80% of limit
	BudgetOver    BudgetState = "over"
)
