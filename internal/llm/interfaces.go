// Package llm provides the model client used by pipelines and the enrichment
// orchestrator: chat completions, JSON-shaped completions, vision calls for
// OCR, and embeddings, all against an OpenAI-compatible API.
package llm

import "context"

// Usage reports the token and cost accounting of one model call. Callers
// hand these to the cost ledger.
type Usage struct {
	Model         string
	InputTokens   int
	OutputTokens  int
	CostUSD       float64
	InputCostUSD  float64
	OutputCostUSD float64
	LatencyMS     int64
}

// Client is the full model surface the system needs.
type Client interface {
	// Complete sends a single-turn prompt and returns the response text.
	Complete(ctx context.Context, prompt string) (string, *Usage, error)

	// CompleteJSON sends a prompt expected to yield JSON and decodes the
	// response into dst, retrying once with a corrective prompt when the
	// model returns undecodable output.
	CompleteJSON(ctx context.Context, prompt string, dst any) (*Usage, error)

	// CompleteWithVision sends a prompt together with base64-encoded images
	// to the vision model.
	CompleteWithVision(ctx context.Context, prompt string, images []string) (string, *Usage, error)

	// Embed generates an embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, *Usage, error)

	// Model returns the configured text model name.
	Model() string
}
