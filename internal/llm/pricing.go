package llm

// modelPrice is USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// priceTable covers the models the system is configured with. Unknown models
// price at zero; the provider-reported token counts are still recorded.
var priceTable = map[string]modelPrice{
	"gpt-4o":                 {input: 2.50, output: 10.00},
	"gpt-4o-mini":            {input: 0.15, output: 0.60},
	"gpt-4.1":                {input: 2.00, output: 8.00},
	"gpt-4.1-mini":           {input: 0.40, output: 1.60},
	"text-embedding-3-small": {input: 0.02, output: 0},
	"text-embedding-3-large": {input: 0.13, output: 0},
}

// computeUsage fills the cost fields of a Usage from the price table.
func computeUsage(model string, inputTokens, outputTokens int, latencyMS int64) *Usage {
	u := &Usage{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMS:    latencyMS,
	}
	if price, ok := priceTable[model]; ok {
		u.InputCostUSD = float64(inputTokens) / 1e6 * price.input
		u.OutputCostUSD = float64(outputTokens) / 1e6 * price.output
		u.CostUSD = u.InputCostUSD + u.OutputCostUSD
	}
	return u
}
