package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a": 1}`:                              `{"a": 1}`,
		"```json\n{\"a\": 1}\n```":              `{"a": 1}`,
		"Here you go:\n```\n[1, 2, 3]\n```\nHTH": `[1, 2, 3]`,
		`Sure! The answer is {"a": {"b": 2}} as requested.`: `{"a": {"b": 2}}`,
		`{"s": "braces } in { strings"}`:        `{"s": "braces } in { strings"}`,
		"no json here":                          "",
	}
	for input, want := range cases {
		assert.Equal(t, want, extractJSON(input), input)
	}
}

func TestDecodeJSONReply(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, decodeJSONReply("```json\n{\"name\": \"x\"}\n```", &out))
	assert.Equal(t, "x", out.Name)

	assert.Error(t, decodeJSONReply("not json at all", &out))
	assert.Error(t, decodeJSONReply(`{"name": `, &out))
}

func TestComputeUsage(t *testing.T) {
	u := computeUsage("gpt-4o-mini", 1_000_000, 500_000, 42)
	assert.InDelta(t, 0.15, u.InputCostUSD, 1e-9)
	assert.InDelta(t, 0.30, u.OutputCostUSD, 1e-9)
	assert.InDelta(t, 0.45, u.CostUSD, 1e-9)
	assert.Equal(t, int64(42), u.LatencyMS)

	// Unknown models record tokens with zero cost.
	u = computeUsage("mystery-model", 1000, 1000, 1)
	assert.Zero(t, u.CostUSD)
	assert.Equal(t, 1000, u.InputTokens)
}
