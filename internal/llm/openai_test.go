package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/config"
)

func chatReply(content string, promptTokens, completionTokens int) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(config.LLMConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		TextModel: "gpt-4o-mini",
		Timeout:   5 * time.Second,
	})
}

func TestCompleteReturnsTextAndUsage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(chatReply("hello back", 100, 20))
	})

	text, usage, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello back", text)
	assert.Equal(t, 100, usage.InputTokens)
	assert.Equal(t, 20, usage.OutputTokens)
	assert.Greater(t, usage.CostUSD, 0.0)
}

func TestCompleteJSONRecoversFromBadReply(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(chatReply("sorry, I cannot do JSON", 10, 5))
			return
		}
		json.NewEncoder(w).Encode(chatReply(`{"topic": "graphs"}`, 10, 5))
	})

	var out struct {
		Topic string `json:"topic"`
	}
	usage, err := client.CompleteJSON(context.Background(), "give me JSON", &out)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "graphs", out.Topic)
	// Usage covers both attempts.
	assert.Equal(t, 20, usage.InputTokens)
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error": "bad request"}`, http.StatusBadRequest)
	})

	_, _, err := client.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestEmbedConvertsVector(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data":  []map[string]any{{"embedding": []float64{0.25, -0.5}}},
			"usage": map[string]any{"prompt_tokens": 7},
		})
	})

	vec, usage, err := client.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5}, vec)
	assert.Equal(t, 7, usage.InputTokens)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, retryable(&statusError{code: http.StatusTooManyRequests}))
	assert.True(t, retryable(&statusError{code: http.StatusBadGateway}))
	assert.False(t, retryable(&statusError{code: http.StatusBadRequest}))
	assert.False(t, retryable(ErrCircuitOpen))
	assert.False(t, retryable(context.Canceled))
}
