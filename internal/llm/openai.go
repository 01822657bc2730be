package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/scrypster/recall/internal/config"
)

// OpenAIClient implements Client against an OpenAI-compatible chat API.
// Chat/vision and embedding traffic run through separate circuit breakers so
// an outage on one endpoint does not block the other.
type OpenAIClient struct {
	cfg          config.LLMConfig
	client       *http.Client
	chatBreaker  *gobreaker.CircuitBreaker
	embedBreaker *gobreaker.CircuitBreaker
}

// NewOpenAIClient creates a client from the LLM configuration.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.Timeout},
		chatBreaker:  newBreaker("llm-chat"),
		embedBreaker: newBreaker("llm-embeddings"),
	}
}

// Model returns the configured text model name.
func (c *OpenAIClient) Model() string { return c.cfg.TextModel }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a single-turn prompt to the text model.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, *Usage, error) {
	return c.chat(ctx, c.cfg.TextModel, []chatMessage{{Role: "user", Content: prompt}})
}

// CompleteWithVision sends a prompt and base64-encoded PNG/JPEG images to the
// vision model. Plain base64 strings are wrapped as data URLs.
func (c *OpenAIClient) CompleteWithVision(ctx context.Context, prompt string, images []string) (string, *Usage, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		url := img
		if !strings.HasPrefix(img, "data:") && !strings.HasPrefix(img, "http") {
			url = "data:image/png;base64," + img
		}
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}})
	}
	return c.chat(ctx, c.cfg.VisionModel, []chatMessage{{Role: "user", Content: parts}})
}

// CompleteJSON prompts for JSON output and decodes the reply into dst. An
// undecodable reply triggers one corrective retry; the returned usage covers
// every attempt made.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, prompt string, dst any) (*Usage, error) {
	total := &Usage{Model: c.cfg.TextModel}

	text, usage, err := c.Complete(ctx, prompt)
	accumulate(total, usage)
	if err != nil {
		return total, err
	}

	parseErr := decodeJSONReply(text, dst)
	if parseErr == nil {
		return total, nil
	}

	corrective := fmt.Sprintf(
		"The previous response could not be parsed as JSON (%v). Respond again with ONLY valid JSON, no prose and no code fences.\n\nOriginal request:\n%s",
		parseErr, prompt)
	text, usage, err = c.Complete(ctx, corrective)
	accumulate(total, usage)
	if err != nil {
		return total, err
	}
	if err := decodeJSONReply(text, dst); err != nil {
		return total, fmt.Errorf("model returned invalid JSON after retry: %w", err)
	}
	return total, nil
}

func (c *OpenAIClient) chat(ctx context.Context, model string, messages []chatMessage) (string, *Usage, error) {
	start := time.Now()

	type chatResult struct {
		text  string
		usage chatResponse
	}
	result, err := withRetry(ctx, "chat", func() (chatResult, error) {
		return throughBreaker(c.chatBreaker, func() (chatResult, error) {
			var resp chatResponse
			err := c.post(ctx, "/v1/chat/completions", chatRequest{
				Model:       model,
				Messages:    messages,
				Temperature: 0,
			}, &resp)
			if err != nil {
				return chatResult{}, err
			}
			if len(resp.Choices) == 0 {
				return chatResult{}, fmt.Errorf("provider returned no choices")
			}
			return chatResult{text: resp.Choices[0].Message.Content, usage: resp}, nil
		})
	})
	if err != nil {
		return "", computeUsage(model, 0, 0, time.Since(start).Milliseconds()), err
	}

	usage := computeUsage(model,
		result.usage.Usage.PromptTokens,
		result.usage.Usage.CompletionTokens,
		time.Since(start).Milliseconds())
	return result.text, usage, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding vector for text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, *Usage, error) {
	start := time.Now()

	resp, err := withRetry(ctx, "embed", func() (*embeddingResponse, error) {
		return throughBreaker(c.embedBreaker, func() (*embeddingResponse, error) {
			var resp embeddingResponse
			if err := c.post(ctx, "/v1/embeddings", embeddingRequest{
				Model: c.cfg.EmbeddingModel,
				Input: text,
			}, &resp); err != nil {
				return nil, err
			}
			if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
				return nil, fmt.Errorf("provider returned empty embedding")
			}
			return &resp, nil
		})
	})
	if err != nil {
		return nil, computeUsage(c.cfg.EmbeddingModel, 0, 0, time.Since(start).Milliseconds()), err
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	usage := computeUsage(c.cfg.EmbeddingModel, resp.Usage.PromptTokens, 0, time.Since(start).Milliseconds())
	return vec, usage, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func accumulate(total, u *Usage) {
	if u == nil {
		return
	}
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.InputCostUSD += u.InputCostUSD
	total.OutputCostUSD += u.OutputCostUSD
	total.CostUSD += u.CostUSD
	total.LatencyMS += u.LatencyMS
}

// Compile-time assertion.
var _ Client = (*OpenAIClient)(nil)
