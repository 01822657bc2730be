package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// transcriptionModel is used when the config does not name one.
const transcriptionModel = "whisper-1"

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads an audio file to the provider's transcription endpoint
// and returns the transcript text. Satisfies the voice pipeline's
// Transcriber contract.
func (c *OpenAIClient) Transcribe(ctx context.Context, path string) (string, *Usage, error) {
	start := time.Now()

	resp, err := withRetry(ctx, "transcribe", func() (*transcriptionResponse, error) {
		return throughBreaker(c.chatBreaker, func() (*transcriptionResponse, error) {
			return c.uploadAudio(ctx, path)
		})
	})
	if err != nil {
		return "", computeUsage(transcriptionModel, 0, 0, time.Since(start).Milliseconds()), err
	}

	usage := computeUsage(transcriptionModel, 0, 0, time.Since(start).Milliseconds())
	return resp.Text, usage, nil
}

func (c *OpenAIClient) uploadAudio(ctx context.Context, path string) (*transcriptionResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	if err := form.WriteField("model", transcriptionModel); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, &statusError{code: httpResp.StatusCode, body: string(raw)}
	}

	var out transcriptionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
