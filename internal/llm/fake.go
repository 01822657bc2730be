package llm

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a scripted Client for tests. Responses are consumed in FIFO order
// per method; an exhausted queue falls back to the Default response.
type Fake struct {
	mu sync.Mutex

	CompleteResponses []string
	JSONResponses     []string
	VisionResponses   []string
	Embedding         []float32
	Default           string

	// Err, when set, is returned by every call.
	Err error

	Prompts       []string
	VisionPrompts []string
	EmbedInputs   []string
}

// NewFake creates a fake whose unscripted calls return defaultText.
func NewFake(defaultText string) *Fake {
	return &Fake{Default: defaultText, Embedding: []float32{0.1, 0.2, 0.3}}
}

func (f *Fake) Model() string { return "fake-model" }

func (f *Fake) Complete(_ context.Context, prompt string) (string, *Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return "", fakeUsage(), f.Err
	}
	return f.pop(&f.CompleteResponses), fakeUsage(), nil
}

func (f *Fake) CompleteJSON(_ context.Context, prompt string, dst any) (*Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return fakeUsage(), f.Err
	}
	reply := f.pop(&f.JSONResponses)
	if err := decodeJSONReply(reply, dst); err != nil {
		return fakeUsage(), fmt.Errorf("fake JSON response: %w", err)
	}
	return fakeUsage(), nil
}

func (f *Fake) CompleteWithVision(_ context.Context, prompt string, _ []string) (string, *Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VisionPrompts = append(f.VisionPrompts, prompt)
	if f.Err != nil {
		return "", fakeUsage(), f.Err
	}
	return f.pop(&f.VisionResponses), fakeUsage(), nil
}

func (f *Fake) Embed(_ context.Context, text string) ([]float32, *Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EmbedInputs = append(f.EmbedInputs, text)
	if f.Err != nil {
		return nil, fakeUsage(), f.Err
	}
	return f.Embedding, fakeUsage(), nil
}

func (f *Fake) pop(queue *[]string) string {
	if len(*queue) == 0 {
		return f.Default
	}
	head := (*queue)[0]
	*queue = (*queue)[1:]
	return head
}

func fakeUsage() *Usage {
	return &Usage{Model: "fake-model", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001}
}

// Compile-time assertion.
var _ Client = (*Fake)(nil)
