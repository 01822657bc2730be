package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

// TextIdea captures a raw typed thought. No collaborators involved beyond
// the content store; this is the cheapest pipeline and the fallback shape
// for quick captures.
type TextIdea struct {
	deps Deps
}

func NewTextIdea(deps Deps) *TextIdea { return &TextIdea{deps: deps} }

func (p *TextIdea) Name() string { return "text_idea" }

func (p *TextIdea) Supports(in Input) bool {
	return in.Type == InputTextIdea && in.Text != ""
}

func (p *TextIdea) Process(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty idea text", ErrInvalidInput)
	}

	record := newRecord(types.SourceIdea, ideaTitle(in.Title, text), in)
	record.FullText = text

	saved, err := p.deps.Store.Save(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save idea: %w", err)
	}
	record.ContentUUID = saved.UUID
	return &Result{Record: record, Saved: saved}, nil
}

// ideaTitle derives a title from the first line of the idea when the user
// did not supply one.
func ideaTitle(given, text string) string {
	if given != "" {
		return given
	}
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(strings.TrimLeft(line, "#- "))
	if len(line) > 80 {
		if cut := strings.LastIndexByte(line[:80], ' '); cut > 0 {
			line = line[:cut]
		} else {
			line = line[:80]
		}
	}
	if line == "" {
		return "Untitled idea"
	}
	return line
}

var _ Pipeline = (*TextIdea)(nil)
