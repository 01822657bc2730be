package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPipeline struct {
	name     string
	supports func(Input) bool
}

func (s *stubPipeline) Name() string          { return s.name }
func (s *stubPipeline) Supports(in Input) bool { return s.supports(in) }
func (s *stubPipeline) Process(context.Context, Input) (*Result, error) {
	return &Result{}, nil
}

func TestInputValidate(t *testing.T) {
	assert.NoError(t, Input{Type: InputTextIdea, Text: "x"}.Validate())
	assert.NoError(t, Input{Type: InputBook, Paths: []string{"a.jpg"}}.Validate())

	assert.ErrorIs(t, Input{Type: "mystery", Text: "x"}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, Input{Type: InputTextIdea}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, Input{Type: InputArticle, URL: "https://x", Text: "y"}.Validate(), ErrInvalidInput)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	first := &stubPipeline{name: "first", supports: func(in Input) bool { return in.Type == InputTextIdea }}
	second := &stubPipeline{name: "second", supports: func(Input) bool { return true }}
	registry := NewRegistry(first, second)

	p, err := registry.ForInput(Input{Type: InputTextIdea, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "first", p.Name())

	p, err = registry.ForInput(Input{Type: InputVoiceMemo, Path: "memo.m4a"})
	require.NoError(t, err)
	assert.Equal(t, "second", p.Name())
}

func TestRegistryNoPipeline(t *testing.T) {
	registry := NewRegistry(&stubPipeline{name: "x", supports: func(Input) bool { return false }})
	_, err := registry.ForInput(Input{Type: InputPDF, Path: "a.pdf"})
	assert.ErrorIs(t, err, ErrNoPipeline)
}
