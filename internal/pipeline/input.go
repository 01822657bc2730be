// Package pipeline turns raw captures into normalized content records.
//
// A Registry holds an ordered list of pipelines; the first whose Supports
// accepts an input processes it. Every pipeline validates its input, hashes
// file inputs, delegates OCR/transcription/fetching to collaborators, batches
// its LLM costs to the ledger, and saves the finished record through the
// content store before returning.
package pipeline

import (
	"errors"
	"fmt"
)

// InputType tags the shape of a raw capture.
type InputType string

const (
	InputPDF        InputType = "pdf"
	InputPhoto      InputType = "photo"
	InputVoiceMemo  InputType = "voice_memo"
	InputBook       InputType = "book"
	InputCode       InputType = "code"
	InputArticle    InputType = "article"
	InputDocument   InputType = "document"
	InputWhiteboard InputType = "whiteboard"
	InputTextIdea   InputType = "text_idea"
)

// Input is a tagged variant over raw captures. At most one of Path, URL, and
// Text is set; Paths is used only by book batches, which carry several page
// images in upload order.
type Input struct {
	Type  InputType
	Path  string
	Paths []string
	URL   string
	Text  string

	// Title is an optional user-provided title overriding derived ones.
	Title string

	// Metadata carries capture hints (author, source app) copied onto the
	// record's metadata verbatim.
	Metadata map[string]interface{}
}

// ErrInvalidInput indicates a malformed input descriptor.
var ErrInvalidInput = errors.New("invalid pipeline input")

// Validate checks the tagged-variant shape: a known type and at most one
// payload field set.
func (in Input) Validate() error {
	switch in.Type {
	case InputPDF, InputPhoto, InputVoiceMemo, InputBook, InputCode,
		InputArticle, InputDocument, InputWhiteboard, InputTextIdea:
	default:
		return fmt.Errorf("%w: unknown input type %q", ErrInvalidInput, in.Type)
	}

	set := 0
	if in.Path != "" {
		set++
	}
	if in.URL != "" {
		set++
	}
	if in.Text != "" {
		set++
	}
	if len(in.Paths) > 0 {
		set++
	}
	if set == 0 {
		return fmt.Errorf("%w: no payload (path, url, text, or pages)", ErrInvalidInput)
	}
	if set > 1 {
		return fmt.Errorf("%w: more than one payload field set", ErrInvalidInput)
	}
	return nil
}
