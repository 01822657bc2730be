package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// OCRImage describes a figure or diagram detected on a page.
type OCRImage struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	BBox        []float64 `json:"bbox,omitempty"`
}

// OCRPage is one extracted page. PageNumber is the number printed on the
// page when the extractor detected one, 0 otherwise; it is the authoritative
// ordering key for book batches.
type OCRPage struct {
	PageNumber  int                `json:"page_number"`
	Markdown    string             `json:"markdown"`
	Images      []OCRImage         `json:"images,omitempty"`
	Annotations []types.Annotation `json:"annotations,omitempty"`
}

// OCR is the extraction collaborator used by the PDF and book pipelines.
type OCR interface {
	// ExtractDocument OCRs a whole document file into ordered pages.
	ExtractDocument(ctx context.Context, path string) ([]OCRPage, *llm.Usage, error)

	// ExtractImage OCRs a single photographed page or whiteboard.
	ExtractImage(ctx context.Context, path string) (*OCRPage, *llm.Usage, error)
}

const ocrPrompt = `Extract this page into markdown. Preserve headings, lists, tables, and code blocks. Report the printed page number if one is visible (0 if not). Describe figures and diagrams. Transcribe handwritten notes, underlines, and margin marks as annotations.
Respond with JSON only:
{"page_number": 0, "markdown": "...", "images": [{"type": "diagram", "description": "..."}], "annotations": [{"type": "handwritten_note|underline|diagram", "content": "...", "confidence": 0.9}]}`

const ocrDocumentPrompt = `Extract every page of this document into markdown. Preserve headings, lists, tables, and code blocks. Report printed page numbers (0 if not visible). Describe figures and diagrams. Transcribe handwritten notes as annotations.
Respond with JSON only:
{"pages": [{"page_number": 1, "markdown": "...", "images": [...], "annotations": [...]}]}`

// VisionOCR implements OCR on top of the vision model.
type VisionOCR struct {
	llm llm.Client
}

func NewVisionOCR(client llm.Client) *VisionOCR { return &VisionOCR{llm: client} }

func (v *VisionOCR) ExtractDocument(ctx context.Context, path string) ([]OCRPage, *llm.Usage, error) {
	encoded, err := encodeFile(path)
	if err != nil {
		return nil, nil, err
	}
	reply, usage, err := v.llm.CompleteWithVision(ctx, ocrDocumentPrompt, []string{encoded})
	if err != nil {
		return nil, usage, fmt.Errorf("document OCR failed for %s: %w", path, err)
	}
	var out struct {
		Pages []OCRPage `json:"pages"`
	}
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return nil, usage, fmt.Errorf("undecodable OCR reply for %s: %w", path, err)
	}
	return out.Pages, usage, nil
}

func (v *VisionOCR) ExtractImage(ctx context.Context, path string) (*OCRPage, *llm.Usage, error) {
	encoded, err := encodeFile(path)
	if err != nil {
		return nil, nil, err
	}
	reply, usage, err := v.llm.CompleteWithVision(ctx, ocrPrompt, []string{encoded})
	if err != nil {
		return nil, usage, fmt.Errorf("image OCR failed for %s: %w", path, err)
	}
	var out OCRPage
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return nil, usage, fmt.Errorf("undecodable OCR reply for %s: %w", path, err)
	}
	return &out, usage, nil
}

func encodeFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

var _ OCR = (*VisionOCR)(nil)
