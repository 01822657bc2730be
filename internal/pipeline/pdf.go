package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/pkg/types"
)

// Document handles PDFs and single-image captures (photos, scanned
// documents, whiteboards). Text comes from the OCR collaborator; structural
// annotations are pulled from the PDF itself and merged with OCR-derived
// handwritten ones. For PDFs a small classification prompt refines the
// content type to paper, book, or article.
type Document struct {
	deps Deps
	ocr  OCR
}

func NewDocument(deps Deps, ocr OCR) *Document {
	return &Document{deps: deps, ocr: ocr}
}

func (p *Document) Name() string { return "pdf" }

func (p *Document) Supports(in Input) bool {
	switch in.Type {
	case InputPDF, InputPhoto, InputDocument, InputWhiteboard:
		return in.Path != ""
	}
	return false
}

func (p *Document) Process(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	isPDF := strings.EqualFold(filepath.Ext(in.Path), ".pdf")
	if in.Type == InputPDF && !isPDF {
		return nil, fmt.Errorf("%w: %s is not a PDF", ErrInvalidInput, in.Path)
	}
	if err := validateFile(in.Path, p.deps.MaxFileSizeBytes); err != nil {
		return nil, err
	}

	hash, err := hashFile(in.Path)
	if err != nil {
		return nil, err
	}

	tracker := newCosts(p.Name())
	defer tracker.Flush(ctx, p.deps.Ledger)

	var pages []OCRPage
	if isPDF {
		pages, err = p.extractPDF(ctx, in.Path, tracker)
	} else {
		page, usage, imgErr := p.ocr.ExtractImage(ctx, in.Path)
		tracker.Add(usage, types.RequestVision, "", "ocr")
		err = imgErr
		if page != nil {
			pages = []OCRPage{*page}
		}
	}
	if err != nil {
		return nil, err
	}

	record := newRecord(types.SourcePaper, "", in)
	record.SourceFilePath = in.Path
	record.RawFileHash = hash
	record.FullText = joinPages(pages)
	record.Annotations = collectAnnotations(pages)
	record.Metadata["page_count"] = len(pages)
	record.Metadata["image_count"] = countImages(pages)

	if isPDF {
		structural := scanPDFAnnotations(in.Path)
		record.Annotations = append(structural, record.Annotations...)
		record.SourceType = p.classify(ctx, record.FullText, tracker)
	} else {
		record.SourceType = types.SourceArticle
		if in.Type == InputWhiteboard {
			record.Metadata["capture_kind"] = "whiteboard"
		}
	}

	record.Title = documentTitle(in.Title, pages, in.Path)

	saved, err := p.deps.Store.Save(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}
	record.ContentUUID = saved.UUID
	return &Result{Record: record, Saved: saved}, nil
}

func (p *Document) extractPDF(ctx context.Context, path string, tracker *costledger.Collector) ([]OCRPage, error) {
	pages, usage, err := p.ocr.ExtractDocument(ctx, path)
	tracker.Add(usage, types.RequestVision, "", "ocr")
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("OCR produced no pages for %s", path)
	}
	return pages, nil
}

// classify refines the content type with a cheap prompt. Failures fall back
// to paper.
func (p *Document) classify(ctx context.Context, fullText string, tracker *costledger.Collector) types.SourceType {
	sample := fullText
	if len(sample) > 4000 {
		sample = sample[:4000]
	}
	var out struct {
		ContentType string `json:"content_type"`
	}
	usage, err := p.deps.LLM.CompleteJSON(ctx,
		"Classify this document as one of: paper, book, article.\nRespond with JSON only: {\"content_type\": \"paper\"}\n\n"+sample,
		&out)
	tracker.Add(usage, types.RequestText, "", "classify")
	if err != nil {
		log.Printf("pipeline: pdf classification failed, defaulting to paper: %v", err)
		return types.SourcePaper
	}
	switch strings.ToLower(strings.TrimSpace(out.ContentType)) {
	case "book":
		return types.SourceBook
	case "article":
		return types.SourceArticle
	default:
		return types.SourcePaper
	}
}

func joinPages(pages []OCRPage) string {
	parts := make([]string, 0, len(pages))
	for _, pg := range pages {
		text := strings.TrimSpace(pg.Markdown)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func collectAnnotations(pages []OCRPage) []types.Annotation {
	var out []types.Annotation
	for i, pg := range pages {
		for _, a := range pg.Annotations {
			if a.PageNumber == 0 {
				if pg.PageNumber > 0 {
					a.PageNumber = pg.PageNumber
				} else {
					a.PageNumber = i + 1
				}
			}
			out = append(out, a)
		}
	}
	return out
}

func countImages(pages []OCRPage) int {
	n := 0
	for _, pg := range pages {
		n += len(pg.Images)
	}
	return n
}

func documentTitle(given string, pages []OCRPage, path string) string {
	if given != "" {
		return given
	}
	for _, pg := range pages {
		for _, line := range strings.Split(pg.Markdown, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#") {
				return strings.TrimSpace(strings.TrimLeft(line, "# "))
			}
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// annotSubtypes maps PDF annotation subtypes to annotation types.
var annotSubtypes = map[string]types.AnnotationType{
	"Highlight": types.AnnotationDigitalHighlight,
	"Underline": types.AnnotationUnderline,
	"Squiggly":  types.AnnotationUnderline,
	"Text":      types.AnnotationTypedComment,
	"FreeText":  types.AnnotationTypedComment,
}

var (
	pdfAnnotRe    = regexp.MustCompile(`/Subtype\s*/(Highlight|Underline|Squiggly|Text|FreeText)`)
	pdfContentsRe = regexp.MustCompile(`/Contents\s*\(((?:\\.|[^\\()])*)\)`)
)

// scanPDFAnnotations pulls typed comments and highlight markers out of the
// raw PDF object stream. Compressed object streams are invisible to this
// scan; it is best-effort and never fails the pipeline.
func scanPDFAnnotations(path string) []types.Annotation {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("pipeline: cannot scan %s for annotations: %v", path, err)
		return nil
	}

	var out []types.Annotation
	for _, loc := range pdfAnnotRe.FindAllSubmatchIndex(raw, -1) {
		subtype := string(raw[loc[2]:loc[3]])
		annType, ok := annotSubtypes[subtype]
		if !ok {
			continue
		}
		// Look for the annotation's /Contents string within the same object.
		window := raw[loc[0]:min(loc[0]+2048, len(raw))]
		content := ""
		if m := pdfContentsRe.FindSubmatch(window); m != nil {
			content = decodePDFString(string(m[1]))
		}
		if content == "" && (annType == types.AnnotationTypedComment) {
			continue
		}
		out = append(out, types.Annotation{
			Type:       annType,
			Content:    content,
			Confidence: 1.0,
		})
	}
	return out
}

func decodePDFString(s string) string {
	replacer := strings.NewReplacer(
		`\(`, "(", `\)`, ")", `\\`, `\`,
		`\n`, "\n", `\r`, "\r", `\t`, "\t",
	)
	return strings.TrimSpace(replacer.Replace(s))
}

var _ Pipeline = (*Document)(nil)
