package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/pkg/types"
)

// BookBatch processes a batch of photographed book pages. Page OCR runs
// concurrently under a cap; the final order comes from OCR-detected page
// numbers because upload order is not authoritative. Running headers across
// consecutive pages drive chapter inference, and handwritten margin notes
// survive as annotations.
type BookBatch struct {
	deps        Deps
	ocr         OCR
	concurrency int
}

func NewBookBatch(deps Deps, ocr OCR, concurrency int) *BookBatch {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &BookBatch{deps: deps, ocr: ocr, concurrency: concurrency}
}

func (p *BookBatch) Name() string { return "book_batch" }

func (p *BookBatch) Supports(in Input) bool {
	return in.Type == InputBook && len(in.Paths) > 0
}

func (p *BookBatch) Process(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	for _, path := range in.Paths {
		if err := validateFile(path, p.deps.MaxFileSizeBytes,
			".jpg", ".jpeg", ".png", ".webp", ".heic"); err != nil {
			return nil, err
		}
	}

	hash, err := hashFiles(in.Paths)
	if err != nil {
		return nil, err
	}

	tracker := newCosts(p.Name())
	defer tracker.Flush(ctx, p.deps.Ledger)

	pages, err := p.extractPages(ctx, in.Paths, tracker)
	if err != nil {
		return nil, err
	}
	reorderPages(pages)
	chapters := inferChapters(pages)

	record := newRecord(types.SourceBook, "", in)
	record.RawFileHash = hash
	record.FullText = joinPages(pages)
	record.Annotations = collectAnnotations(pages)
	record.Metadata["page_count"] = len(pages)
	record.Metadata["chapters"] = chapters
	record.Title = bookTitle(in.Title, chapters)

	saved, err := p.deps.Store.Save(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save book batch: %w", err)
	}
	record.ContentUUID = saved.UUID
	return &Result{Record: record, Saved: saved}, nil
}

// extractPages OCRs every page image with bounded concurrency, preserving
// upload order in the result slice.
func (p *BookBatch) extractPages(ctx context.Context, paths []string, tracker *costledger.Collector) ([]OCRPage, error) {
	pages := make([]OCRPage, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			page, usage, err := p.ocr.ExtractImage(gctx, path)
			tracker.Add(usage, types.RequestVision, "", "ocr_page")
			if err != nil {
				return fmt.Errorf("page %d (%s): %w", i+1, path, err)
			}
			pages[i] = *page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// reorderPages sorts by detected page number. Pages without a detected
// number keep their relative upload order and sort after numbered ones.
func reorderPages(pages []OCRPage) {
	const unnumbered = 1 << 30
	key := func(i int) int {
		if pages[i].PageNumber > 0 {
			return pages[i].PageNumber
		}
		return unnumbered
	}
	sort.SliceStable(pages, func(i, j int) bool { return key(i) < key(j) })
}

// Chapter is an inferred chapter boundary within a book batch.
type Chapter struct {
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
}

// inferChapters derives chapter boundaries from running headers: the short
// first line of a page, when it repeats on the following page, is treated as
// the current chapter title.
func inferChapters(pages []OCRPage) []Chapter {
	var chapters []Chapter
	current := ""
	for i, pg := range pages {
		header := runningHeader(pg.Markdown)
		if header == "" || strings.EqualFold(header, current) {
			continue
		}
		// A header must persist onto the next page to count as a chapter,
		// except on the final page.
		if i+1 < len(pages) {
			next := runningHeader(pages[i+1].Markdown)
			if !strings.EqualFold(next, header) {
				continue
			}
		}
		current = header
		start := pg.PageNumber
		if start == 0 {
			start = i + 1
		}
		chapters = append(chapters, Chapter{Title: header, StartPage: start})
	}
	return chapters
}

// runningHeader returns the page's first line when it looks like a header:
// short, not a markdown heading, no terminal punctuation.
func runningHeader(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || len(line) > 60 {
			return ""
		}
		if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
			return ""
		}
		return line
	}
	return ""
}

func bookTitle(given string, chapters []Chapter) string {
	if given != "" {
		return given
	}
	if len(chapters) > 0 {
		return chapters[0].Title
	}
	return "Book notes " + time.Now().UTC().Format("2006-01-02")
}

// hashFiles streams every file through one SHA-256 so the batch as a whole
// gets a dedup key.
func hashFiles(paths []string) (string, error) {
	h := sha256.New()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", path, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ Pipeline = (*BookBatch)(nil)
