package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/scrypster/recall/internal/contentstore/sqlite"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

type recordingLedger struct {
	mu   sync.Mutex
	recs []types.CostRecord
}

func (l *recordingLedger) RecordBatch(_ context.Context, recs []types.CostRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, recs...)
}

func newTestDeps(t *testing.T) (Deps, *recordingLedger) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	store := sqlite.NewStore(db)
	t.Cleanup(func() { store.Close() })

	ledger := &recordingLedger{}
	return Deps{
		Store:            store,
		LLM:              llm.NewFake("ok"),
		Ledger:           ledger,
		MaxFileSizeBytes: 10 << 20,
	}, ledger
}

func TestTextIdeaCapture(t *testing.T) {
	deps, _ := newTestDeps(t)
	p := NewTextIdea(deps)

	res, err := p.Process(context.Background(), Input{
		Type: InputTextIdea,
		Text: "Use content-addressed hashes for dedup\n\nLonger body here.",
	})
	require.NoError(t, err)
	assert.False(t, res.Saved.Deduped)
	assert.NotEmpty(t, res.Record.ContentUUID)
	assert.Equal(t, res.Record.ContentUUID, res.Saved.UUID)
	assert.Equal(t, types.SourceIdea, res.Record.SourceType)
	assert.Equal(t, "Use content-addressed hashes for dedup", res.Record.Title)
	assert.Equal(t, types.StatusPending, res.Record.ProcessingStatus)

	loaded, err := deps.Store.Load(context.Background(), res.Record.ContentUUID)
	require.NoError(t, err)
	assert.Contains(t, loaded.FullText, "Longer body here.")
}

const articleHTML = `<!doctype html>
<html><head>
<title>Fallback Title</title>
<meta property="og:title" content="Designing Data Pipelines">
<meta name="author" content="A. Writer">
</head><body>
<nav>Home | About</nav>
<article>
<h1>Designing Data Pipelines</h1>
<p>Batch systems trade latency for throughput.</p>
<p>Stream systems invert the trade.</p>
<script>track();</script>
</article>
<footer>footer junk</footer>
</body></html>`

func TestWebArticleExtractsReadableContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	p := NewWebArticle(deps, 5*time.Second)

	res, err := p.Process(context.Background(), Input{Type: InputArticle, URL: srv.URL + "/post"})
	require.NoError(t, err)
	assert.Equal(t, "Designing Data Pipelines", res.Record.Title)
	assert.Equal(t, []string{"A. Writer"}, res.Record.Authors)
	assert.Contains(t, res.Record.FullText, "Batch systems trade latency for throughput.")
	assert.NotContains(t, res.Record.FullText, "track()")
	assert.NotContains(t, res.Record.FullText, "footer junk")
}

func TestWebArticleDedupesRepeatURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	p := NewWebArticle(deps, 5*time.Second)

	first, err := p.Process(context.Background(), Input{Type: InputArticle, URL: srv.URL + "/post"})
	require.NoError(t, err)
	require.False(t, first.Saved.Deduped)

	// Same page, trailing slash: normalized URL matches.
	second, err := p.Process(context.Background(), Input{Type: InputArticle, URL: srv.URL + "/post/"})
	require.NoError(t, err)
	assert.True(t, second.Saved.Deduped)
	assert.Equal(t, first.Record.ContentUUID, second.Saved.ExistingUUID)
}

func TestWebArticleRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	p := NewWebArticle(deps, 5*time.Second)
	_, err := p.Process(context.Background(), Input{Type: InputArticle, URL: srv.URL})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type fakeOCR struct {
	mu      sync.Mutex
	byPath  map[string]OCRPage
	doc     []OCRPage
	inFlight, maxInFlight int
}

func (f *fakeOCR) ExtractDocument(context.Context, string) ([]OCRPage, *llm.Usage, error) {
	return f.doc, &llm.Usage{Model: "fake-vision", CostUSD: 0.01}, nil
}

func (f *fakeOCR) ExtractImage(_ context.Context, path string) (*OCRPage, *llm.Usage, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	f.inFlight--
	page := f.byPath[filepath.Base(path)]
	f.mu.Unlock()
	return &page, &llm.Usage{Model: "fake-vision", CostUSD: 0.01}, nil
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDocumentPDF(t *testing.T) {
	pdf := writeTempFile(t, "paper.pdf",
		"%PDF-1.7\n1 0 obj << /Type /Annot /Subtype /Highlight /Contents (key claim here) >> endobj\n")

	deps, ledger := newTestDeps(t)
	fake := llm.NewFake("ok")
	fake.JSONResponses = []string{`{"content_type": "paper"}`}
	deps.LLM = fake

	ocr := &fakeOCR{doc: []OCRPage{
		{PageNumber: 1, Markdown: "# Attention Is All You Need\n\nIntro text."},
		{PageNumber: 2, Markdown: "More text.", Annotations: []types.Annotation{
			{Type: types.AnnotationHandwrittenNote, Content: "check citations", Confidence: 0.8},
		}},
	}}

	p := NewDocument(deps, ocr)
	res, err := p.Process(context.Background(), Input{Type: InputPDF, Path: pdf})
	require.NoError(t, err)

	assert.Equal(t, types.SourcePaper, res.Record.SourceType)
	assert.Equal(t, "Attention Is All You Need", res.Record.Title)
	assert.NotEmpty(t, res.Record.RawFileHash)
	assert.Equal(t, 2, res.Record.Metadata["page_count"])

	// Structural highlight comes first, OCR-derived note carries its page.
	require.Len(t, res.Record.Annotations, 2)
	assert.Equal(t, types.AnnotationDigitalHighlight, res.Record.Annotations[0].Type)
	assert.Equal(t, "key claim here", res.Record.Annotations[0].Content)
	assert.Equal(t, 2, res.Record.Annotations[1].PageNumber)

	// OCR + classification both landed in the ledger batch.
	assert.Len(t, ledger.recs, 2)
	assert.Equal(t, "pdf", ledger.recs[0].Pipeline)
}

func TestDocumentRejectsMismatchedExtension(t *testing.T) {
	path := writeTempFile(t, "notes.txt", "plain text")
	deps, _ := newTestDeps(t)
	p := NewDocument(deps, &fakeOCR{})
	_, err := p.Process(context.Background(), Input{Type: InputPDF, Path: path})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBookBatchReordersAndInfersChapters(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 4)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("page%d.jpg", i))
		require.NoError(t, os.WriteFile(paths[i], []byte{0xFF, 0xD8, byte(i)}, 0o644))
	}

	// Uploaded out of order; OCR detects the printed numbers.
	ocr := &fakeOCR{byPath: map[string]OCRPage{
		"page0.jpg": {PageNumber: 12, Markdown: "Chapter Two\n\nSecond chapter continues."},
		"page1.jpg": {PageNumber: 10, Markdown: "Chapter One\n\nFirst chapter text."},
		"page2.jpg": {PageNumber: 11, Markdown: "Chapter Two\n\nSecond chapter begins.", Annotations: []types.Annotation{
			{Type: types.AnnotationHandwrittenNote, Content: "margin note", Confidence: 0.7},
		}},
		"page3.jpg": {PageNumber: 9, Markdown: "Chapter One\n\nOpening page."},
	}}

	deps, _ := newTestDeps(t)
	p := NewBookBatch(deps, ocr, 2)
	res, err := p.Process(context.Background(), Input{Type: InputBook, Paths: paths, Title: "Systems Book"})
	require.NoError(t, err)

	// Text follows printed page order 9,10,11,12.
	text := res.Record.FullText
	assert.Less(t, strings.Index(text, "Opening page."), strings.Index(text, "First chapter text."))
	assert.Less(t, strings.Index(text, "Second chapter begins."), strings.Index(text, "Second chapter continues."))

	chapters, ok := res.Record.Metadata["chapters"].([]Chapter)
	require.True(t, ok)
	require.Len(t, chapters, 2)
	assert.Equal(t, Chapter{Title: "Chapter One", StartPage: 9}, chapters[0])
	assert.Equal(t, Chapter{Title: "Chapter Two", StartPage: 11}, chapters[1])

	require.Len(t, res.Record.Annotations, 1)
	assert.Equal(t, "margin note", res.Record.Annotations[0].Content)
	assert.Equal(t, 11, res.Record.Annotations[0].PageNumber)

	// Concurrency stayed within the configured cap.
	assert.LessOrEqual(t, ocr.maxInFlight, 2)
}

type fakeRepoFetcher struct{ info RepoInfo }

func (f *fakeRepoFetcher) Fetch(context.Context, string, int) (*RepoInfo, error) {
	return &f.info, nil
}

func TestSourceRepoSummarizes(t *testing.T) {
	deps, _ := newTestDeps(t)
	fake := llm.NewFake("ok")
	fake.JSONResponses = []string{`{
		"purpose": "Task queue library",
		"architecture": "Broker plus workers",
		"tech_stack": ["Go", "Redis"],
		"learnings": ["At-least-once needs idempotent handlers"]
	}`}
	deps.LLM = fake

	fetcher := &fakeRepoFetcher{info: RepoInfo{
		Owner: "acme", Name: "queue",
		Description: "A task queue",
		Readme:      "# queue\n\nDistributed task queue.",
		Files:       []string{"go.mod", "queue.go"},
	}}

	p := NewSourceRepo(deps, fetcher, 100)
	res, err := p.Process(context.Background(), Input{Type: InputCode, URL: "https://github.com/acme/queue"})
	require.NoError(t, err)

	assert.Equal(t, "acme/queue", res.Record.Title)
	assert.Equal(t, types.SourceCode, res.Record.SourceType)
	assert.Contains(t, res.Record.FullText, "Task queue library")
	assert.Contains(t, res.Record.FullText, "Distributed task queue.")
	assert.Equal(t, []string{"Go", "Redis"}, res.Record.Metadata["tech_stack"])
}

func TestSplitRepoURL(t *testing.T) {
	owner, name, err := splitRepoURL("https://github.com/acme/queue.git")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "queue", name)

	_, _, err = splitRepoURL("https://github.com/")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type fakeBookmarks struct{ items []Bookmark }

func (f *fakeBookmarks) Bookmarks(context.Context, time.Time) ([]Bookmark, error) {
	return f.items, nil
}

func TestBookmarkSyncSkipsDuplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	web := NewWebArticle(deps, 5*time.Second)
	bsync := NewBookmarkSync(&fakeBookmarks{items: []Bookmark{
		{URL: srv.URL + "/a", Title: "First"},
		{URL: srv.URL + "/a", Title: "First again"},
		{URL: srv.URL + "/b", Title: "Second"},
	}}, web)
	bsync.limiter = rate.NewLimiter(rate.Inf, 1)

	stats, err := bsync.Sync(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 2, stats.Captured)
	assert.Equal(t, 1, stats.Deduped)
	assert.Zero(t, stats.Failed)
}

func TestVoiceMemoTranscribesAndExpands(t *testing.T) {
	audio := writeTempFile(t, "memo.m4a", "fake audio bytes")

	deps, ledger := newTestDeps(t)
	fake := llm.NewFake("")
	fake.CompleteResponses = []string{"## Idea\n\nStructured version of the memo."}
	deps.LLM = fake

	p := NewVoiceMemo(deps, transcriberFunc(func(ctx context.Context, path string) (string, *llm.Usage, error) {
		return "um so the idea is basically content addressing", &llm.Usage{Model: "fake-stt", CostUSD: 0.002}, nil
	}))

	res, err := p.Process(context.Background(), Input{Type: InputVoiceMemo, Path: audio})
	require.NoError(t, err)
	assert.Equal(t, types.SourceVoiceMemo, res.Record.SourceType)
	assert.Contains(t, res.Record.FullText, "Structured version")
	assert.Equal(t, "um so the idea is basically content addressing", res.Record.Metadata["transcript_raw"])
	assert.NotEmpty(t, res.Record.RawFileHash)
	assert.Len(t, ledger.recs, 2)
}

type transcriberFunc func(ctx context.Context, path string) (string, *llm.Usage, error)

func (f transcriberFunc) Transcribe(ctx context.Context, path string) (string, *llm.Usage, error) {
	return f(ctx, path)
}
