package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/scrypster/recall/pkg/types"
)

// maxArticleBytes caps how much of a page body is read; pages larger than
// this are truncated, not rejected.
const maxArticleBytes = 8 << 20

// WebArticle fetches a URL and extracts its readable core. The bookmark sync
// pipeline reuses it per bookmark.
type WebArticle struct {
	deps   Deps
	client *http.Client
}

func NewWebArticle(deps Deps, timeout time.Duration) *WebArticle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebArticle{
		deps:   deps,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *WebArticle) Name() string { return "web_article" }

func (p *WebArticle) Supports(in Input) bool {
	return (in.Type == InputArticle || in.Type == InputDocument) && in.URL != ""
}

func (p *WebArticle) Process(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	extracted, err := p.fetch(ctx, in.URL)
	if err != nil {
		return nil, err
	}

	title := in.Title
	if title == "" {
		title = extracted.Title
	}
	if title == "" {
		title = in.URL
	}

	record := newRecord(types.SourceArticle, title, in)
	record.SourceURL = in.URL
	record.FullText = extracted.Text
	if extracted.Author != "" {
		record.Authors = []string{extracted.Author}
	}

	saved, err := p.deps.Store.Save(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save article: %w", err)
	}
	record.ContentUUID = saved.UUID
	return &Result{Record: record, Saved: saved}, nil
}

func (p *WebArticle) fetch(ctx context.Context, url string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bad URL %q: %v", ErrInvalidInput, url, err)
	}
	req.Header.Set("User-Agent", "recall/1.0 (+personal knowledge capture)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "xml") {
		return nil, fmt.Errorf("%w: %s is %s, not an HTML page", ErrInvalidInput, url, ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxArticleBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}
	extracted := extractReadable(doc)
	if extracted.Text == "" {
		return nil, fmt.Errorf("no readable content at %s", url)
	}
	return &extracted, nil
}

// ProbeTitle fetches just enough of a page to read its title; used by quick
// captures that want a name without a full extraction.
func (p *WebArticle) ProbeTitle(ctx context.Context, url string, timeout time.Duration) string {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	extracted, err := p.fetch(ctx, url)
	if err != nil {
		return ""
	}
	return extracted.Title
}

var _ Pipeline = (*WebArticle)(nil)
