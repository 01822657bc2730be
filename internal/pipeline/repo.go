package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/pkg/types"
)

// RepoInfo is what the code-host collaborator returns for one repository.
type RepoInfo struct {
	Owner       string
	Name        string
	Description string
	Readme      string
	Files       []string
}

// RepoFetcher is the remote code-host collaborator.
type RepoFetcher interface {
	Fetch(ctx context.Context, repoURL string, fileCap int) (*RepoInfo, error)
}

// repoSummary is the LLM's read of a repository.
type repoSummary struct {
	Purpose      string   `json:"purpose"`
	Architecture string   `json:"architecture"`
	TechStack    []string `json:"tech_stack"`
	Learnings    []string `json:"learnings"`
}

// SourceRepo captures a remote repository: README plus a capped file tree,
// summarized by the model into purpose, architecture, tech stack, and
// learnings.
type SourceRepo struct {
	deps    Deps
	fetcher RepoFetcher
	fileCap int
}

func NewSourceRepo(deps Deps, fetcher RepoFetcher, fileCap int) *SourceRepo {
	if fileCap <= 0 {
		fileCap = 200
	}
	return &SourceRepo{deps: deps, fetcher: fetcher, fileCap: fileCap}
}

func (p *SourceRepo) Name() string { return "source_repo" }

func (p *SourceRepo) Supports(in Input) bool {
	return in.Type == InputCode && in.URL != ""
}

func (p *SourceRepo) Process(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	info, err := p.fetcher.Fetch(ctx, in.URL, p.fileCap)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repo %s: %w", in.URL, err)
	}

	tracker := newCosts(p.Name())
	defer tracker.Flush(ctx, p.deps.Ledger)

	summary, err := p.summarize(ctx, info, tracker)
	if err != nil {
		return nil, err
	}

	title := in.Title
	if title == "" {
		title = info.Owner + "/" + info.Name
	}

	record := newRecord(types.SourceCode, title, in)
	record.SourceURL = in.URL
	record.FullText = renderRepoNote(info, summary)
	record.Metadata["repo_owner"] = info.Owner
	record.Metadata["repo_name"] = info.Name
	record.Metadata["repo_description"] = info.Description
	record.Metadata["repo_file_count"] = len(info.Files)
	record.Metadata["tech_stack"] = summary.TechStack

	saved, err := p.deps.Store.Save(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save repo capture: %w", err)
	}
	record.ContentUUID = saved.UUID
	return &Result{Record: record, Saved: saved}, nil
}

func (p *SourceRepo) summarize(ctx context.Context, info *RepoInfo, tracker *costledger.Collector) (*repoSummary, error) {
	readme := info.Readme
	if len(readme) > 8000 {
		readme = readme[:8000]
	}
	tree := strings.Join(info.Files, "\n")
	if len(tree) > 4000 {
		tree = tree[:4000]
	}

	var out repoSummary
	usage, err := p.deps.LLM.CompleteJSON(ctx, fmt.Sprintf(
		`Summarize this repository for a personal knowledge base.
Respond with JSON only: {"purpose": "...", "architecture": "...", "tech_stack": ["..."], "learnings": ["..."]}

Repository: %s/%s
Description: %s

README:
%s

File tree:
%s`, info.Owner, info.Name, info.Description, readme, tree), &out)
	tracker.Add(usage, types.RequestText, "", "summarize")
	if err != nil {
		return nil, fmt.Errorf("repo summarization failed: %w", err)
	}
	return &out, nil
}

func renderRepoNote(info *RepoInfo, s *repoSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Purpose\n\n%s\n\n", s.Purpose)
	fmt.Fprintf(&b, "## Architecture\n\n%s\n\n", s.Architecture)
	if len(s.TechStack) > 0 {
		b.WriteString("## Tech stack\n\n")
		for _, t := range s.TechStack {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
	if len(s.Learnings) > 0 {
		b.WriteString("## Learnings\n\n")
		for _, l := range s.Learnings {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		b.WriteString("\n")
	}
	if info.Readme != "" {
		b.WriteString("## README\n\n")
		b.WriteString(info.Readme)
	}
	return strings.TrimSpace(b.String())
}

// GitHub implements RepoFetcher against the GitHub REST API.
type GitHub struct {
	client  *http.Client
	baseURL string
	token   string
}

func NewGitHub(token string, timeout time.Duration) *GitHub {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitHub{
		client:  &http.Client{Timeout: timeout},
		baseURL: "https://api.github.com",
		token:   token,
	}
}

func (g *GitHub) Fetch(ctx context.Context, repoURL string, fileCap int) (*RepoInfo, error) {
	owner, name, err := splitRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	info := &RepoInfo{Owner: owner, Name: name}

	var meta struct {
		Description   string `json:"description"`
		DefaultBranch string `json:"default_branch"`
	}
	if err := g.getJSON(ctx, fmt.Sprintf("/repos/%s/%s", owner, name), &meta); err != nil {
		return nil, err
	}
	info.Description = meta.Description

	// README failures are tolerable; many repos have none.
	if readme, err := g.getRaw(ctx, fmt.Sprintf("/repos/%s/%s/readme", owner, name)); err == nil {
		info.Readme = readme
	}

	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	branch := meta.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	if err := g.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, name, branch), &tree); err == nil {
		for _, entry := range tree.Tree {
			if entry.Type != "blob" {
				continue
			}
			info.Files = append(info.Files, entry.Path)
			if len(info.Files) >= fileCap {
				break
			}
		}
	}
	return info, nil
}

func (g *GitHub) getJSON(ctx context.Context, path string, dst any) error {
	body, err := g.get(ctx, path, "application/vnd.github+json")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func (g *GitHub) getRaw(ctx context.Context, path string) (string, error) {
	body, err := g.get(ctx, path, "application/vnd.github.raw+json")
	return string(body), err
}

func (g *GitHub) get(ctx context.Context, path, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github %s returned status %d", path, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// splitRepoURL extracts owner/name from a repository URL or shorthand.
func splitRepoURL(repoURL string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	if u, perr := url.Parse(trimmed); perr == nil && u.Host != "" {
		trimmed = strings.Trim(u.Path, "/")
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("%w: cannot parse repo URL %q", ErrInvalidInput, repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

var _ Pipeline = (*SourceRepo)(nil)
var _ RepoFetcher = (*GitHub)(nil)
