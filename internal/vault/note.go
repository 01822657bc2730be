package vault

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Note is a parsed vault Markdown file: YAML frontmatter plus body.
type Note struct {
	// Path is the absolute filesystem path of the file.
	Path string

	// ID is the frontmatter id, or "" when the file carries none.
	ID string

	Title    string
	NoteType string

	// Tags is the union of frontmatter tags and inline #tags, deduplicated
	// case-insensitively, frontmatter first.
	Tags []string

	SourceURL string

	// Frontmatter holds the raw parsed key/value pairs.
	Frontmatter map[string]interface{}

	// Body is the Markdown content with frontmatter stripped.
	Body string

	// Links are the wikilink targets referenced by the body.
	Links []string
}

// ParseNote parses raw note content. A missing or malformed frontmatter block
// yields a note with an empty Frontmatter map and the full text as body.
func ParseNote(data []byte, path string) *Note {
	fm, body := splitFrontmatter(string(data))

	note := &Note{
		Path:        path,
		Frontmatter: fm,
		Body:        body,
	}

	note.ID = frontmatterString(fm, "id")
	note.Title = frontmatterString(fm, "title")
	note.NoteType = frontmatterString(fm, "type")
	note.SourceURL = frontmatterString(fm, "source_url")
	if note.Title == "" {
		note.Title = firstHeading(body)
	}

	note.Tags = mergeTags(frontmatterTags(fm), ExtractInlineTags(body))
	note.Links = ExtractWikilinks(body)
	return note
}

// Render serializes the note back to frontmatter + body.
func (n *Note) Render() ([]byte, error) {
	fm := n.Frontmatter
	if fm == nil {
		fm = map[string]interface{}{}
	}
	if n.ID != "" {
		fm["id"] = n.ID
	}
	if n.Title != "" {
		fm["title"] = n.Title
	}
	if n.NoteType != "" {
		fm["type"] = n.NoteType
	}
	if len(n.Tags) > 0 {
		fm["tags"] = n.Tags
	}
	if n.SourceURL != "" {
		fm["source_url"] = n.SourceURL
	}

	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n")
	b.WriteString(n.Body)
	return []byte(b.String()), nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the body. Malformed YAML is treated as no frontmatter.
func splitFrontmatter(text string) (map[string]interface{}, string) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]interface{}{}, text
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return map[string]interface{}{}, text
	}

	fm := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return map[string]interface{}{}, text
	}

	return fm, strings.Join(lines[closeIdx+1:], "\n")
}

// wikilinkRe matches [[target]], [[target|alias]], and ![[target]] embeds.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// ExtractWikilinks returns the wikilink targets referenced by body, in first
// appearance order, deduplicated case-insensitively. Aliases, `#header` refs,
// and `#^block` refs are stripped from the target.
func ExtractWikilinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)

	seen := make(map[string]bool)
	var targets []string
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		if idx := strings.Index(target, "#"); idx >= 0 {
			target = strings.TrimSpace(target[:idx])
		}
		if target == "" {
			continue
		}
		key := strings.ToLower(target)
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, target)
	}
	return targets
}

// inlineTagRe finds #tag patterns. The tag must start with a letter, which
// keeps markdown headings (`# Title`) out; requiring leading whitespace keeps
// in-link fragments (`[[note#header]]`) out.
var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// ExtractInlineTags finds inline #tags in body text, deduplicated by
// lowercase value in first-appearance order.
func ExtractInlineTags(body string) []string {
	matches := inlineTagRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool)
	var tags []string
	for _, m := range matches {
		tag := strings.TrimSpace(m[1])
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// firstHeading returns the text of the first ATX heading in the body.
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// frontmatterTags reads tags from frontmatter, accepting both list and
// comma-separated string forms.
func frontmatterTags(fm map[string]interface{}) []string {
	raw, ok := fm["tags"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []interface{}:
		var tags []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		var tags []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		return tags
	}
	return nil
}

func frontmatterString(fm map[string]interface{}, key string) string {
	if v, ok := fm[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// mergeTags combines two tag slices deduplicating by lowercase value.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, tag := range append(a, b...) {
		lower := strings.ToLower(tag)
		if !seen[lower] {
			seen[lower] = true
			result = append(result, tag)
		}
	}
	return result
}
