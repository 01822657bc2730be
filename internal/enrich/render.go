package enrich

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/vault"
	"github.com/scrypster/recall/pkg/types"
)

// RenderContentNote renders the vault note for an enriched content record:
// YAML frontmatter, summary sections, concepts as wikilinks, annotations,
// connections, questions, and follow-ups.
func RenderContentNote(record *types.ContentRecord, run *types.ProcessingRun) []byte {
	note := &vault.Note{
		ID:        record.ContentUUID,
		Title:     record.Title,
		NoteType:  string(record.SourceType),
		Tags:      record.Tags,
		SourceURL: record.SourceURL,
		Frontmatter: map[string]interface{}{
			"created": record.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
	if len(record.Authors) > 0 {
		note.Frontmatter["authors"] = record.Authors
	}

	var b strings.Builder
	writeSummaries(&b, run)
	writeConceptsSection(&b, run)
	writeAnnotations(&b, record.Annotations)
	writeConnections(&b, run.Connections)
	writeQuestions(&b, run.Questions)
	writeFollowups(&b, run.Followups)
	note.Body = strings.TrimSpace(b.String()) + "\n"

	rendered, err := note.Render()
	if err != nil {
		// yaml.Marshal on a map of scalars does not fail in practice.
		log.Printf("enrich: note render failed for %s: %v", record.ContentUUID, err)
		return []byte("# " + record.Title + "\n\n" + note.Body)
	}
	return rendered
}

func writeSummaries(b *strings.Builder, run *types.ProcessingRun) {
	if run.Summaries == nil {
		return
	}
	if brief := run.Summaries[types.SummaryBrief]; brief != "" {
		fmt.Fprintf(b, "> %s\n\n", brief)
	}
	if standard := run.Summaries[types.SummaryStandard]; standard != "" {
		fmt.Fprintf(b, "## Summary\n\n%s\n\n", standard)
	}
	if detailed := run.Summaries[types.SummaryDetailed]; detailed != "" {
		fmt.Fprintf(b, "## Detailed notes\n\n%s\n\n", detailed)
	}
}

func writeConceptsSection(b *strings.Builder, run *types.ProcessingRun) {
	if run.Extraction == nil || len(run.Extraction.Concepts) == 0 {
		return
	}
	b.WriteString("## Key concepts\n\n")
	for _, c := range run.Extraction.Concepts {
		if c.Definition != "" {
			fmt.Fprintf(b, "- [[%s]] — %s\n", c.Name, c.Definition)
		} else {
			fmt.Fprintf(b, "- [[%s]]\n", c.Name)
		}
	}
	b.WriteString("\n")
	writeList(b, "Key findings", run.Extraction.KeyFindings)
	writeList(b, "Methodologies", run.Extraction.Methodologies)
	writeList(b, "Tools", run.Extraction.Tools)
}

func writeAnnotations(b *strings.Builder, annotations []types.Annotation) {
	if len(annotations) == 0 {
		return
	}
	b.WriteString("## Annotations\n\n")
	for _, a := range annotations {
		if a.Content == "" {
			continue
		}
		if a.PageNumber > 0 {
			fmt.Fprintf(b, "- (%s, p.%d) %s\n", a.Type, a.PageNumber, a.Content)
		} else {
			fmt.Fprintf(b, "- (%s) %s\n", a.Type, a.Content)
		}
	}
	b.WriteString("\n")
}

func writeConnections(b *strings.Builder, connections []types.Connection) {
	if len(connections) == 0 {
		return
	}
	b.WriteString("## Connections\n\n")
	for _, c := range connections {
		fmt.Fprintf(b, "- %s → `%s` (%.2f): %s\n",
			c.RelationshipType, c.TargetContent, c.Strength, c.Explanation)
	}
	b.WriteString("\n")
}

func writeQuestions(b *strings.Builder, questions []types.Question) {
	if len(questions) == 0 {
		return
	}
	b.WriteString("## Questions\n\n")
	for _, q := range questions {
		fmt.Fprintf(b, "- %s\n", q.Prompt)
	}
	b.WriteString("\n")
}

func writeFollowups(b *strings.Builder, followups []types.Followup) {
	if len(followups) == 0 {
		return
	}
	b.WriteString("## Follow-ups\n\n")
	for _, f := range followups {
		if f.Kind != "" {
			fmt.Fprintf(b, "- [ ] (%s) %s\n", f.Kind, f.Description)
		} else {
			fmt.Fprintf(b, "- [ ] %s\n", f.Description)
		}
	}
	b.WriteString("\n")
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// RenderConceptNote renders the standalone vault note for a core concept.
func RenderConceptNote(concept *types.Concept, source *types.ContentRecord) []byte {
	note := &vault.Note{
		Title:    concept.Name,
		NoteType: "concept",
		Tags:     source.Tags,
		Frontmatter: map[string]interface{}{
			"canonical_name": concept.CanonicalName,
		},
	}
	if len(concept.Aliases) > 0 {
		note.Frontmatter["aliases"] = concept.Aliases
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", concept.Definition)
	if concept.WhyItMatters != "" {
		fmt.Fprintf(&b, "## Why it matters\n\n%s\n\n", concept.WhyItMatters)
	}
	writeList(&b, "Examples", concept.Examples)
	writeList(&b, "Properties", concept.Properties)
	writeList(&b, "Common misconceptions", concept.Misconceptions)
	fmt.Fprintf(&b, "Source: [[%s]]\n", source.Title)
	note.Body = strings.TrimSpace(b.String()) + "\n"

	rendered, err := note.Render()
	if err != nil {
		log.Printf("enrich: concept note render failed for %q: %v", concept.Name, err)
		return []byte("# " + concept.Name + "\n\n" + note.Body)
	}
	return rendered
}
