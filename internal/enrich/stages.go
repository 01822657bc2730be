package enrich

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/pkg/types"
)

// textSample caps how much full text goes into a prompt.
const textSample = 8000

func sample(text string) string {
	if len(text) <= textSample {
		return text
	}
	cut := textSample
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// analyze produces the cheap structural read of the content that later
// stages use to pick prompts.
func (o *Orchestrator) analyze(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, tracker *costledger.Collector) error {
	var analysis types.ContentAnalysis
	usage, err := o.llm.CompleteJSON(ctx, fmt.Sprintf(
		`Analyze this content structurally.
Respond with JSON only:
{"content_type": "...", "domain": "...", "complexity": "introductory|intermediate|advanced", "estimated_length": "short|medium|long", "has_code": false, "has_math": false, "has_diagrams": false, "key_topics": ["..."], "language": "en"}

Title: %s
Content:
%s`, record.Title, sample(record.FullText)), &analysis)
	tracker.Add(usage, types.RequestText, record.ContentUUID, "analysis")
	if err != nil {
		return err
	}
	if len(analysis.KeyTopics) > 10 {
		analysis.KeyTopics = analysis.KeyTopics[:10]
	}
	run.Analysis = &analysis
	return nil
}

// summarize produces the three summary levels in one call.
func (o *Orchestrator) summarize(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, tracker *costledger.Collector) error {
	var out struct {
		Brief    string `json:"brief"`
		Standard string `json:"standard"`
		Detailed string `json:"detailed"`
	}
	usage, err := o.llm.CompleteJSON(ctx, fmt.Sprintf(
		`Summarize this content at three levels: brief (one sentence), standard (one paragraph), detailed (several paragraphs preserving structure and key arguments).
Respond with JSON only: {"brief": "...", "standard": "...", "detailed": "..."}

Title: %s
Content:
%s`, record.Title, sample(record.FullText)), &out)
	tracker.Add(usage, types.RequestText, record.ContentUUID, "summaries")
	if err != nil {
		return err
	}
	run.Summaries = map[types.SummaryLevel]string{
		types.SummaryBrief:    strings.TrimSpace(out.Brief),
		types.SummaryStandard: strings.TrimSpace(out.Standard),
		types.SummaryDetailed: strings.TrimSpace(out.Detailed),
	}
	return nil
}

// extract pulls concepts, findings, methodologies, tools, and people, then
// normalizes concept identity and embeds core concept definitions.
func (o *Orchestrator) extract(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, tracker *costledger.Collector) error {
	var extraction types.Extraction
	usage, err := o.llm.CompleteJSON(ctx, fmt.Sprintf(
		`Extract the knowledge in this content.
Respond with JSON only:
{"concepts": [{"name": "...", "definition": "...", "why_it_matters": "...", "examples": ["..."], "misconceptions": ["..."], "properties": ["..."], "importance": "core|supporting|tangential", "related_concepts": [{"target_name": "...", "relationship_type": "RELATES_TO"}]}], "key_findings": ["..."], "methodologies": ["..."], "tools": ["..."], "people": ["..."]}

Title: %s
Content:
%s`, record.Title, sample(record.FullText)), &extraction)
	tracker.Add(usage, types.RequestText, record.ContentUUID, "extraction")
	if err != nil {
		return err
	}

	for i := range extraction.Concepts {
		NormalizeConcept(&extraction.Concepts[i])
	}
	run.Extraction = &extraction

	// Concept embeddings are best-effort; the graph node works without one.
	for i := range extraction.Concepts {
		c := &extraction.Concepts[i]
		if c.Importance != types.ImportanceCore || c.Definition == "" {
			continue
		}
		vec, usage, err := o.llm.Embed(ctx, c.Name+": "+c.Definition)
		tracker.Add(usage, types.RequestEmbedding, record.ContentUUID, "concept_embedding")
		if err != nil {
			log.Printf("enrich: embedding failed for concept %q: %v", c.CanonicalName, err)
			continue
		}
		c.Embedding = vec
	}
	return nil
}

// classifyTags assigns tags strictly from the taxonomy. Anything the model
// proposes outside it is demoted to a suggestion and never stored on the
// record.
func (o *Orchestrator) classifyTags(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, tracker *costledger.Collector) error {
	tax, err := o.tax.Get()
	if err != nil {
		return err
	}

	var out struct {
		DomainTags       []string `json:"domain_tags"`
		MetaTags         []string `json:"meta_tags"`
		SuggestedNewTags []string `json:"suggested_new_tags"`
	}
	usage, err := o.llm.CompleteJSON(ctx, fmt.Sprintf(
		`Assign tags to this content using ONLY the allowed tags below. Propose genuinely new topics in suggested_new_tags instead of inventing domain tags.
Respond with JSON only: {"domain_tags": ["..."], "meta_tags": ["..."], "suggested_new_tags": ["..."]}

Allowed domain tags: %s
Allowed meta tags: %s

Title: %s
Summary: %s`,
		strings.Join(tax.DomainTags, ", "),
		strings.Join(tax.MetaTags, ", "),
		record.Title, run.Summaries[types.SummaryStandard]), &out)
	tracker.Add(usage, types.RequestText, record.ContentUUID, "tags")
	if err != nil {
		return err
	}

	domainOK, domainRejected := tax.Filter(out.DomainTags)
	metaOK, metaRejected := tax.Filter(out.MetaTags)

	result := &types.TagResult{
		DomainTags: domainOK,
		MetaTags:   metaOK,
		SuggestedNewTags: unionStrings(out.SuggestedNewTags,
			append(domainRejected, metaRejected...)),
	}
	run.Tags = result
	record.Tags = append(append([]string{}, domainOK...), metaOK...)
	return nil
}

// discoverConnections embeds the standard summary, finds nearby content in
// the graph, and asks the model to confirm relationship type and strength
// for each candidate. Returns the summary embedding for the writer. With no
// graph configured the stage is a no-op.
func (o *Orchestrator) discoverConnections(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, tracker *costledger.Collector) ([]float32, error) {
	summary := run.Summaries[types.SummaryStandard]
	if summary == "" {
		return nil, nil
	}

	embedding, usage, err := o.llm.Embed(ctx, summary)
	tracker.Add(usage, types.RequestEmbedding, record.ContentUUID, "summary_embedding")
	if err != nil {
		return nil, err
	}
	if o.graph == nil {
		return embedding, nil
	}

	topK := o.cfg.ConnectionTopK
	if topK <= 0 {
		topK = 5
	}
	minScore := o.cfg.ConnectionMinScore
	if minScore <= 0 {
		minScore = 0.7
	}
	hits, err := o.graph.VectorSearch(ctx, embedding, "Content", topK+1, minScore)
	if err != nil {
		log.Printf("enrich: vector search failed for %s: %v", record.ContentUUID, err)
		return embedding, nil
	}

	var candidates []string
	for _, hit := range hits {
		if hit.ID == record.ContentUUID {
			continue
		}
		candidates = append(candidates, fmt.Sprintf("- id: %s\n  title: %s\n  summary: %s",
			hit.ID, hit.Title, hit.Summary))
		if len(candidates) == topK {
			break
		}
	}
	if len(candidates) == 0 {
		return embedding, nil
	}

	var out struct {
		Connections []struct {
			TargetID         string  `json:"target_id"`
			RelationshipType string  `json:"relationship_type"`
			Strength         float64 `json:"strength"`
			Explanation      string  `json:"explanation"`
		} `json:"connections"`
	}
	usage, err = o.llm.CompleteJSON(ctx, fmt.Sprintf(
		`This new content may relate to existing content. For each genuine relationship, give its type (RELATES_TO, EXTENDS, CONTRADICTS, PREREQUISITE_FOR, APPLIES), a strength 0..1, and a one-sentence explanation. Omit weak or coincidental matches.
Respond with JSON only: {"connections": [{"target_id": "...", "relationship_type": "RELATES_TO", "strength": 0.8, "explanation": "..."}]}

New content: %s
Summary: %s

Existing content:
%s`, record.Title, summary, strings.Join(candidates, "\n")), &out)
	tracker.Add(usage, types.RequestText, record.ContentUUID, "connections")
	if err != nil {
		return embedding, err
	}

	for _, c := range out.Connections {
		relType := types.RelationshipType(strings.ToUpper(strings.TrimSpace(c.RelationshipType)))
		if c.TargetID == "" || c.TargetID == record.ContentUUID || !relType.Valid() {
			continue
		}
		strength := c.Strength
		if strength < 0 {
			strength = 0
		}
		if strength > 1 {
			strength = 1
		}
		run.Connections = append(run.Connections, types.Connection{
			SourceContent:    record.ContentUUID,
			TargetContent:    c.TargetID,
			RelationshipType: relType,
			Strength:         strength,
			Explanation:      c.Explanation,
		})
	}
	return embedding, nil
}

// followupsAndQuestions generates both in one call, honoring the per-kind
// configuration toggles.
func (o *Orchestrator) followupsAndQuestions(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, tracker *costledger.Collector) error {
	if !o.cfg.GenerateQuestions && !o.cfg.GenerateFollowups {
		return nil
	}

	var out struct {
		Questions []types.Question `json:"questions"`
		Followups []types.Followup `json:"followups"`
	}
	usage, err := o.llm.CompleteJSON(ctx, fmt.Sprintf(
		`From this content, generate up to 5 mastery questions (with answers and difficulty foundational|intermediate|advanced) and up to 5 follow-up items (kind: reading|experiment|question).
Respond with JSON only: {"questions": [{"prompt": "...", "answer": "...", "difficulty": "..."}], "followups": [{"description": "...", "kind": "..."}]}

Title: %s
Summary: %s`, record.Title, run.Summaries[types.SummaryStandard]), &out)
	tracker.Add(usage, types.RequestText, record.ContentUUID, "followups")
	if err != nil {
		return err
	}
	if o.cfg.GenerateQuestions {
		run.Questions = out.Questions
	}
	if o.cfg.GenerateFollowups {
		run.Followups = out.Followups
	}
	return nil
}
