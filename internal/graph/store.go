package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/pkg/types"
)

// runner is the seam between graph operations and the Neo4j session
// machinery; tests substitute a fake.
type runner interface {
	write(ctx context.Context, query string, params map[string]any) error
	writeRows(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Store exposes the graph operations over a connected client.
type Store struct {
	r runner
}

// NewStore creates a store over client. A nil client yields a nil store;
// callers treat that as the graph being disabled.
func NewStore(client *Client) *Store {
	if client == nil {
		return nil
	}
	return &Store{r: client}
}

// ContentNodeParams carries the properties of a content node upsert.
type ContentNodeParams struct {
	UUID      string
	Title     string
	Type      types.SourceType
	Summary   string
	Embedding []float32
	Tags      []string
	URL       string
	FilePath  string
	Metadata  map[string]string
}

// CreateContentNode upserts a content node by uuid, overwriting properties
// and replacing the embedding.
func (s *Store) CreateContentNode(ctx context.Context, p ContentNodeParams) error {
	if p.UUID == "" {
		return fmt.Errorf("content node requires a uuid")
	}

	props := map[string]any{
		"title":      p.Title,
		"type":       string(p.Type),
		"summary":    p.Summary,
		"tags":       toAnySlice(p.Tags),
		"url":        p.URL,
		"file_path":  p.FilePath,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range p.Metadata {
		props["meta_"+k] = v
	}

	params := map[string]any{"id": p.UUID, "props": props}
	query := `
MERGE (c:Content {id: $id})
SET c += $props
SET c.created_at = coalesce(c.created_at, $props.updated_at)`

	if len(p.Embedding) > 0 {
		params["embedding"] = toFloat64(p.Embedding)
		query += `
SET c.embedding = $embedding`
	}

	return s.r.write(ctx, query, params)
}

// CreateConceptNode upserts a concept node by canonical name. On merge the
// longer definition wins, aliases are unioned, and a display name carrying a
// parenthesized alias annotation is preferred over one without.
func (s *Store) CreateConceptNode(ctx context.Context, concept *types.Concept, embedding []float32, filePath string) error {
	if concept == nil || concept.CanonicalName == "" {
		return fmt.Errorf("concept node requires a canonical name")
	}

	params := map[string]any{
		"canonical":      concept.CanonicalName,
		"name":           concept.Name,
		"aliases":        toAnySlice(concept.Aliases),
		"definition":     concept.Definition,
		"why_it_matters": concept.WhyItMatters,
		"importance":     string(concept.Importance),
		"file_path":      filePath,
		"now":            time.Now().UTC().Format(time.RFC3339),
	}
	query := `
MERGE (c:Concept {canonical_name: $canonical})
ON CREATE SET c.name = $name,
              c.aliases = $aliases,
              c.definition = $definition,
              c.why_it_matters = $why_it_matters,
              c.importance = $importance,
              c.created_at = $now
ON MATCH SET c.definition = CASE
                 WHEN size($definition) > size(coalesce(c.definition, '')) THEN $definition
                 ELSE c.definition END,
             c.name = CASE
                 WHEN $name CONTAINS '(' AND NOT coalesce(c.name, '') CONTAINS '(' THEN $name
                 ELSE c.name END,
             c.aliases = coalesce(c.aliases, []) + [a IN $aliases WHERE NOT a IN coalesce(c.aliases, [])],
             c.why_it_matters = coalesce(c.why_it_matters, $why_it_matters)
SET c.updated_at = $now
SET c.file_path = CASE WHEN $file_path <> '' THEN $file_path ELSE c.file_path END`

	if len(embedding) > 0 {
		params["embedding"] = toFloat64(embedding)
		query += `
SET c.embedding = $embedding`
	}

	return s.r.write(ctx, query, params)
}

var relTypeRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// SanitizeRelType uppercases a relationship type and converts dashes and
// spaces to underscores. Types that survive sanitization still must match
// ^[A-Z][A-Z0-9_]*$ because relationship types cannot be parameterized.
func SanitizeRelType(relType string) (string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(relType))
	cleaned = strings.NewReplacer("-", "_", " ", "_").Replace(cleaned)
	if !relTypeRe.MatchString(cleaned) {
		return "", fmt.Errorf("invalid relationship type %q", relType)
	}
	return cleaned, nil
}

// CreateRelationship merges a typed edge between two content nodes.
func (s *Store) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, props map[string]any) error {
	rel, err := SanitizeRelType(relType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
MATCH (a:Content {id: $source})
MATCH (b:Content {id: $target})
MERGE (a)-[e:%s]->(b)
SET e += $props`, rel)

	if props == nil {
		props = map[string]any{}
	}
	return s.r.write(ctx, query, map[string]any{
		"source": sourceID,
		"target": targetID,
		"props":  props,
	})
}

// LinkConceptToConcept creates an edge between two concepts looked up by
// canonical name. It reports whether both endpoints existed.
func (s *Store) LinkConceptToConcept(ctx context.Context, sourceName, targetName, relType string) (bool, error) {
	rel, err := SanitizeRelType(relType)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
MATCH (a:Concept {canonical_name: $source})
MATCH (b:Concept {canonical_name: $target})
MERGE (a)-[:%s]->(b)
RETURN count(*) AS linked`, rel)

	rows, err := s.r.writeRows(ctx, query, map[string]any{"source": sourceName, "target": targetName})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	linked, _ := rows[0]["linked"].(int64)
	return linked > 0, nil
}

// LinkContentToConcept creates the CONTAINS edge from a content node to a
// concept with the concept's importance as an edge property.
func (s *Store) LinkContentToConcept(ctx context.Context, contentUUID, canonicalName string, importance types.Importance) error {
	return s.r.write(ctx, `
MATCH (c:Content {id: $content})
MATCH (k:Concept {canonical_name: $concept})
MERGE (c)-[e:CONTAINS]->(k)
SET e.importance = $importance`, map[string]any{
		"content":    contentUUID,
		"concept":    canonicalName,
		"importance": string(importance),
	})
}

// DeleteContentRelationships removes every outgoing edge of a content node.
// The reprocess path calls this before replaying writes.
func (s *Store) DeleteContentRelationships(ctx context.Context, contentUUID string) error {
	return s.r.write(ctx, `
MATCH (c:Content {id: $id})-[e]->()
DELETE e`, map[string]any{"id": contentUUID})
}

// DeleteContentNode removes a content node and all its edges.
func (s *Store) DeleteContentNode(ctx context.Context, contentUUID string) error {
	return s.r.write(ctx, `
MATCH (c:Content {id: $id})
DETACH DELETE c`, map[string]any{"id": contentUUID})
}

// SearchHit is one vector-search result.
type SearchHit struct {
	ID      string
	Title   string
	Summary string
	Score   float64
}

// VectorSearch runs a cosine-similarity search over the embedding index of
// the given node label and returns hits scoring at or above threshold.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, nodeType string, topK int, threshold float64) ([]SearchHit, error) {
	var index string
	switch nodeType {
	case "Content":
		index = "content_embedding_idx"
	case "Concept":
		index = "concept_embedding_idx"
	default:
		return nil, fmt.Errorf("unknown vector search node type %q", nodeType)
	}
	if topK < 1 {
		topK = 5
	}

	rows, err := s.r.read(ctx, `
CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
WHERE score >= $threshold
RETURN coalesce(node.id, node.canonical_name) AS id,
       coalesce(node.title, node.name) AS title,
       coalesce(node.summary, node.definition, '') AS summary,
       score
ORDER BY score DESC`, map[string]any{
		"index":     index,
		"k":         topK,
		"embedding": toFloat64(embedding),
		"threshold": threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(rows))
	for _, row := range rows {
		hit := SearchHit{}
		hit.ID, _ = row["id"].(string)
		hit.Title, _ = row["title"].(string)
		hit.Summary, _ = row["summary"].(string)
		hit.Score, _ = row["score"].(float64)
		hits = append(hits, hit)
	}
	return hits, nil
}

// MergeNoteNode upserts a note node by id. It satisfies vault.NoteGraph.
func (s *Store) MergeNoteNode(ctx context.Context, id, title, noteType string, tags []string, filePath, sourceURL string) error {
	if id == "" {
		return fmt.Errorf("note node requires an id")
	}
	return s.r.write(ctx, `
MERGE (n:Note {id: $id})
SET n.title = $title,
    n.note_type = $note_type,
    n.tags = $tags,
    n.file_path = $file_path,
    n.source_url = CASE WHEN $source_url <> '' THEN $source_url ELSE n.source_url END,
    n.synced_at = $now`, map[string]any{
		"id":         id,
		"title":      title,
		"note_type":  noteType,
		"tags":       toAnySlice(tags),
		"file_path":  filePath,
		"source_url": sourceURL,
		"now":        time.Now().UTC().Format(time.RFC3339),
	})
}

// SyncNoteLinks replaces the outgoing LINKS_TO edges of a note. Targets are
// resolved by title; unresolved targets get placeholder note nodes with a
// deterministic id derived from the lowercased title.
func (s *Store) SyncNoteLinks(ctx context.Context, sourceID string, targets []string) error {
	if err := s.r.write(ctx, `
MATCH (n:Note {id: $id})-[e:LINKS_TO]->()
DELETE e`, map[string]any{"id": sourceID}); err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(targets))
	for _, target := range targets {
		rows = append(rows, map[string]any{
			"title":          target,
			"placeholder_id": placeholderNoteID(target),
		})
	}

	return s.r.write(ctx, `
MATCH (s:Note {id: $id})
UNWIND $targets AS t
MERGE (n:Note {title: t.title})
ON CREATE SET n.id = t.placeholder_id, n.placeholder = true
MERGE (s)-[:LINKS_TO]->(n)`, map[string]any{
		"id":      sourceID,
		"targets": rows,
	})
}

// placeholderNoteID derives a stable id for a note that exists only as a
// wikilink target so far.
func placeholderNoteID(title string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("recall:note:"+strings.ToLower(title))).String()
}

// LinkContentToNoteByPath merges the REPRESENTS edge between the content node
// and note node sharing a file path.
func (s *Store) LinkContentToNoteByPath(ctx context.Context, filePath string) error {
	return s.r.write(ctx, `
MATCH (c:Content {file_path: $path})
MATCH (n:Note {file_path: $path})
MERGE (c)-[:REPRESENTS]->(n)`, map[string]any{"path": filePath})
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
