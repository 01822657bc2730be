package enrich

import (
	"context"
	"log"

	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/internal/graph"
	"github.com/scrypster/recall/internal/vault"
	"github.com/scrypster/recall/pkg/types"
)

// Graph is the slice of the graph store the enrichment path needs. A nil
// Graph disables graph writes and connection discovery.
type Graph interface {
	CreateContentNode(ctx context.Context, p graph.ContentNodeParams) error
	CreateConceptNode(ctx context.Context, concept *types.Concept, embedding []float32, filePath string) error
	CreateRelationship(ctx context.Context, sourceID, targetID, relType string, props map[string]any) error
	LinkConceptToConcept(ctx context.Context, sourceName, targetName, relType string) (bool, error)
	LinkContentToConcept(ctx context.Context, contentUUID, canonicalName string, importance types.Importance) error
	DeleteContentRelationships(ctx context.Context, contentUUID string) error
	VectorSearch(ctx context.Context, embedding []float32, nodeType string, topK int, threshold float64) ([]graph.SearchHit, error)
	LinkContentToNoteByPath(ctx context.Context, filePath string) error
}

// Writer is the tri-store persistence pass: vault note, relational run row,
// graph nodes and edges. Every step is best-effort; a graph failure never
// rolls back the vault or the relational store, and the idempotent reprocess
// path exists to repair partial writes.
type Writer struct {
	store contentstore.Store
	vault *vault.Manager
	graph Graph

	// WriteConceptNotes controls per-concept vault files for core concepts.
	WriteConceptNotes bool
}

func NewWriter(store contentstore.Store, manager *vault.Manager, g Graph) *Writer {
	return &Writer{store: store, vault: manager, graph: g, WriteConceptNotes: true}
}

// Write persists one completed processing run across the three stores.
// The summary embedding may be nil when the embedding stage was skipped.
func (w *Writer) Write(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, embedding []float32) error {
	// 1. Vault note. PathForUpdate keeps reprocessed notes in place.
	notePath := w.vault.PathForUpdate(record.VaultPath, record.SourceType, record.Title)
	rendered := RenderContentNote(record, run)
	if err := w.vault.WriteNote(notePath, rendered); err != nil {
		log.Printf("writer: failed to write note %s: %v", notePath, err)
	} else {
		record.VaultPath = notePath
	}

	// 2. Relational: the run and the updated record fields it produced.
	if err := w.store.SaveRun(ctx, run); err != nil {
		return err
	}
	if err := w.store.UpdateContent(ctx, record); err != nil {
		return err
	}

	// Backends with native vector columns also get the summary embedding.
	if es, ok := w.store.(contentstore.EmbeddingStore); ok && len(embedding) > 0 {
		if err := es.UpdateEmbedding(ctx, record.ContentUUID, embedding); err != nil {
			log.Printf("writer: failed to store embedding for %s: %v", record.ContentUUID, err)
		}
	}

	if w.graph == nil {
		return nil
	}

	// 3. Concept notes and nodes, CONTAINS edges, concept-to-concept edges.
	if run.Extraction != nil {
		w.writeConcepts(ctx, record, run.Extraction.Concepts)
	}

	// 4. The content node itself, carrying the summary embedding.
	summary := ""
	if run.Summaries != nil {
		summary = run.Summaries[types.SummaryStandard]
	}
	err := w.graph.CreateContentNode(ctx, graph.ContentNodeParams{
		UUID:      record.ContentUUID,
		Title:     record.Title,
		Type:      record.SourceType,
		Summary:   summary,
		Embedding: embedding,
		Tags:      record.Tags,
		URL:       record.SourceURL,
		FilePath:  record.VaultPath,
	})
	if err != nil {
		log.Printf("writer: failed to upsert content node %s: %v", record.ContentUUID, err)
	}

	// 5. Discovered connections between content nodes.
	for _, conn := range run.Connections {
		err := w.graph.CreateRelationship(ctx, conn.SourceContent, conn.TargetContent,
			string(conn.RelationshipType), map[string]any{
				"strength":    conn.Strength,
				"explanation": conn.Explanation,
			})
		if err != nil {
			log.Printf("writer: failed to create %s edge %s -> %s: %v",
				conn.RelationshipType, conn.SourceContent, conn.TargetContent, err)
		}
	}

	// 6. Tie the content node to its vault note.
	if record.VaultPath != "" {
		if err := w.graph.LinkContentToNoteByPath(ctx, record.VaultPath); err != nil {
			log.Printf("writer: failed to link content to note %s: %v", record.VaultPath, err)
		}
	}
	return nil
}

func (w *Writer) writeConcepts(ctx context.Context, record *types.ContentRecord, concepts []types.Concept) {
	for i := range concepts {
		concept := &concepts[i]
		if concept.CanonicalName == "" {
			NormalizeConcept(concept)
		}

		conceptPath := ""
		if w.WriteConceptNotes && concept.Importance == types.ImportanceCore && concept.Definition != "" {
			conceptPath = w.vault.NotePath(types.SourceConcept, concept.Name)
			if err := w.vault.WriteNote(conceptPath, RenderConceptNote(concept, record)); err != nil {
				log.Printf("writer: failed to write concept note %s: %v", conceptPath, err)
				conceptPath = ""
			}
		}

		if err := w.graph.CreateConceptNode(ctx, concept, concept.Embedding, conceptPath); err != nil {
			log.Printf("writer: failed to upsert concept %q: %v", concept.CanonicalName, err)
			continue
		}
		if err := w.graph.LinkContentToConcept(ctx, record.ContentUUID, concept.CanonicalName, concept.Importance); err != nil {
			log.Printf("writer: failed to link content %s to concept %q: %v",
				record.ContentUUID, concept.CanonicalName, err)
		}
		for _, rel := range concept.Related {
			linked, err := w.graph.LinkConceptToConcept(ctx, concept.CanonicalName,
				CanonicalName(rel.TargetName), rel.RelationshipType)
			if err != nil {
				log.Printf("writer: failed to relate %q to %q: %v", concept.CanonicalName, rel.TargetName, err)
			} else if !linked {
				log.Printf("writer: related concept %q not found for %q", rel.TargetName, concept.CanonicalName)
			}
		}
	}
}

var _ Graph = (*graph.Store)(nil)
