// Package types defines the shared domain model for the Recall system.
//
// These types cross component boundaries; adapters (SQLite, Postgres, Neo4j,
// Redis) map them to their own representations. Only ContentUUID identifies
// content outside the relational adapter; integer row ids never leave it.
package types

import "time"

// SourceType classifies where a piece of content came from.
type SourceType string

// Closed set of content source types.
const (
	SourcePaper      SourceType = "paper"
	SourceArticle    SourceType = "article"
	SourceBook       SourceType = "book"
	SourceCode       SourceType = "code"
	SourceIdea       SourceType = "idea"
	SourceVoiceMemo  SourceType = "voice_memo"
	SourceConcept    SourceType = "concept"
	SourceDaily      SourceType = "daily"
	SourceExercise   SourceType = "exercise"
	SourceCareer     SourceType = "career"
	SourcePersonal   SourceType = "personal"
	SourceProject    SourceType = "project"
	SourceReflection SourceType = "reflection"
	SourceNonTech    SourceType = "non_tech"
)

// Valid reports whether t is one of the known source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourcePaper, SourceArticle, SourceBook, SourceCode, SourceIdea,
		SourceVoiceMemo, SourceConcept, SourceDaily, SourceExercise,
		SourceCareer, SourcePersonal, SourceProject, SourceReflection,
		SourceNonTech:
		return true
	}
	return false
}

// ProcessingStatus tracks the enrichment lifecycle of a content record.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusProcessed  ProcessingStatus = "processed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is a known processing status.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// AnnotationType classifies an annotation attached to content.
type AnnotationType string

const (
	AnnotationDigitalHighlight AnnotationType = "digital_highlight"
	AnnotationHandwrittenNote  AnnotationType = "handwritten_note"
	AnnotationTypedComment     AnnotationType = "typed_comment"
	AnnotationDiagram          AnnotationType = "diagram"
	AnnotationUnderline        AnnotationType = "underline"
)

// Annotation is a highlight, note, or diagram owned by one ContentRecord.
// Position is an opaque map (bbox rect, quad points, image id, author, color)
// whose shape depends on the extractor that produced it.
type Annotation struct {
	Type       AnnotationType         `json:"type"`
	Content    string                 `json:"content"`
	PageNumber int                    `json:"page_number,omitempty"`
	Position   map[string]interface{} `json:"position,omitempty"`
	Context    string                 `json:"context,omitempty"`

	// Confidence is 0..1 for OCR-derived annotations, 1.0 for structural ones.
	Confidence float64 `json:"confidence,omitempty"`
}

// ContentRecord is the canonical unit of ingested material.
type ContentRecord struct {
	// ContentUUID is the immutable external identity of this record.
	ContentUUID string `json:"content_uuid"`

	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title"`
	Authors    []string   `json:"authors,omitempty"`

	// At most one of SourceURL / SourceFilePath is typically set.
	SourceURL      string `json:"source_url,omitempty"`
	SourceFilePath string `json:"source_file_path,omitempty"`

	FullText string `json:"full_text,omitempty"`

	// RawFileHash is the streaming SHA-256 of the raw input file, used as the
	// content-addressed dedup key for file inputs.
	RawFileHash string `json:"raw_file_hash,omitempty"`

	ProcessingStatus ProcessingStatus `json:"processing_status"`

	// VaultPath is the note path relative to the vault root, set once the
	// tri-store writer has rendered a note for this content.
	VaultPath string `json:"vault_path,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// Metadata holds per-pipeline extension fields (page counts, model ids,
	// summary hints, languages). Well-known keys are documented on the
	// pipelines that write them. Dedup results are NOT carried here; they are
	// returned by ContentStore.Save.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Annotations []Annotation `json:"annotations,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	IngestedAt  time.Time  `json:"ingested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// HasFile reports whether the record originated from a local file input.
func (c *ContentRecord) HasFile() bool { return c.SourceFilePath != "" }
