package types

import "time"

// RunStatus tracks one enrichment attempt.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SummaryLevel keys the summaries map on a ProcessingRun.
type SummaryLevel string

const (
	SummaryBrief    SummaryLevel = "brief"
	SummaryStandard SummaryLevel = "standard"
	SummaryDetailed SummaryLevel = "detailed"
)

// ContentAnalysis is the output of the analysis stage: a cheap structural
// read of the content that later stages use to pick prompts and models.
type ContentAnalysis struct {
	ContentType     string   `json:"content_type"`
	Domain          string   `json:"domain"`
	Complexity      string   `json:"complexity"`
	EstimatedLength string   `json:"estimated_length"`
	HasCode         bool     `json:"has_code"`
	HasMath         bool     `json:"has_math"`
	HasDiagrams     bool     `json:"has_diagrams"`
	KeyTopics       []string `json:"key_topics"` // capped at 10
	Language        string   `json:"language"`
}

// Extraction is the output of the extraction stage.
type Extraction struct {
	Concepts      []Concept `json:"concepts"`
	KeyFindings   []string  `json:"key_findings,omitempty"`
	Methodologies []string  `json:"methodologies,omitempty"`
	Tools         []string  `json:"tools,omitempty"`
	People        []string  `json:"people,omitempty"`
}

// Importance classifies how central a concept is to its source content.
type Importance string

const (
	ImportanceCore       Importance = "core"
	ImportanceSupporting Importance = "supporting"
	ImportanceTangential Importance = "tangential"
)

// ConceptRelation links a concept to a named related concept.
type ConceptRelation struct {
	TargetName       string `json:"target_name"`
	RelationshipType string `json:"relationship_type"`
}

// Concept is a named idea extracted from content. CanonicalName is the merge
// key in the graph store: two concepts with the same canonical name collapse
// to one node.
type Concept struct {
	ID            string            `json:"id,omitempty"`
	Name          string            `json:"name"`
	CanonicalName string            `json:"canonical_name"`
	Aliases       []string          `json:"aliases,omitempty"`
	Definition    string            `json:"definition,omitempty"`
	WhyItMatters  string            `json:"why_it_matters,omitempty"`
	Examples      []string          `json:"examples,omitempty"`
	Misconceptions []string         `json:"misconceptions,omitempty"`
	Properties    []string          `json:"properties,omitempty"`
	Importance    Importance        `json:"importance"`
	Embedding     []float32         `json:"-"`
	Related       []ConceptRelation `json:"related_concepts,omitempty"`
}

// RelationshipType is the closed set of content-to-content edge types.
type RelationshipType string

const (
	RelRelatesTo       RelationshipType = "RELATES_TO"
	RelExtends         RelationshipType = "EXTENDS"
	RelContradicts     RelationshipType = "CONTRADICTS"
	RelPrerequisiteFor RelationshipType = "PREREQUISITE_FOR"
	RelApplies         RelationshipType = "APPLIES"
)

// Valid reports whether r is a known content relationship type.
func (r RelationshipType) Valid() bool {
	switch r {
	case RelRelatesTo, RelExtends, RelContradicts, RelPrerequisiteFor, RelApplies:
		return true
	}
	return false
}

// Connection records a discovered relationship between two content records.
type Connection struct {
	SourceContent    string           `json:"source_content"`
	TargetContent    string           `json:"target_content"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Strength         float64          `json:"strength"` // 0..1
	Explanation      string           `json:"explanation,omitempty"`
	VerifiedByUser   bool             `json:"verified_by_user"`
}

// Question is a mastery question generated for a processing run.
type Question struct {
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Followup is a suggested follow-up item generated for a processing run.
type Followup struct {
	Description string `json:"description"`
	Kind        string `json:"kind,omitempty"` // reading | experiment | question
}

// TagResult is the output of the tag classification stage. Tags outside the
// taxonomy land in SuggestedNewTags and are never stored on the record.
type TagResult struct {
	DomainTags       []string `json:"domain_tags"`
	MetaTags         []string `json:"meta_tags"`
	SuggestedNewTags []string `json:"suggested_new_tags,omitempty"`
}

// ProcessingRun is one enrichment attempt for a content record. It owns its
// concepts, connections, questions, and followups: deleting a run cascades
// to all of them.
type ProcessingRun struct {
	ID          int64                        `json:"-"`
	ContentUUID string                       `json:"content_uuid"`
	Status      RunStatus                    `json:"status"`
	Analysis    *ContentAnalysis             `json:"analysis,omitempty"`
	Summaries   map[SummaryLevel]string      `json:"summaries,omitempty"`
	Extraction  *Extraction                  `json:"extraction,omitempty"`
	Tags        *TagResult                   `json:"tags,omitempty"`
	Connections []Connection                 `json:"connections,omitempty"`
	Questions   []Question                   `json:"questions,omitempty"`
	Followups   []Followup                   `json:"followups,omitempty"`
	Model       string                       `json:"model,omitempty"`
	CostUSD     float64                      `json:"cost_usd"`
	LatencyMS   int64                        `json:"latency_ms"`
	Error       string                       `json:"error,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
}
