// Package contentstore provides the relational persistence contract for
// canonical content records, their annotations, and the processing-run audit
// trail.
//
// Two identifiers exist per record: the external content UUID and a dense
// integer row id used for foreign keys. Only the UUID crosses this package's
// boundary; backends keep the row id private.
package contentstore

import (
	"context"
	"errors"

	"github.com/scrypster/recall/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("content not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// SimilarHit is one nearest-neighbor result from an embedding-capable
// backend.
type SimilarHit struct {
	UUID  string
	Title string
	Score float64
}

// EmbeddingStore is the optional extension a backend may implement when it
// can persist and search summary embeddings natively. The postgres backend
// does; sqlite does not, and embeddings live only in the graph store there.
type EmbeddingStore interface {
	UpdateEmbedding(ctx context.Context, uuid string, embedding []float32) error
	SimilarContent(ctx context.Context, embedding []float32, limit int) ([]SimilarHit, error)
}

// SaveResult reports the outcome of a Save call. Dedup results travel here
// rather than being written into the record's metadata: when Deduped is true
// the caller must skip enqueueing processing work for this input.
type SaveResult struct {
	// UUID is the identity of the stored record: the new record's UUID, or
	// the existing record's UUID when the input was deduplicated.
	UUID string

	// Deduped is true when an existing non-failed record matched the input's
	// raw file hash or normalized source URL.
	Deduped bool

	// ExistingUUID is set to the matched record's UUID when Deduped is true.
	ExistingUUID string
}

// Store is the public contract of the relational content store.
type Store interface {
	// Save inserts a new content record, or detects a duplicate by raw file
	// hash (file inputs) or normalized source URL and returns the existing
	// record's identity. Annotations are persisted as child rows.
	//
	// Errors during the duplicate lookup are logged and fall through to
	// insert; a transient failure there can therefore produce a duplicate
	// row. This is a deliberate best-effort trade-off.
	Save(ctx context.Context, record *types.ContentRecord) (*SaveResult, error)

	// Load retrieves a record by UUID, eagerly fetching annotations.
	Load(ctx context.Context, uuid string) (*types.ContentRecord, error)

	// UpdateStatus transitions the processing status. Transitioning to
	// processed stamps processed_at.
	UpdateStatus(ctx context.Context, uuid string, status types.ProcessingStatus) error

	// UpdateContent replaces the mutable enrichment-owned fields: full text,
	// title, tags, vault path, metadata, and annotations.
	UpdateContent(ctx context.Context, record *types.ContentRecord) error

	// GetPending lists records in pending status, oldest first, up to limit.
	GetPending(ctx context.Context, limit int) ([]*types.ContentRecord, error)

	// Delete removes a record and everything it owns: annotations,
	// processing runs and their child rows. Cascades are enumerated
	// explicitly by the implementation, not delegated to the database.
	Delete(ctx context.Context, uuid string) error

	// SaveRun persists a processing run and its child concept, connection,
	// question, and followup rows.
	SaveRun(ctx context.Context, run *types.ProcessingRun) error

	// LatestRun returns the most recent processing run for a content record,
	// or ErrNotFound when none exists.
	LatestRun(ctx context.Context, uuid string) (*types.ProcessingRun, error)

	// DeleteRuns removes all processing runs for a content record together
	// with their child rows. Used by the reprocess cleanup pass. Returns the
	// number of runs deleted.
	DeleteRuns(ctx context.Context, uuid string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
