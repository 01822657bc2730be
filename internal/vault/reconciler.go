package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSyncInProgress is returned when a full or reconciliation sync is
// requested while another one is still running.
var ErrSyncInProgress = errors.New("vault sync already in progress")

// NoteGraph is the slice of the graph store the reconciler needs.
type NoteGraph interface {
	// MergeNoteNode upserts a note node by id.
	MergeNoteNode(ctx context.Context, id, title, noteType string, tags []string, filePath, sourceURL string) error

	// SyncNoteLinks replaces the outgoing LINKS_TO edges of the source note
	// with edges to the given targets, creating placeholder nodes for targets
	// that do not resolve to an existing note.
	SyncNoteLinks(ctx context.Context, sourceID string, targets []string) error
}

// SyncState persists the last successful sync time across restarts.
type SyncState interface {
	LastSyncTime(ctx context.Context) (time.Time, bool, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// SyncType distinguishes the reconciler's batch modes.
type SyncType string

const (
	SyncReconciliation SyncType = "reconciliation"
	SyncFull           SyncType = "full"
)

// SyncStatus is a snapshot of reconciler progress.
type SyncStatus struct {
	IsRunning  bool        `json:"is_running"`
	SyncType   SyncType    `json:"sync_type,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	Processed  int         `json:"processed"`
	Synced     int         `json:"synced"`
	Failed     int         `json:"failed"`
	LastResult *SyncResult `json:"last_result,omitempty"`
}

// SyncResult summarizes a completed batch sync.
type SyncResult struct {
	SyncType  SyncType      `json:"sync_type"`
	Scanned   int           `json:"scanned"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ms"`
	Completed time.Time     `json:"completed_at"`
}

// Reconciler pushes vault files into the graph store. Real-time single-note
// syncs run freely; batch modes (reconciliation, full) are serialized through
// the status singleton.
type Reconciler struct {
	manager *Manager
	graph   NoteGraph
	state   SyncState

	mu     sync.Mutex
	status SyncStatus
}

// NewReconciler creates a reconciler over the vault manager and graph store.
func NewReconciler(manager *Manager, graph NoteGraph, state SyncState) *Reconciler {
	return &Reconciler{manager: manager, graph: graph, state: state}
}

// Status returns a snapshot of the current sync status.
func (r *Reconciler) Status() SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SyncNote syncs a single note file at absPath into the graph store. The
// note's id comes from frontmatter; a note without one gets a deterministic
// UUID5 derived from its absolute path, written back to the file.
func (r *Reconciler) SyncNote(ctx context.Context, absPath string) error {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read note: %w", err)
	}

	note := ParseNote(data, absPath)
	if note.ID == "" {
		note.ID = NoteID(absPath)
		if rendered, err := note.Render(); err == nil {
			if err := os.WriteFile(absPath, rendered, 0o644); err != nil {
				log.Printf("vault: failed to write id back to %s: %v", absPath, err)
			}
		}
	}

	relPath := absPath
	if rel, err := filepath.Rel(r.manager.Root(), absPath); err == nil {
		relPath = rel
	}

	if err := r.graph.MergeNoteNode(ctx, note.ID, note.Title, note.NoteType, note.Tags, relPath, note.SourceURL); err != nil {
		return fmt.Errorf("failed to merge note node: %w", err)
	}
	if err := r.graph.SyncNoteLinks(ctx, note.ID, note.Links); err != nil {
		return fmt.Errorf("failed to sync note links: %w", err)
	}
	return nil
}

// NoteID derives a deterministic UUID5 note id from an absolute path.
func NoteID(absPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(absPath)).String()
}

// Reconcile performs startup reconciliation: every note modified since the
// persisted last sync time is synced. On first run all notes are synced.
func (r *Reconciler) Reconcile(ctx context.Context) (*SyncResult, error) {
	since, known, err := r.state.LastSyncTime(ctx)
	if err != nil {
		log.Printf("vault: failed to read last sync time, running full scan: %v", err)
		known = false
	}
	if !known {
		since = time.Time{}
	}
	return r.runBatch(ctx, SyncReconciliation, since)
}

// FullSync syncs every note regardless of modification time.
func (r *Reconciler) FullSync(ctx context.Context) (*SyncResult, error) {
	return r.runBatch(ctx, SyncFull, time.Time{})
}

func (r *Reconciler) runBatch(ctx context.Context, syncType SyncType, since time.Time) (*SyncResult, error) {
	r.mu.Lock()
	if r.status.IsRunning {
		r.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	r.status = SyncStatus{
		IsRunning:  true,
		SyncType:   syncType,
		StartedAt:  time.Now().UTC(),
		LastResult: r.status.LastResult,
	}
	r.mu.Unlock()

	start := time.Now()
	result := &SyncResult{SyncType: syncType}

	defer func() {
		result.Duration = time.Since(start)
		result.Completed = time.Now().UTC()
		r.mu.Lock()
		r.status.IsRunning = false
		r.status.LastResult = result
		r.mu.Unlock()
	}()

	files, err := r.manager.ListNotes()
	if err != nil {
		return result, err
	}

	maxMtime := since
	for _, path := range files {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !since.IsZero() && !info.ModTime().After(since) {
			continue
		}
		if info.ModTime().After(maxMtime) {
			maxMtime = info.ModTime()
		}

		result.Scanned++
		r.mu.Lock()
		r.status.Processed++
		r.mu.Unlock()

		if err := r.SyncNote(ctx, path); err != nil {
			log.Printf("vault: sync failed for %s: %v", path, err)
			result.Failed++
			r.mu.Lock()
			r.status.Failed++
			r.mu.Unlock()
			continue
		}

		result.Synced++
		r.mu.Lock()
		r.status.Synced++
		r.mu.Unlock()
	}

	// Advance the watermark past everything we observed.
	watermark := time.Now().UTC()
	if maxMtime.After(watermark) {
		watermark = maxMtime
	}
	if err := r.state.SetLastSyncTime(ctx, watermark); err != nil {
		log.Printf("vault: failed to persist last sync time: %v", err)
	}

	log.Printf("vault: %s sync complete: %d synced, %d failed of %d scanned in %s",
		syncType, result.Synced, result.Failed, result.Scanned, result.Duration.Round(time.Millisecond))
	return result, nil
}
