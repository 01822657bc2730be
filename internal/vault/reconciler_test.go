package vault

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGraph struct {
	mu     sync.Mutex
	merged map[string]fakeNode
	links  map[string][]string
}

type fakeNode struct {
	title, noteType, filePath, sourceURL string
	tags                                 []string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{merged: make(map[string]fakeNode), links: make(map[string][]string)}
}

func (g *fakeGraph) MergeNoteNode(_ context.Context, id, title, noteType string, tags []string, filePath, sourceURL string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.merged[id] = fakeNode{title: title, noteType: noteType, tags: tags, filePath: filePath, sourceURL: sourceURL}
	return nil
}

func (g *fakeGraph) SyncNoteLinks(_ context.Context, sourceID string, targets []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.links[sourceID] = targets
	return nil
}

type memSyncState struct {
	mu    sync.Mutex
	t     time.Time
	known bool
}

func (s *memSyncState) LastSyncTime(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t, s.known, nil
}

func (s *memSyncState) SetLastSyncTime(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t, s.known = t, true
	return nil
}

func writeVaultNote(t *testing.T, m *Manager, rel, content string, mtime time.Time) string {
	t.Helper()
	require.NoError(t, m.WriteNote(rel, []byte(content)))
	abs := filepath.Join(m.Root(), rel)
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(abs, mtime, mtime))
	}
	return abs
}

func TestSyncNoteAssignsAndPersistsID(t *testing.T) {
	m := NewManager(t.TempDir())
	graph := newFakeGraph()
	r := NewReconciler(m, graph, &memSyncState{})
	ctx := context.Background()

	abs := writeVaultNote(t, m, filepath.Join("concepts", "Entropy.md"),
		"# Entropy\n\nLinks to [[Information Theory]] with #math.", time.Time{})

	require.NoError(t, r.SyncNote(ctx, abs))

	wantID := NoteID(abs)
	node, ok := graph.merged[wantID]
	require.True(t, ok)
	assert.Equal(t, "Entropy", node.title)
	assert.Equal(t, filepath.Join("concepts", "Entropy.md"), node.filePath)
	assert.Equal(t, []string{"math"}, node.tags)
	assert.Equal(t, []string{"Information Theory"}, graph.links[wantID])

	// The generated id was written back to the file and is stable.
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Contains(t, string(data), wantID)

	require.NoError(t, r.SyncNote(ctx, abs))
	assert.Len(t, graph.merged, 1)
}

func TestSyncNoteKeepsFrontmatterID(t *testing.T) {
	m := NewManager(t.TempDir())
	graph := newFakeGraph()
	r := NewReconciler(m, graph, &memSyncState{})

	abs := writeVaultNote(t, m, filepath.Join("daily", "2026-08-24.md"),
		"---\nid: my-stable-id\ntitle: Daily\n---\nNothing linked.", time.Time{})

	require.NoError(t, r.SyncNote(context.Background(), abs))

	_, ok := graph.merged["my-stable-id"]
	assert.True(t, ok)
}

func TestReconcileSyncsOnlyModifiedNotes(t *testing.T) {
	m := NewManager(t.TempDir())
	graph := newFakeGraph()
	state := &memSyncState{}
	r := NewReconciler(m, graph, state)
	ctx := context.Background()

	t0 := time.Now().Add(-time.Hour)
	state.t, state.known = t0, true

	// Two notes edited after the last sync, one untouched before it.
	writeVaultNote(t, m, "concepts/Old.md", "# Old", t0.Add(-time.Minute))
	edited1 := writeVaultNote(t, m, "concepts/EditedOne.md", "# One", t0.Add(time.Minute))
	edited2 := writeVaultNote(t, m, "daily/EditedTwo.md", "# Two", t0.Add(2*time.Minute))

	result, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Synced)
	assert.Zero(t, result.Failed)

	assert.Contains(t, graph.merged, NoteID(edited1))
	assert.Contains(t, graph.merged, NoteID(edited2))
	assert.Len(t, graph.merged, 2)

	// Watermark advanced to at least the greatest observed mtime.
	last, known, err := state.LastSyncTime(ctx)
	require.NoError(t, err)
	require.True(t, known)
	assert.False(t, last.Before(t0.Add(2*time.Minute)))
}

func TestReconcileFirstRunSyncsEverything(t *testing.T) {
	m := NewManager(t.TempDir())
	graph := newFakeGraph()
	r := NewReconciler(m, graph, &memSyncState{})

	writeVaultNote(t, m, "concepts/A.md", "# A", time.Time{})
	writeVaultNote(t, m, "concepts/B.md", "# B", time.Time{})

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Len(t, graph.merged, 2)
}

func TestBatchSyncRejectsConcurrentRun(t *testing.T) {
	m := NewManager(t.TempDir())
	r := NewReconciler(m, newFakeGraph(), &memSyncState{})

	r.mu.Lock()
	r.status.IsRunning = true
	r.mu.Unlock()

	_, err := r.FullSync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	_, err = r.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
}
