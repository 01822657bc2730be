package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	store := NewStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(mutate func(*types.ContentRecord)) *types.ContentRecord {
	record := &types.ContentRecord{
		ContentUUID: uuid.NewString(),
		SourceType:  types.SourceArticle,
		Title:       "Attention Is All You Need",
		Authors:     []string{"Vaswani", "Shazeer"},
		SourceURL:   "https://example.com/papers/attention",
		FullText:    "The dominant sequence transduction models...",
		Tags:        []string{"ml/transformers"},
		Metadata:    map[string]interface{}{"word_count": float64(4200)},
	}
	if mutate != nil {
		mutate(record)
	}
	return record
}

func TestSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord(func(r *types.ContentRecord) {
		r.Annotations = []types.Annotation{
			{Type: types.AnnotationDigitalHighlight, Content: "multi-head attention", PageNumber: 3, Confidence: 0.92},
			{Type: types.AnnotationHandwrittenNote, Content: "compare with RNN baselines", Confidence: 0.7},
		}
	})

	result, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.False(t, result.Deduped)
	assert.Equal(t, record.ContentUUID, result.UUID)

	loaded, err := store.Load(ctx, record.ContentUUID)
	require.NoError(t, err)

	assert.Equal(t, record.ContentUUID, loaded.ContentUUID)
	assert.Equal(t, record.Title, loaded.Title)
	assert.Equal(t, record.Authors, loaded.Authors)
	assert.Equal(t, record.Tags, loaded.Tags)
	assert.Equal(t, types.StatusPending, loaded.ProcessingStatus)
	require.Len(t, loaded.Annotations, 2)
	assert.Equal(t, "multi-head attention", loaded.Annotations[0].Content)
	assert.Equal(t, 3, loaded.Annotations[0].PageNumber)
	assert.Nil(t, loaded.ProcessedAt)
}

func TestLoadNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, nil)
	assert.ErrorIs(t, err, contentstore.ErrInvalidInput)

	_, err = store.Save(ctx, testRecord(func(r *types.ContentRecord) { r.ContentUUID = "" }))
	assert.ErrorIs(t, err, contentstore.ErrInvalidInput)

	_, err = store.Save(ctx, testRecord(func(r *types.ContentRecord) { r.SourceType = "scroll" }))
	assert.ErrorIs(t, err, contentstore.ErrInvalidInput)
}

func TestSaveDedupByFileHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testRecord(func(r *types.ContentRecord) {
		r.SourceType = types.SourcePaper
		r.SourceURL = ""
		r.SourceFilePath = "/inbox/attention.pdf"
		r.RawFileHash = "sha256:abc123"
	})
	result, err := store.Save(ctx, first)
	require.NoError(t, err)
	require.False(t, result.Deduped)

	second := testRecord(func(r *types.ContentRecord) {
		r.SourceType = types.SourcePaper
		r.SourceURL = ""
		r.SourceFilePath = "/inbox/attention-copy.pdf"
		r.RawFileHash = "sha256:abc123"
	})
	result, err = store.Save(ctx, second)
	require.NoError(t, err)
	assert.True(t, result.Deduped)
	assert.Equal(t, first.ContentUUID, result.UUID)
	assert.Equal(t, first.ContentUUID, result.ExistingUUID)

	// The duplicate was never inserted.
	_, err = store.Load(ctx, second.ContentUUID)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
}

func TestSaveDedupByNormalizedURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testRecord(func(r *types.ContentRecord) {
		r.SourceURL = "https://example.com/Post/"
	})
	result, err := store.Save(ctx, first)
	require.NoError(t, err)
	require.False(t, result.Deduped)

	// Fragment, trailing slash, and case differences collapse to one URL.
	second := testRecord(func(r *types.ContentRecord) {
		r.SourceURL = "https://example.com/post#section-2"
	})
	result, err = store.Save(ctx, second)
	require.NoError(t, err)
	assert.True(t, result.Deduped)
	assert.Equal(t, first.ContentUUID, result.ExistingUUID)
}

func TestSaveDedupIgnoresFailedRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testRecord(nil)
	_, err := store.Save(ctx, first)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, first.ContentUUID, types.StatusFailed))

	// A failed record does not block re-ingestion of the same URL.
	second := testRecord(nil)
	result, err := store.Save(ctx, second)
	require.NoError(t, err)
	assert.False(t, result.Deduped)
	assert.Equal(t, second.ContentUUID, result.UUID)
}

func TestUpdateStatusStampsProcessedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord(nil)
	_, err := store.Save(ctx, record)
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, record.ContentUUID, types.StatusProcessing))
	loaded, err := store.Load(ctx, record.ContentUUID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, loaded.ProcessingStatus)
	assert.Nil(t, loaded.ProcessedAt)

	require.NoError(t, store.UpdateStatus(ctx, record.ContentUUID, types.StatusProcessed))
	loaded, err = store.Load(ctx, record.ContentUUID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessed, loaded.ProcessingStatus)
	require.NotNil(t, loaded.ProcessedAt)
	assert.WithinDuration(t, time.Now().UTC(), *loaded.ProcessedAt, time.Minute)
}

func TestUpdateStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateStatus(context.Background(), uuid.NewString(), types.StatusProcessed)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
}

func TestUpdateContentReplacesAnnotations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord(func(r *types.ContentRecord) {
		r.Annotations = []types.Annotation{{Type: types.AnnotationUnderline, Content: "old"}}
	})
	_, err := store.Save(ctx, record)
	require.NoError(t, err)

	record.Title = "Attention Is All You Need (annotated)"
	record.VaultPath = "Papers/Attention Is All You Need.md"
	record.Annotations = []types.Annotation{
		{Type: types.AnnotationTypedComment, Content: "new one"},
		{Type: types.AnnotationDiagram, Content: "architecture sketch", PageNumber: 5},
	}
	require.NoError(t, store.UpdateContent(ctx, record))

	loaded, err := store.Load(ctx, record.ContentUUID)
	require.NoError(t, err)
	assert.Equal(t, "Attention Is All You Need (annotated)", loaded.Title)
	assert.Equal(t, "Papers/Attention Is All You Need.md", loaded.VaultPath)
	require.Len(t, loaded.Annotations, 2)
	assert.Equal(t, "new one", loaded.Annotations[0].Content)
}

func TestGetPendingOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var uuids []string
	for i := 0; i < 3; i++ {
		record := testRecord(func(r *types.ContentRecord) {
			r.SourceURL = ""
			r.IngestedAt = base.Add(time.Duration(i) * time.Minute)
		})
		_, err := store.Save(ctx, record)
		require.NoError(t, err)
		uuids = append(uuids, record.ContentUUID)
	}

	// Processed records drop out of the pending list.
	require.NoError(t, store.UpdateStatus(ctx, uuids[1], types.StatusProcessed))

	pending, err := store.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uuids[0], pending[0].ContentUUID)
	assert.Equal(t, uuids[2], pending[1].ContentUUID)
}

func TestSaveRunAndLatestRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord(nil)
	_, err := store.Save(ctx, record)
	require.NoError(t, err)

	older := &types.ProcessingRun{
		ContentUUID: record.ContentUUID,
		Status:      types.RunFailed,
		Error:       "rate limited",
		StartedAt:   time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.SaveRun(ctx, older))

	newer := &types.ProcessingRun{
		ContentUUID: record.ContentUUID,
		Status:      types.RunCompleted,
		Analysis:    &types.ContentAnalysis{ContentType: "paper", Domain: "machine learning", HasMath: true},
		Summaries:   map[types.SummaryLevel]string{types.SummaryBrief: "Introduces the transformer."},
		Extraction: &types.Extraction{
			Concepts: []types.Concept{{
				Name:          "Self-Attention",
				CanonicalName: "self-attention",
				Definition:    "Attention over a sequence against itself.",
				Importance:    types.ImportanceCore,
			}},
		},
		Connections: []types.Connection{{
			SourceContent:    record.ContentUUID,
			TargetContent:    uuid.NewString(),
			RelationshipType: types.RelExtends,
			Strength:         0.8,
		}},
		Questions: []types.Question{{Prompt: "What does self-attention compute?"}},
		Followups: []types.Followup{{Description: "Read the BERT paper", Kind: "reading"}},
		Model:     "gpt-4o-mini",
		CostUSD:   0.0123,
		LatencyMS: 4200,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveRun(ctx, newer))
	assert.NotZero(t, newer.ID)

	latest, err := store.LatestRun(ctx, record.ContentUUID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, latest.Status)
	assert.Equal(t, "gpt-4o-mini", latest.Model)
	require.NotNil(t, latest.Analysis)
	assert.True(t, latest.Analysis.HasMath)
	require.NotNil(t, latest.Extraction)
	require.Len(t, latest.Extraction.Concepts, 1)
	assert.Equal(t, "self-attention", latest.Extraction.Concepts[0].CanonicalName)
	assert.Equal(t, "Introduces the transformer.", latest.Summaries[types.SummaryBrief])
}

func TestLatestRunNoRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord(nil)
	_, err := store.Save(ctx, record)
	require.NoError(t, err)

	_, err = store.LatestRun(ctx, record.ContentUUID)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
}

func TestDeleteRunsCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord(nil)
	_, err := store.Save(ctx, record)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		run := &types.ProcessingRun{
			ContentUUID: record.ContentUUID,
			Status:      types.RunCompleted,
			Extraction: &types.Extraction{
				Concepts: []types.Concept{{Name: "X", CanonicalName: "x", Importance: types.ImportanceSupporting}},
			},
			StartedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveRun(ctx, run))
	}

	n, err := store.DeleteRuns(ctx, record.ContentUUID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.LatestRun(ctx, record.ContentUUID)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)

	var orphans int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM concept_records`).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestDeleteRemovesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord(func(r *types.ContentRecord) {
		r.Annotations = []types.Annotation{{Type: types.AnnotationDigitalHighlight, Content: "hl"}}
	})
	_, err := store.Save(ctx, record)
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, &types.ProcessingRun{
		ContentUUID: record.ContentUUID,
		Status:      types.RunCompleted,
		Questions:   []types.Question{{Prompt: "?"}},
		StartedAt:   time.Now().UTC(),
	}))

	require.NoError(t, store.Delete(ctx, record.ContentUUID))

	_, err = store.Load(ctx, record.ContentUUID)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)

	for _, table := range []string{"annotations", "processing_runs", "question_records"} {
		var n int
		require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
		assert.Zero(t, n, table)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://Example.com/Post/":          "https://example.com/post",
		"https://example.com/post#frag":      "https://example.com/post",
		"https://example.com/post?q=1#x":     "https://example.com/post?q=1",
		"":                                   "",
		"  https://example.com/a  ":          "https://example.com/a",
	}
	for input, want := range cases {
		assert.Equal(t, want, contentstore.NormalizeURL(input), input)
	}
}
