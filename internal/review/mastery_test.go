package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

func newTestMastery(t *testing.T) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewService(store, NewScheduler()), store
}

// reviewedCard builds a review-state card with the given history.
func reviewedCard(id, tag string, stability float64, total, correct int, last time.Time) *types.Card {
	card := testCard(id, last.AddDate(0, 0, 1), tag)
	card.State = types.StateReview
	card.Stability = stability
	card.TotalReviews = total
	card.CorrectReviews = correct
	card.LastReviewed = &last
	return card
}

func TestMasteryScoreFormula(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -2)

	// 8/10 success, average stability 15 of a 30-day horizon:
	// 0.6*0.8 + 0.4*0.5 = 0.68.
	require.NoError(t, store.SaveCards(ctx, []*types.Card{
		reviewedCard("a", "ml", 10, 5, 4, last),
		reviewedCard("b", "ml", 20, 5, 4, last),
	}))

	topics, err := svc.ComputeAll(ctx, now)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	tm := topics[0]
	assert.Equal(t, "ml", tm.Topic)
	assert.InDelta(t, 0.8, tm.SuccessRate, 0.0001)
	assert.InDelta(t, 15, tm.AvgStability, 0.0001)
	assert.InDelta(t, 0.68, tm.MasteryScore, 0.0001)
	assert.Equal(t, 2, tm.DaysSinceReview)
}

func TestMasteryStabilityClipsAtHorizon(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveCard(ctx,
		reviewedCard("a", "ml", 200, 10, 10, now.AddDate(0, 0, -1))))

	topics, err := svc.ComputeAll(ctx, now)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	// 0.6*1.0 + 0.4*min(200/30, 1) = 1.0.
	assert.InDelta(t, 1.0, topics[0].MasteryScore, 0.0001)
}

func TestMasteryMinAttemptsGate(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveCard(ctx,
		reviewedCard("a", "ml", 20, 2, 2, now.AddDate(0, 0, -1))))

	topics, err := svc.ComputeAll(ctx, now)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Zero(t, topics[0].MasteryScore)
	assert.InDelta(t, 1.0, topics[0].SuccessRate, 0.0001)
}

func TestWeakSpotsDecliningFirst(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Now().UTC()
	last := now.AddDate(0, 0, -1)

	// Both topics are weak; "slipping" had a much higher previous snapshot.
	require.NoError(t, store.SaveCards(ctx, []*types.Card{
		reviewedCard("a", "slipping", 3, 10, 4, last), // score 0.28
		reviewedCard("b", "flat", 2, 10, 2, last),     // score 0.147
	}))
	require.NoError(t, store.SaveSnapshot(ctx, &types.MasterySnapshot{
		SnapshotDate: now.AddDate(0, 0, -3), TopicPath: "slipping",
		MasteryScore: 0.6, Trend: types.TrendStable,
	}))
	require.NoError(t, store.SaveSnapshot(ctx, &types.MasterySnapshot{
		SnapshotDate: now.AddDate(0, 0, -3), TopicPath: "flat",
		MasteryScore: 0.15, Trend: types.TrendStable,
	}))

	spots, err := svc.WeakSpots(ctx, now)
	require.NoError(t, err)
	require.Len(t, spots, 2)
	// Declining comes before the lower-mastery stable topic.
	assert.Equal(t, "slipping", spots[0].Topic)
	assert.Equal(t, types.TrendDeclining, spots[0].Trend)
	assert.Equal(t, "flat", spots[1].Topic)
	assert.NotEmpty(t, spots[0].Recommendation)
	assert.NotEmpty(t, spots[0].SuggestedExerciseTypes)
}

func TestOverviewCountsAndStreak(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Now().UTC()
	last := now.AddDate(0, 0, -1)

	fresh := testCard("new", now, "ml")
	mastered := reviewedCard("mastered", "ml", 40, 5, 5, last)
	learning := reviewedCard("learning", "ml", 3, 5, 3, last)
	require.NoError(t, store.SaveCards(ctx, []*types.Card{fresh, mastered, learning}))

	// Reviews today and yesterday, then a gap.
	for _, at := range []time.Time{now, now.AddDate(0, 0, -1), now.AddDate(0, 0, -3)} {
		require.NoError(t, store.SaveReviewLog(ctx, &types.ReviewLog{
			CardID: "mastered", Rating: types.RatingGood,
			StateBefore: types.StateReview, StateAfter: types.StateReview,
			ReviewedAt: at,
		}))
	}

	ov, err := svc.BuildOverview(ctx, now, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, ov.TotalCards)
	assert.Equal(t, 1, ov.CardsNew)
	assert.Equal(t, 1, ov.CardsMastered)
	assert.Equal(t, 1, ov.CardsLearning)
	assert.Equal(t, 2, ov.PracticeStreak)
	require.Len(t, ov.TopTopics, 1)
}

func TestSnapshotDailyIsIdempotent(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveCard(ctx,
		reviewedCard("a", "ml", 10, 5, 4, now.AddDate(0, 0, -1))))

	saved, err := svc.SnapshotDaily(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	// Second run the same day replaces rather than duplicates.
	_, err = svc.SnapshotDaily(ctx, now)
	require.NoError(t, err)

	series, err := store.SnapshotsSince(ctx, "ml", now.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, series, 1)
}

func TestCurveTrendAndProjection(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, score := range []float64{0.2, 0.35, 0.5} {
		require.NoError(t, store.SaveSnapshot(ctx, &types.MasterySnapshot{
			SnapshotDate: now.AddDate(0, 0, -20+i*10),
			TopicPath:    "ml",
			MasteryScore: score,
		}))
	}

	curve, err := svc.Curve(ctx, "ml", 30)
	require.NoError(t, err)
	require.Len(t, curve.Points, 3)
	assert.Equal(t, types.TrendImproving, curve.Trend)
	require.NotEmpty(t, curve.Projected)
	for _, p := range curve.Projected {
		assert.True(t, p.Date.After(curve.Points[2].Date))
		assert.GreaterOrEqual(t, p.Score, curve.Points[2].Score)
		assert.LessOrEqual(t, p.Score, 1.0)
	}
}

func TestRecomputeTopicsWritesSnapshots(t *testing.T) {
	svc, store := newTestMastery(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveCards(ctx, []*types.Card{
		reviewedCard("a", "ml", 10, 5, 4, now.AddDate(0, 0, -1)),
		reviewedCard("b", "cooking", 10, 5, 4, now.AddDate(0, 0, -1)),
	}))

	require.NoError(t, svc.RecomputeTopics(ctx, []string{"ml"}))

	got, err := store.LatestSnapshot(ctx, "ml")
	require.NoError(t, err)
	require.NotNil(t, got)

	none, err := store.LatestSnapshot(ctx, "cooking")
	require.NoError(t, err)
	assert.Nil(t, none)
}
