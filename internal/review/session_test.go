package review

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

func newTestComposer(t *testing.T) (*Composer, *Store) {
	t.Helper()
	store := newTestStore(t)
	gen := NewGenerator(store, llm.NewFake(""), nil)
	c := NewComposer(store, NewScheduler(), gen, nil)
	return c, store
}

func seedDueCards(t *testing.T, store *Store, n int, tags ...string) {
	t.Helper()
	due := time.Now().UTC().AddDate(0, 0, -1)
	var cards []*types.Card
	for i := 0; i < n; i++ {
		cards = append(cards, testCard(fmt.Sprintf("card-%d", i), due, tags...))
	}
	require.NoError(t, store.SaveCards(context.Background(), cards))
}

func TestComposeCardsOverflowIntoExerciseTime(t *testing.T) {
	c, store := newTestComposer(t)
	seedDueCards(t, store, 10)

	// 15 minutes at 0.6 exercise ratio with no exercises available: cards
	// overflow into the exercise bucket but never past total time.
	sess, err := c.Compose(context.Background(), SessionRequest{
		DurationMinutes: 15,
		ContentMode:     ModeBoth,
		ExerciseSource:  SourceExistingOnly,
		CardSource:      SourceExistingOnly,
		ExerciseRatio:   0.6,
	})
	require.NoError(t, err)

	var cardCount, exerciseCount int
	for _, item := range sess.Items {
		switch item.Kind {
		case "card":
			cardCount++
		case "exercise":
			exerciseCount++
		}
	}
	assert.Zero(t, exerciseCount)
	assert.Equal(t, 7, cardCount)
}

func TestComposeCardsOnlyExcludesExercises(t *testing.T) {
	c, store := newTestComposer(t)
	seedDueCards(t, store, 3)
	require.NoError(t, store.SaveExercise(context.Background(), &types.Exercise{
		ID: "ex1", ExerciseType: types.ExerciseRecall, Topic: "ml",
		Prompt: "Explain dropout.", CreatedAt: time.Now().UTC(),
	}))

	sess, err := c.Compose(context.Background(), SessionRequest{
		DurationMinutes: 10,
		ContentMode:     ModeCardsOnly,
	})
	require.NoError(t, err)
	for _, item := range sess.Items {
		assert.Equal(t, "card", item.Kind)
	}
	assert.NotEmpty(t, sess.Items)
}

func TestComposeTopicFilterSelectsTaggedCards(t *testing.T) {
	c, store := newTestComposer(t)
	seedDueCards(t, store, 3, "ml")
	due := time.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, store.SaveCard(context.Background(), testCard("other", due, "cooking")))

	sess, err := c.Compose(context.Background(), SessionRequest{
		DurationMinutes: 30,
		ContentMode:     ModeCardsOnly,
		TopicFilter:     "ml",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.Items)
	for _, item := range sess.Items {
		assert.Contains(t, item.Card.Tags, "ml")
	}
}

func TestComposeEmptyWithTopicFilterErrors(t *testing.T) {
	c, _ := newTestComposer(t)

	_, err := c.Compose(context.Background(), SessionRequest{
		DurationMinutes: 10,
		ContentMode:     ModeCardsOnly,
		TopicFilter:     "quantum chemistry",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum chemistry")
}

func TestComposeEmptyWithoutFilterReturnsEmptySession(t *testing.T) {
	c, _ := newTestComposer(t)

	sess, err := c.Compose(context.Background(), SessionRequest{
		DurationMinutes: 10,
		ContentMode:     ModeCardsOnly,
	})
	require.NoError(t, err)
	assert.Empty(t, sess.Items)
}

func TestInterleaveWorkedExamplesLead(t *testing.T) {
	c, _ := newTestComposer(t)

	exercises := []*types.Exercise{
		{ID: "recall", ExerciseType: types.ExerciseRecall},
		{ID: "worked", ExerciseType: types.ExerciseWorkedExample},
	}
	cards := []*types.Card{
		{ID: "c1"}, {ID: "c2"}, {ID: "c3"},
	}

	items := c.interleave(cards, exercises)
	require.Len(t, items, 5)
	assert.Equal(t, "exercise", items[0].Kind)
	assert.Equal(t, "worked", items[0].Exercise.ID)

	// The remainder alternates card/exercise while both remain.
	assert.Equal(t, "card", items[1].Kind)
	assert.Equal(t, "exercise", items[2].Kind)
	assert.Equal(t, "card", items[3].Kind)
	assert.Equal(t, "card", items[4].Kind)
}

type recordingRecompute struct {
	topics []string
}

func (r *recordingRecompute) RecomputeTopics(_ context.Context, topics []string) error {
	r.topics = append(r.topics, topics...)
	return nil
}

func TestEndSessionAggregatesAttempts(t *testing.T) {
	c, store := newTestComposer(t)
	recompute := &recordingRecompute{}
	c.Recompute = recompute
	ctx := context.Background()

	seedDueCards(t, store, 2, "ml")
	sess, err := c.Compose(ctx, SessionRequest{
		DurationMinutes: 10,
		ContentMode:     ModeCardsOnly,
		TopicFilter:     "ml",
	})
	require.NoError(t, err)

	for i, score := range []float64{1.0, 0.5} {
		require.NoError(t, store.SaveAttempt(ctx, &types.ExerciseAttempt{
			ID:         fmt.Sprintf("a%d", i),
			ExerciseID: "ex",
			SessionID:  sess.ID,
			Score:      score,
			IsCorrect:  score >= 0.7,
			CreatedAt:  time.Now().UTC(),
		}))
	}

	ended, err := c.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, 1, ended.CorrectCount)
	assert.InDelta(t, 0.75, ended.AverageScore, 0.0001)
	assert.Equal(t, []string{"ml"}, recompute.topics)
}

func TestTimeBudgetOverflow(t *testing.T) {
	b := NewTimeBudget(10, 0.5)

	assert.True(t, b.FitsExercise(5, false))
	b.SpendExercise(5)
	assert.False(t, b.FitsExercise(5, false))
	// With overflow the exercise can consume the card bucket's time.
	assert.True(t, b.FitsExercise(5, true))
	b.SpendExercise(5)
	assert.False(t, b.FitsCard(2, true))
	assert.Zero(t, b.Remaining())
}
