package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

func TestGenerateFromRun(t *testing.T) {
	store := newTestStore(t)
	gen := NewGenerator(store, llm.NewFake(""), nil)
	ctx := context.Background()

	record := &types.ContentRecord{
		ContentUUID: "content-1",
		Tags:        []string{"ml", "transformers"},
	}
	run := &types.ProcessingRun{
		Extraction: &types.Extraction{
			Concepts: []types.Concept{
				{
					Name:           "Attention",
					CanonicalName:  "attention",
					Definition:     "Weighted aggregation over a sequence.",
					WhyItMatters:   "It removed recurrence from sequence models.",
					Examples:       []string{"self-attention", "cross-attention", "sparse attention"},
					Misconceptions: []string{"Attention weights are explanations."},
					Properties:     []string{"permutation-aware", "quadratic cost", "parallelizable"},
					Importance:     types.ImportanceCore,
				},
				{Name: "No definition", CanonicalName: "no definition"},
			},
		},
	}

	n, err := gen.GenerateFromRun(ctx, record, run)
	require.NoError(t, err)
	// definition + why-it-matters + 2 examples (capped) + 1 misconception +
	// properties (>= threshold of 3).
	assert.Equal(t, 6, n)

	cards, err := store.AllCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 6)

	counts := map[types.CardType]int{}
	for _, card := range cards {
		counts[card.CardType]++
		assert.Equal(t, types.StateNew, card.State)
		assert.Equal(t, "content-1", card.SourceContentUUID)
		assert.Equal(t, "attention", card.SourceConcept)
		assert.Equal(t, []string{"ml", "transformers"}, card.Tags)
		assert.False(t, card.DueDate.After(time.Now().UTC()))
	}
	assert.Equal(t, 1, counts[types.CardDefinition])
	assert.Equal(t, 1, counts[types.CardApplication])
	assert.Equal(t, 2, counts[types.CardExample])
	assert.Equal(t, 1, counts[types.CardMisconception])
	assert.Equal(t, 1, counts[types.CardProperties])
}

func TestGenerateFromRunNoExtraction(t *testing.T) {
	store := newTestStore(t)
	gen := NewGenerator(store, llm.NewFake(""), nil)

	n, err := gen.GenerateFromRun(context.Background(),
		&types.ContentRecord{ContentUUID: "c"}, &types.ProcessingRun{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerateTopicCards(t *testing.T) {
	store := newTestStore(t)
	fake := llm.NewFake("")
	fake.JSONResponses = []string{`{"cards": [
		{"card_type": "definition", "front": "What is backprop?", "back": "Gradient computation by the chain rule.", "difficulty": "foundational"},
		{"card_type": "bogus_type", "front": "Q", "back": "A", "difficulty": "advanced"},
		{"card_type": "example", "front": "", "back": "dropped"}
	]}`}
	gen := NewGenerator(store, fake, nil)

	cards, err := gen.GenerateTopicCards(context.Background(), "backpropagation", 3)
	require.NoError(t, err)
	require.Len(t, cards, 2)

	assert.Equal(t, types.CardDefinition, cards[0].CardType)
	assert.InDelta(t, 3, cards[0].Difficulty, 0.0001)
	assert.Equal(t, []string{"backpropagation"}, cards[0].Tags)
	// Unknown card types fall back to definition.
	assert.Equal(t, types.CardDefinition, cards[1].CardType)
	assert.InDelta(t, 7, cards[1].Difficulty, 0.0001)

	stored, err := store.AllCards(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestGenerateExerciseMatchesMastery(t *testing.T) {
	store := newTestStore(t)
	fake := llm.NewFake("")
	fake.JSONResponses = []string{`{
		"prompt": "Trace gradient descent on f(x)=x^2 starting at x=4.",
		"hints": ["compute the derivative first"],
		"expected_key_points": ["gradient", "learning rate"],
		"worked_example": "Step 1: f'(x) = 2x...",
		"follow_up_problem": "Repeat for f(x)=x^3.",
		"estimated_time_minutes": 6
	}`}
	gen := NewGenerator(store, fake, nil)

	ex, err := gen.GenerateExercise(context.Background(), "gradient descent", 0.1)
	require.NoError(t, err)
	assert.Equal(t, types.ExerciseWorkedExample, ex.ExerciseType)
	assert.Equal(t, types.DifficultyFoundational, ex.Difficulty)
	assert.NotEmpty(t, ex.WorkedExample)

	stored, err := store.ExercisesByTopic(context.Background(), "gradient", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestGenerateExerciseRejectsInvalidOutput(t *testing.T) {
	store := newTestStore(t)
	fake := llm.NewFake("")
	// Worked-example exercise without a worked example.
	fake.JSONResponses = []string{`{"prompt": "Do the thing."}`}
	gen := NewGenerator(store, fake, nil)

	_, err := gen.GenerateExercise(context.Background(), "sorting", 0.1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exercise")

	stored, err := store.ExercisesByTopic(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestExerciseTypeForMastery(t *testing.T) {
	exType, diff := exerciseTypeForMastery(0.1)
	assert.Equal(t, types.ExerciseWorkedExample, exType)
	assert.Equal(t, types.DifficultyFoundational, diff)

	exType, diff = exerciseTypeForMastery(0.5)
	assert.Equal(t, types.ExerciseRecall, exType)
	assert.Equal(t, types.DifficultyIntermediate, diff)

	exType, diff = exerciseTypeForMastery(0.9)
	assert.Equal(t, types.ExerciseCodeDebug, exType)
	assert.Equal(t, types.DifficultyAdvanced, diff)
}
