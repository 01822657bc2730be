package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/recall/pkg/types"
)

func TestFirstReviewGood(t *testing.T) {
	s := NewScheduler()
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	card := &types.Card{ID: "c1", State: types.StateNew, DueDate: now}

	log := s.Review(card, types.RatingGood, now)

	assert.Equal(t, types.StateReview, card.State)
	assert.Greater(t, card.Stability, 0.0)
	assert.Greater(t, card.ScheduledDays, 0)
	assert.True(t, card.DueDate.After(now))
	assert.GreaterOrEqual(t, card.Difficulty, 1.0)
	assert.LessOrEqual(t, card.Difficulty, 10.0)
	assert.Equal(t, 1, card.TotalReviews)
	assert.Equal(t, 1, card.CorrectReviews)
	assert.NotNil(t, card.LastReviewed)

	assert.Equal(t, types.StateNew, log.StateBefore)
	assert.Equal(t, types.StateReview, log.StateAfter)
	assert.Equal(t, card.ScheduledDays, log.ScheduledDays)
}

func TestFirstReviewAgainStaysLearning(t *testing.T) {
	s := NewScheduler()
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	card := &types.Card{ID: "c1", State: types.StateNew, DueDate: now}

	s.Review(card, types.RatingAgain, now)

	assert.Equal(t, types.StateLearning, card.State)
	assert.Zero(t, card.ScheduledDays)
	assert.True(t, card.DueDate.Before(now.AddDate(0, 0, 1)))
	assert.Zero(t, card.CorrectReviews)
}

func TestLapseOnReviewCard(t *testing.T) {
	s := NewScheduler()
	last := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := last.AddDate(0, 0, 10)
	card := &types.Card{
		ID:           "c1",
		State:        types.StateReview,
		Stability:    10,
		Difficulty:   5,
		LastReviewed: &last,
	}

	log := s.Review(card, types.RatingAgain, now)

	assert.Equal(t, types.StateRelearning, card.State)
	assert.Equal(t, 1, card.Lapses)
	assert.Less(t, card.Stability, 10.0)
	assert.Zero(t, card.ScheduledDays)
	assert.Equal(t, types.StateReview, log.StateBefore)
	assert.Equal(t, types.StateRelearning, log.StateAfter)
}

func TestGoodReviewGrowsStability(t *testing.T) {
	s := NewScheduler()
	last := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := last.AddDate(0, 0, 5)
	card := &types.Card{
		ID:           "c1",
		State:        types.StateReview,
		Stability:    5,
		Difficulty:   5,
		LastReviewed: &last,
	}

	s.Review(card, types.RatingGood, now)

	assert.Equal(t, types.StateReview, card.State)
	assert.Greater(t, card.Stability, 5.0)
	assert.Greater(t, card.ScheduledDays, 0)
}

func TestRetrievability(t *testing.T) {
	s := NewScheduler()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	fresh := &types.Card{ID: "new", State: types.StateNew}
	assert.Equal(t, 1.0, s.Retrievability(fresh, now))

	// At t = stability, retention sits at the 0.9 baseline.
	last := now.AddDate(0, 0, -10)
	seasoned := &types.Card{ID: "r", State: types.StateReview, Stability: 10, LastReviewed: &last}
	assert.InDelta(t, 0.9, s.Retrievability(seasoned, now), 0.001)
}

func TestIntervalCap(t *testing.T) {
	s := NewScheduler()
	assert.Equal(t, 365, s.nextInterval(100000))
	assert.Equal(t, 1, s.nextInterval(0.01))
}

func TestForecastBucketsExcludeNew(t *testing.T) {
	s := NewScheduler()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -5)
	reviewed := func(due time.Time) *types.Card {
		return &types.Card{State: types.StateReview, DueDate: due, LastReviewed: &last}
	}
	cards := []*types.Card{
		{State: types.StateNew, DueDate: now},
		reviewed(now.AddDate(0, 0, -2)), // overdue
		reviewed(now.Add(time.Hour)),    // today
		reviewed(now.AddDate(0, 0, 1)),  // tomorrow
		reviewed(now.AddDate(0, 0, 4)),  // this week
		reviewed(now.AddDate(0, 0, 30)), // later
	}

	buckets := s.Forecast(cards, now)

	assert.Equal(t, 1, buckets[BucketOverdue])
	assert.Equal(t, 1, buckets[BucketToday])
	assert.Equal(t, 1, buckets[BucketTomorrow])
	assert.Equal(t, 1, buckets[BucketThisWeek])
	assert.Equal(t, 1, buckets[BucketLater])
}
