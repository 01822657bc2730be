package review

import (
	"math"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// Scheduler implements the FSRS spaced-repetition algorithm over card state.
// Stability is measured in days; difficulty lives in [1, 10].
type Scheduler struct {
	// RequestRetention is the target recall probability at the scheduled
	// review time.
	RequestRetention float64

	// MaximumInterval caps scheduled intervals, in days.
	MaximumInterval int

	w [17]float64
}

// defaultWeights are the published FSRS-4.5 defaults.
var defaultWeights = [17]float64{
	0.4872, 1.4003, 3.7145, 13.8206, 5.1618, 1.2298, 0.8975, 0.031,
	1.6474, 0.1367, 1.0461, 2.1072, 0.0793, 0.3246, 1.587, 0.2272, 2.8755,
}

// NewScheduler returns a scheduler with default retention 0.9 and a 365-day
// interval cap.
func NewScheduler() *Scheduler {
	return &Scheduler{
		RequestRetention: 0.9,
		MaximumInterval:  365,
		w:                defaultWeights,
	}
}

// relearnDelay is the same-day retry delay after Again.
const relearnDelay = 10 * time.Minute

// Review applies a rating to the card at the given time, mutating it in
// place, and returns the transition log. A never-reviewed card gets its
// initial difficulty and stability from the rating; a lapsed review-state
// card (Again) moves to relearning with reduced stability.
func (s *Scheduler) Review(card *types.Card, rating types.Rating, now time.Time) types.ReviewLog {
	log := types.ReviewLog{
		CardID:           card.ID,
		Rating:           rating,
		StateBefore:      card.State,
		StabilityBefore:  card.Stability,
		DifficultyBefore: card.Difficulty,
		ReviewedAt:       now,
	}

	if card.IsNew() {
		card.Stability = s.initStability(rating)
		card.Difficulty = s.initDifficulty(rating)
		switch rating {
		case types.RatingAgain:
			card.State = types.StateLearning
			card.DueDate = now.Add(relearnDelay)
			card.ScheduledDays = 0
		case types.RatingHard:
			card.State = types.StateLearning
			card.DueDate = now.AddDate(0, 0, 1)
			card.ScheduledDays = 1
		default:
			card.State = types.StateReview
			card.ScheduledDays = s.nextInterval(card.Stability)
			card.DueDate = now.AddDate(0, 0, card.ScheduledDays)
		}
	} else {
		elapsed := now.Sub(*card.LastReviewed).Hours() / 24
		retr := s.decay(elapsed, card.Stability)
		card.Difficulty = s.nextDifficulty(card.Difficulty, rating)

		switch {
		case card.State == types.StateReview && rating == types.RatingAgain:
			// Lapse.
			card.Lapses++
			card.State = types.StateRelearning
			card.Stability = s.lapseStability(card.Difficulty, card.Stability, retr)
			card.DueDate = now.Add(relearnDelay)
			card.ScheduledDays = 0
		case rating == types.RatingAgain:
			card.DueDate = now.Add(relearnDelay)
			card.ScheduledDays = 0
		default:
			card.Stability = s.successStability(card.Difficulty, card.Stability, retr, rating)
			card.State = types.StateReview
			card.ScheduledDays = s.nextInterval(card.Stability)
			card.DueDate = now.AddDate(0, 0, card.ScheduledDays)
		}
	}

	t := now
	card.LastReviewed = &t
	card.Repetitions++
	card.TotalReviews++
	if rating >= types.RatingGood {
		card.CorrectReviews++
	}
	card.UpdatedAt = now

	log.StateAfter = card.State
	log.StabilityAfter = card.Stability
	log.DifficultyAfter = card.Difficulty
	log.ScheduledDays = card.ScheduledDays
	return log
}

// Retrievability estimates the recall probability of a card at time now.
// A never-reviewed card is 1.0 by definition.
func (s *Scheduler) Retrievability(card *types.Card, now time.Time) float64 {
	if card.IsNew() {
		return 1.0
	}
	elapsed := now.Sub(*card.LastReviewed).Hours() / 24
	return s.decay(elapsed, card.Stability)
}

// decay is the forgetting curve: retention falls exponentially in elapsed
// time, hitting RequestRetention's 0.9 baseline exactly at t = stability.
func (s *Scheduler) decay(elapsedDays, stability float64) float64 {
	if elapsedDays <= 0 {
		return 1.0
	}
	if stability <= 0 {
		return 0
	}
	return math.Exp(math.Log(0.9) * elapsedDays / stability)
}

// nextInterval solves the forgetting curve for the time at which retention
// drops to the target, clamped to [1, MaximumInterval] days.
func (s *Scheduler) nextInterval(stability float64) int {
	interval := stability * math.Log(s.RequestRetention) / math.Log(0.9)
	days := int(math.Round(interval))
	if days < 1 {
		days = 1
	}
	if days > s.MaximumInterval {
		days = s.MaximumInterval
	}
	return days
}

func (s *Scheduler) initStability(r types.Rating) float64 {
	st := s.w[r-1]
	if st < 0.1 {
		st = 0.1
	}
	return st
}

func (s *Scheduler) initDifficulty(r types.Rating) float64 {
	return clampDifficulty(s.w[4] - float64(r-3)*s.w[5])
}

// nextDifficulty moves difficulty by the rating and applies mean reversion
// toward the Good-rating baseline.
func (s *Scheduler) nextDifficulty(d float64, r types.Rating) float64 {
	next := d - s.w[6]*float64(r-3)
	reverted := s.w[7]*s.initDifficulty(types.RatingGood) + (1-s.w[7])*next
	return clampDifficulty(reverted)
}

// successStability grows stability after a successful review. Growth is
// larger for easier cards, lower current stability, and lower retrievability
// at review time.
func (s *Scheduler) successStability(d, stability, retr float64, r types.Rating) float64 {
	hardPenalty := 1.0
	if r == types.RatingHard {
		hardPenalty = s.w[15]
	}
	easyBonus := 1.0
	if r == types.RatingEasy {
		easyBonus = s.w[16]
	}
	factor := math.Exp(s.w[8]) *
		(11 - d) *
		math.Pow(stability, -s.w[9]) *
		(math.Exp((1-retr)*s.w[10]) - 1) *
		hardPenalty * easyBonus
	return stability * (1 + factor)
}

// lapseStability computes the post-lapse stability, never exceeding the
// pre-lapse value.
func (s *Scheduler) lapseStability(d, stability, retr float64) float64 {
	next := s.w[11] *
		math.Pow(d, -s.w[12]) *
		(math.Pow(stability+1, s.w[13]) - 1) *
		math.Exp((1-retr)*s.w[14])
	if next > stability {
		next = stability
	}
	if next < 0.1 {
		next = 0.1
	}
	return next
}

func clampDifficulty(d float64) float64 {
	if d < 1 {
		return 1
	}
	if d > 10 {
		return 10
	}
	return d
}

// Forecast bucket names, ordered by due-date distance.
const (
	BucketOverdue  = "overdue"
	BucketToday    = "today"
	BucketTomorrow = "tomorrow"
	BucketThisWeek = "this_week"
	BucketLater    = "later"
)

// Forecast buckets non-new cards by how far out they are due. New cards have
// no meaningful due distance and are excluded.
func (s *Scheduler) Forecast(cards []*types.Card, now time.Time) map[string]int {
	buckets := map[string]int{
		BucketOverdue:  0,
		BucketToday:    0,
		BucketTomorrow: 0,
		BucketThisWeek: 0,
		BucketLater:    0,
	}
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, card := range cards {
		if card.State == types.StateNew || card.IsNew() {
			continue
		}
		due := card.DueDate
		switch {
		case due.Before(startOfToday):
			buckets[BucketOverdue]++
		case due.Before(startOfToday.AddDate(0, 0, 1)):
			buckets[BucketToday]++
		case due.Before(startOfToday.AddDate(0, 0, 2)):
			buckets[BucketTomorrow]++
		case due.Before(startOfToday.AddDate(0, 0, 7)):
			buckets[BucketThisWeek]++
		default:
			buckets[BucketLater]++
		}
	}
	return buckets
}
