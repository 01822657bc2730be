package review

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// Mastery tuning constants.
const (
	// stabilityHorizonDays normalizes average stability into [0, 1].
	stabilityHorizonDays = 30.0

	// minAttempts gates mastery: below it the score is 0.
	minAttempts = 3

	// weakThreshold marks a topic as a weak spot.
	weakThreshold = 0.5

	// trendDelta is the minimum snapshot-to-snapshot change that counts as
	// movement.
	trendDelta = 0.05

	// masteredStabilityDays is the stability at which a card counts as
	// mastered in the overview.
	masteredStabilityDays = 21.0

	// streakWindowDays bounds how far back the practice streak looks.
	streakWindowDays = 365
)

// TopicMastery is the aggregate for one topic.
type TopicMastery struct {
	Topic           string     `json:"topic"`
	MasteryScore    float64    `json:"mastery_score"`
	SuccessRate     float64    `json:"success_rate"`
	AvgStability    float64    `json:"avg_stability"`
	Attempts        int        `json:"attempts"`
	CardCount       int        `json:"card_count"`
	Trend           types.Trend `json:"trend"`
	LastPracticed   *time.Time `json:"last_practiced,omitempty"`
	DaysSinceReview int        `json:"days_since_review"`
}

// WeakSpot is a below-threshold topic with guidance attached.
type WeakSpot struct {
	TopicMastery
	Recommendation         string               `json:"recommendation"`
	SuggestedExerciseTypes []types.ExerciseType `json:"suggested_exercise_types"`
}

// Overview is the top-level review dashboard.
type Overview struct {
	TotalCards     int            `json:"total_cards"`
	CardsMastered  int            `json:"cards_mastered"`
	CardsLearning  int            `json:"cards_learning"`
	CardsNew       int            `json:"cards_new"`
	TopTopics      []TopicMastery `json:"top_topics"`
	AverageMastery float64        `json:"average_mastery"`
	PracticeStreak int            `json:"practice_streak_days"`
}

// CurvePoint is one sample on a topic's learning curve.
type CurvePoint struct {
	Date  time.Time `json:"date"`
	Score float64   `json:"score"`
}

// LearningCurve is a topic's snapshot time series plus a linear projection.
type LearningCurve struct {
	Topic     string       `json:"topic"`
	Points    []CurvePoint `json:"points"`
	Trend     types.Trend  `json:"trend"`
	Projected []CurvePoint `json:"projected,omitempty"`
}

// Service computes per-topic mastery over the card population. All
// aggregation fetches the cards once and groups in memory; there are no
// per-topic queries.
type Service struct {
	store *Store
	fsrs  *Scheduler
}

// NewService wires a mastery service.
func NewService(store *Store, fsrs *Scheduler) *Service {
	return &Service{store: store, fsrs: fsrs}
}

// ComputeAll aggregates mastery for every topic, sorted by descending score.
func (s *Service) ComputeAll(ctx context.Context, now time.Time) ([]TopicMastery, error) {
	cards, err := s.store.AllCards(ctx)
	if err != nil {
		return nil, err
	}
	byTopic := explodeByTag(cards)

	var out []TopicMastery
	for topic, group := range byTopic {
		tm := s.aggregate(topic, group, now)
		prev, err := s.store.LatestSnapshot(ctx, topic)
		if err == nil && prev != nil {
			tm.Trend = trendFrom(prev.MasteryScore, tm.MasteryScore)
		}
		out = append(out, tm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MasteryScore != out[j].MasteryScore {
			return out[i].MasteryScore > out[j].MasteryScore
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

// TopicScore returns a single topic's current mastery. Satisfies the session
// composer's MasteryLookup.
func (s *Service) TopicScore(ctx context.Context, topic string) (float64, error) {
	cards, err := s.store.AllCards(ctx)
	if err != nil {
		return 0, err
	}
	group := explodeByTag(cards)[topic]
	tm := s.aggregate(topic, group, time.Now().UTC())
	return tm.MasteryScore, nil
}

// aggregate computes the 60/40 success-rate/stability score for one topic.
// Mastery stays 0 until the minimum attempt count is reached.
func (s *Service) aggregate(topic string, cards []*types.Card, now time.Time) TopicMastery {
	tm := TopicMastery{Topic: topic, Trend: types.TrendStable, CardCount: len(cards)}

	var total, correct int
	var stabilitySum float64
	var reviewCards int
	var last *time.Time
	for _, card := range cards {
		total += card.TotalReviews
		correct += card.CorrectReviews
		if card.State == types.StateReview {
			stabilitySum += card.Stability
			reviewCards++
		}
		if card.LastReviewed != nil && (last == nil || card.LastReviewed.After(*last)) {
			last = card.LastReviewed
		}
	}
	tm.Attempts = total
	if last != nil {
		t := *last
		tm.LastPracticed = &t
		tm.DaysSinceReview = int(now.Sub(t).Hours() / 24)
	}
	if total > 0 {
		tm.SuccessRate = float64(correct) / float64(total)
	}
	if reviewCards > 0 {
		tm.AvgStability = stabilitySum / float64(reviewCards)
	}
	if total < minAttempts {
		return tm
	}

	stabilityComponent := tm.AvgStability / stabilityHorizonDays
	if stabilityComponent > 1 {
		stabilityComponent = 1
	}
	tm.MasteryScore = 0.6*tm.SuccessRate + 0.4*stabilityComponent
	return tm
}

// WeakSpots lists below-threshold topics with enough attempts, declining
// trends first, then ascending mastery.
func (s *Service) WeakSpots(ctx context.Context, now time.Time) ([]WeakSpot, error) {
	all, err := s.ComputeAll(ctx, now)
	if err != nil {
		return nil, err
	}

	var spots []WeakSpot
	for _, tm := range all {
		if tm.Attempts < minAttempts || tm.MasteryScore >= weakThreshold {
			continue
		}
		spots = append(spots, WeakSpot{
			TopicMastery:           tm,
			Recommendation:         recommendation(tm),
			SuggestedExerciseTypes: suggestedTypes(tm.MasteryScore),
		})
	}
	sort.SliceStable(spots, func(i, j int) bool {
		di := spots[i].Trend == types.TrendDeclining
		dj := spots[j].Trend == types.TrendDeclining
		if di != dj {
			return di
		}
		return spots[i].MasteryScore < spots[j].MasteryScore
	})
	return spots, nil
}

func recommendation(tm TopicMastery) string {
	switch {
	case tm.Trend == types.TrendDeclining:
		return fmt.Sprintf("%s is slipping; schedule a focused review session soon.", tm.Topic)
	case tm.DaysSinceReview > 14:
		return fmt.Sprintf("%s has not been practiced in %d days; start with a refresher.", tm.Topic, tm.DaysSinceReview)
	default:
		return fmt.Sprintf("Keep practicing %s; it has not stabilized yet.", tm.Topic)
	}
}

func suggestedTypes(mastery float64) []types.ExerciseType {
	switch {
	case mastery < 0.3:
		return []types.ExerciseType{types.ExerciseWorkedExample, types.ExerciseRecall}
	case mastery < 0.6:
		return []types.ExerciseType{types.ExerciseRecall, types.ExerciseCodeComplete}
	default:
		return []types.ExerciseType{types.ExerciseCodeDebug, types.ExerciseCodeRefactor}
	}
}

// BuildOverview assembles the dashboard: card-state counts, top topics,
// average mastery, and the practice streak.
func (s *Service) BuildOverview(ctx context.Context, now time.Time, topN int) (*Overview, error) {
	cards, err := s.store.AllCards(ctx)
	if err != nil {
		return nil, err
	}
	ov := &Overview{TotalCards: len(cards)}
	for _, card := range cards {
		switch {
		case card.State == types.StateNew:
			ov.CardsNew++
		case card.Stability >= masteredStabilityDays:
			ov.CardsMastered++
		default:
			ov.CardsLearning++
		}
	}

	topics, err := s.ComputeAll(ctx, now)
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, tm := range topics {
		sum += tm.MasteryScore
	}
	if len(topics) > 0 {
		ov.AverageMastery = sum / float64(len(topics))
	}
	if topN > 0 && len(topics) > topN {
		topics = topics[:topN]
	}
	ov.TopTopics = topics

	streak, err := s.practiceStreak(ctx, now)
	if err != nil {
		log.Printf("mastery: streak computation failed: %v", err)
	}
	ov.PracticeStreak = streak
	return ov, nil
}

// practiceStreak counts consecutive UTC days with at least one review,
// starting from today and walking backward.
func (s *Service) practiceStreak(ctx context.Context, now time.Time) (int, error) {
	since := now.UTC().AddDate(0, 0, -streakWindowDays)
	days, err := s.store.ReviewDays(ctx, since)
	if err != nil {
		return 0, err
	}
	reviewed := make(map[string]bool, len(days))
	for _, d := range days {
		reviewed[d.Format("2006-01-02")] = true
	}

	streak := 0
	day := now.UTC()
	for i := 0; i <= streakWindowDays; i++ {
		if !reviewed[day.Format("2006-01-02")] {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak, nil
}

// SnapshotDaily persists one snapshot per topic for today. Upserts keep the
// pass idempotent within a day.
func (s *Service) SnapshotDaily(ctx context.Context, now time.Time) (int, error) {
	topics, err := s.ComputeAll(ctx, now)
	if err != nil {
		return 0, err
	}
	saved := 0
	for _, tm := range topics {
		snap := &types.MasterySnapshot{
			SnapshotDate:      now.UTC(),
			TopicPath:         tm.Topic,
			PracticeCount:     tm.Attempts,
			SuccessRate:       tm.SuccessRate,
			MasteryScore:      tm.MasteryScore,
			Trend:             tm.Trend,
			RetentionEstimate: s.retentionEstimate(tm),
			LastPracticed:     tm.LastPracticed,
			DaysSinceReview:   tm.DaysSinceReview,
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			log.Printf("mastery: snapshot for %q failed: %v", tm.Topic, err)
			continue
		}
		saved++
	}
	return saved, nil
}

// retentionEstimate approximates current recall for the topic from its
// average stability and recency.
func (s *Service) retentionEstimate(tm TopicMastery) float64 {
	if tm.AvgStability <= 0 {
		return 0
	}
	return s.fsrs.decay(float64(tm.DaysSinceReview), tm.AvgStability)
}

// RecomputeTopics refreshes snapshots for the given topics. Called when a
// session ends.
func (s *Service) RecomputeTopics(ctx context.Context, topics []string) error {
	now := time.Now().UTC()
	all, err := s.ComputeAll(ctx, now)
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		wanted[t] = true
	}
	for _, tm := range all {
		if !wanted[tm.Topic] {
			continue
		}
		snap := &types.MasterySnapshot{
			SnapshotDate:      now,
			TopicPath:         tm.Topic,
			PracticeCount:     tm.Attempts,
			SuccessRate:       tm.SuccessRate,
			MasteryScore:      tm.MasteryScore,
			Trend:             tm.Trend,
			RetentionEstimate: s.retentionEstimate(tm),
			LastPracticed:     tm.LastPracticed,
			DaysSinceReview:   tm.DaysSinceReview,
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// Curve returns a topic's snapshot series over the window, with trend from
// first-versus-last and a linear projection over the next half window when
// at least three points exist.
func (s *Service) Curve(ctx context.Context, topic string, windowDays int) (*LearningCurve, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	snaps, err := s.store.SnapshotsSince(ctx, topic, since)
	if err != nil {
		return nil, err
	}

	curve := &LearningCurve{Topic: topic, Trend: types.TrendStable}
	for _, snap := range snaps {
		curve.Points = append(curve.Points, CurvePoint{Date: snap.SnapshotDate, Score: snap.MasteryScore})
	}
	if len(curve.Points) < 2 {
		return curve, nil
	}

	first := curve.Points[0]
	last := curve.Points[len(curve.Points)-1]
	curve.Trend = trendFrom(first.Score, last.Score)

	if len(curve.Points) >= 3 {
		days := last.Date.Sub(first.Date).Hours() / 24
		if days > 0 {
			slope := (last.Score - first.Score) / days
			horizon := windowDays / 2
			for _, d := range []int{horizon / 2, horizon} {
				if d == 0 {
					continue
				}
				score := last.Score + slope*float64(d)
				if score < 0 {
					score = 0
				}
				if score > 1 {
					score = 1
				}
				curve.Projected = append(curve.Projected, CurvePoint{
					Date:  last.Date.AddDate(0, 0, d),
					Score: score,
				})
			}
		}
	}
	return curve, nil
}

func trendFrom(prev, current float64) types.Trend {
	delta := current - prev
	switch {
	case delta > trendDelta:
		return types.TrendImproving
	case delta < -trendDelta:
		return types.TrendDeclining
	default:
		return types.TrendStable
	}
}

// explodeByTag groups cards under each of their tags.
func explodeByTag(cards []*types.Card) map[string][]*types.Card {
	byTopic := make(map[string][]*types.Card)
	for _, card := range cards {
		for _, tag := range card.Tags {
			byTopic[tag] = append(byTopic[tag], card)
		}
	}
	return byTopic
}
