package review

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/pkg/types"
)

// ContentMode selects what a session is made of.
type ContentMode string

const (
	ModeExercisesOnly ContentMode = "exercises_only"
	ModeCardsOnly     ContentMode = "cards_only"
	ModeBoth          ContentMode = "both"
)

// SourcePreference controls whether the composer may generate new items.
type SourcePreference string

const (
	SourceExistingOnly   SourcePreference = "existing_only"
	SourcePreferExisting SourcePreference = "prefer_existing"
	SourceGenerateNew    SourcePreference = "generate_new"
)

// SessionRequest describes the session the user wants.
type SessionRequest struct {
	DurationMinutes int              `json:"duration_minutes"`
	ContentMode     ContentMode      `json:"content_mode"`
	ExerciseSource  SourcePreference `json:"exercise_source"`
	CardSource      SourcePreference `json:"card_source"`
	TopicFilter     string           `json:"topic_filter,omitempty"`
	ExerciseRatio   float64          `json:"exercise_ratio,omitempty"`
}

// SessionItem is one card or exercise in composed order.
type SessionItem struct {
	Kind     string          `json:"kind"` // "card" or "exercise"
	Card     *types.Card     `json:"card,omitempty"`
	Exercise *types.Exercise `json:"exercise,omitempty"`
}

// Session is a composed practice session ready to run.
type Session struct {
	ID      string        `json:"id"`
	Items   []SessionItem `json:"items"`
	Minutes float64       `json:"planned_minutes"`
}

// Per-item time costs, in minutes.
const (
	cardMinutes          = 2.0
	exerciseMinutes      = 8.0
	workedExampleMinutes = 5.0
)

// Default exercise share of the budget per mode.
const (
	defaultExerciseRatio = 0.5
	topicExerciseRatio   = 0.7
)

// TimeBudget tracks per-type minute allocations and consumption. When one
// bucket runs dry but total time remains, items may overflow into the other
// bucket's remainder.
type TimeBudget struct {
	Total         float64
	ExerciseAlloc float64
	CardAlloc     float64
	exerciseUsed  float64
	cardUsed      float64
}

// NewTimeBudget splits total minutes by the exercise ratio.
func NewTimeBudget(totalMinutes float64, exerciseRatio float64) *TimeBudget {
	return &TimeBudget{
		Total:         totalMinutes,
		ExerciseAlloc: totalMinutes * exerciseRatio,
		CardAlloc:     totalMinutes * (1 - exerciseRatio),
	}
}

// Remaining is the unconsumed total time.
func (b *TimeBudget) Remaining() float64 {
	return b.Total - b.exerciseUsed - b.cardUsed
}

// FitsExercise reports whether an exercise of the given cost fits, allowing
// overflow into unused card time. At least one item fits if even a single
// minimum does.
func (b *TimeBudget) FitsExercise(cost float64, allowOverflow bool) bool {
	if cost > b.Remaining() {
		return false
	}
	if b.exerciseUsed+cost <= b.ExerciseAlloc {
		return true
	}
	return allowOverflow
}

// FitsCard is the card-side counterpart of FitsExercise.
func (b *TimeBudget) FitsCard(cost float64, allowOverflow bool) bool {
	if cost > b.Remaining() {
		return false
	}
	if b.cardUsed+cost <= b.CardAlloc {
		return true
	}
	return allowOverflow
}

// SpendExercise consumes exercise time.
func (b *TimeBudget) SpendExercise(cost float64) { b.exerciseUsed += cost }

// SpendCard consumes card time.
func (b *TimeBudget) SpendCard(cost float64) { b.cardUsed += cost }

// MasteryLookup resolves a topic's current mastery score for difficulty
// matching. The mastery service provides the real implementation.
type MasteryLookup interface {
	TopicScore(ctx context.Context, topic string) (float64, error)
}

// Composer assembles time-budgeted practice sessions.
type Composer struct {
	store   *Store
	fsrs    *Scheduler
	gen     *Generator
	mastery MasteryLookup

	// Recompute, when set, is asked to refresh mastery for the topics a
	// finished session covered.
	Recompute interface {
		RecomputeTopics(ctx context.Context, topics []string) error
	}

	rand *rand.Rand
}

// NewComposer wires a composer over the review store.
func NewComposer(store *Store, fsrs *Scheduler, gen *Generator, mastery MasteryLookup) *Composer {
	return &Composer{
		store:   store,
		fsrs:    fsrs,
		gen:     gen,
		mastery: mastery,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Compose builds a session for the request: exercises first up to their
// bucket, then due cards, then a best-effort fill of the remaining time, and
// finally the interleave. An empty session is an error only when a topic
// filter was set; with no filter it just means there is nothing to review.
func (c *Composer) Compose(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("session duration must be positive")
	}
	budget := NewTimeBudget(float64(req.DurationMinutes), c.exerciseRatio(req))

	var exercises []*types.Exercise
	var cards []*types.Card
	var err error

	if req.ContentMode != ModeCardsOnly {
		exercises, err = c.collectExercises(ctx, req, budget)
		if err != nil {
			return nil, err
		}
	}
	if req.ContentMode != ModeExercisesOnly {
		cards, err = c.collectCards(ctx, req, budget)
		if err != nil {
			return nil, err
		}
	}

	// Fill remaining time from either pool, best-effort.
	if budget.Remaining() >= cardMinutes && req.ContentMode != ModeExercisesOnly {
		more, err := c.collectCards(ctx, req, budget)
		if err == nil {
			cards = append(cards, dedupeCards(cards, more)...)
		}
	}

	if len(exercises) == 0 && len(cards) == 0 {
		if req.TopicFilter != "" {
			return nil, fmt.Errorf("no cards or exercises available for topic %q", req.TopicFilter)
		}
		return &Session{ID: uuid.NewString()}, nil
	}

	items := c.interleave(cards, exercises)
	sess := &Session{
		ID:      uuid.NewString(),
		Items:   items,
		Minutes: float64(req.DurationMinutes) - budget.Remaining(),
	}

	exerciseCount := 0
	for _, item := range items {
		if item.Kind == "exercise" {
			exerciseCount++
		}
	}
	row := &types.PracticeSession{
		ID:            sess.ID,
		SessionType:   string(req.ContentMode),
		StartedAt:     time.Now().UTC(),
		TotalCards:    len(items) - exerciseCount,
		ExerciseCount: exerciseCount,
	}
	if req.TopicFilter != "" {
		row.TopicsCovered = []string{req.TopicFilter}
	}
	if err := c.store.CreateSession(ctx, row); err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Composer) exerciseRatio(req SessionRequest) float64 {
	switch req.ContentMode {
	case ModeExercisesOnly:
		return 1
	case ModeCardsOnly:
		return 0
	}
	if req.ExerciseRatio > 0 {
		return req.ExerciseRatio
	}
	if req.TopicFilter != "" {
		return topicExerciseRatio
	}
	return defaultExerciseRatio
}

func (c *Composer) collectExercises(ctx context.Context, req SessionRequest, budget *TimeBudget) ([]*types.Exercise, error) {
	pool, err := c.store.ExercisesByTopic(ctx, req.TopicFilter, 50)
	if err != nil {
		return nil, err
	}

	var picked []*types.Exercise
	for _, ex := range pool {
		cost := exerciseCost(ex)
		if !budget.FitsExercise(cost, len(picked) == 0) {
			continue
		}
		budget.SpendExercise(cost)
		picked = append(picked, ex)
	}

	// Generate when the pool left the bucket empty and the source
	// preference allows it.
	if len(picked) == 0 && req.ExerciseSource != SourceExistingOnly &&
		req.TopicFilter != "" && budget.FitsExercise(exerciseMinutes, true) {
		score := 0.0
		if c.mastery != nil {
			if s, err := c.mastery.TopicScore(ctx, req.TopicFilter); err == nil {
				score = s
			}
		}
		ex, err := c.gen.GenerateExercise(ctx, req.TopicFilter, score)
		if err != nil {
			log.Printf("session: exercise generation failed: %v", err)
		} else {
			budget.SpendExercise(exerciseCost(ex))
			picked = append(picked, ex)
		}
	}
	return picked, nil
}

func (c *Composer) collectCards(ctx context.Context, req SessionRequest, budget *TimeBudget) ([]*types.Card, error) {
	due, err := c.store.DueCards(ctx, time.Now().UTC(), 200)
	if err != nil {
		return nil, err
	}

	var picked []*types.Card
	for _, card := range due {
		if req.TopicFilter != "" && !hasTag(card.Tags, req.TopicFilter) {
			continue
		}
		if !budget.FitsCard(cardMinutes, true) {
			break
		}
		budget.SpendCard(cardMinutes)
		picked = append(picked, card)
	}
	return picked, nil
}

func exerciseCost(ex *types.Exercise) float64 {
	if ex.EstimatedTimeMinutes > 0 {
		return float64(ex.EstimatedTimeMinutes)
	}
	if ex.ExerciseType == types.ExerciseWorkedExample {
		return workedExampleMinutes
	}
	return exerciseMinutes
}

// interleave orders the session: worked examples lead as scaffolding, then
// the shuffled remainder alternates cards and exercises, zipping until both
// run out.
func (c *Composer) interleave(cards []*types.Card, exercises []*types.Exercise) []SessionItem {
	var lead, restEx []SessionItem
	for _, ex := range exercises {
		item := SessionItem{Kind: "exercise", Exercise: ex}
		if ex.ExerciseType == types.ExerciseWorkedExample {
			lead = append(lead, item)
		} else {
			restEx = append(restEx, item)
		}
	}
	restCards := make([]SessionItem, 0, len(cards))
	for _, card := range cards {
		restCards = append(restCards, SessionItem{Kind: "card", Card: card})
	}

	c.rand.Shuffle(len(restEx), func(i, j int) { restEx[i], restEx[j] = restEx[j], restEx[i] })
	c.rand.Shuffle(len(restCards), func(i, j int) { restCards[i], restCards[j] = restCards[j], restCards[i] })

	items := lead
	for i := 0; i < len(restCards) || i < len(restEx); i++ {
		if i < len(restCards) {
			items = append(items, restCards[i])
		}
		if i < len(restEx) {
			items = append(items, restEx[i])
		}
	}
	return items
}

// EndSession stamps the session end, aggregates attempt scores, and kicks
// off mastery recomputation for the covered topics.
func (c *Composer) EndSession(ctx context.Context, sessionID string) (*types.PracticeSession, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess.EndedAt = &now
	sess.DurationMinutes = now.Sub(sess.StartedAt).Minutes()

	attempts, err := c.store.AttemptsForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, a := range attempts {
		total += a.Score
		if a.IsCorrect {
			sess.CorrectCount++
		}
	}
	if len(attempts) > 0 {
		sess.AverageScore = total / float64(len(attempts))
	}

	if err := c.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	if c.Recompute != nil && len(sess.TopicsCovered) > 0 {
		if err := c.Recompute.RecomputeTopics(ctx, sess.TopicsCovered); err != nil {
			log.Printf("session: mastery recompute failed: %v", err)
		}
	}
	return sess, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func dedupeCards(have, more []*types.Card) []*types.Card {
	seen := make(map[string]bool, len(have))
	for _, c := range have {
		seen[c.ID] = true
	}
	var out []*types.Card
	for _, c := range more {
		if !seen[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
