package types

import "time"

// CardType classifies a spaced-repetition card.
type CardType string

const (
	CardDefinition    CardType = "definition"
	CardApplication   CardType = "application"
	CardExample       CardType = "example"
	CardMisconception CardType = "misconception"
	CardComparison    CardType = "comparison"
	CardProperties    CardType = "properties"
)

// CardState is the FSRS learning state of a card.
type CardState string

const (
	StateNew        CardState = "new"
	StateLearning   CardState = "learning"
	StateReview     CardState = "review"
	StateRelearning CardState = "relearning"
)

// Rating is a review outcome.
type Rating int

const (
	RatingAgain Rating = iota + 1
	RatingHard
	RatingGood
	RatingEasy
)

// String returns the lowercase rating name.
func (r Rating) String() string {
	switch r {
	case RatingAgain:
		return "again"
	case RatingHard:
		return "hard"
	case RatingGood:
		return "good"
	case RatingEasy:
		return "easy"
	}
	return "unknown"
}

// Card is a spaced-repetition card with embedded FSRS state.
//
// Invariant: a new card has LastReviewed == nil and treats Stability and
// Difficulty as uninitialized; the scheduler initializes them on first review.
type Card struct {
	ID                string    `json:"id"`
	CardType          CardType  `json:"card_type"`
	Front             string    `json:"front"`
	Back              string    `json:"back"`
	Hints             []string  `json:"hints,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	SourceContentUUID string    `json:"source_content_uuid,omitempty"`
	SourceConcept     string    `json:"source_concept,omitempty"`

	State         CardState  `json:"state"`
	Stability     float64    `json:"stability"`  // days
	Difficulty    float64    `json:"difficulty"` // 1..10
	DueDate       time.Time  `json:"due_date"`
	LastReviewed  *time.Time `json:"last_reviewed,omitempty"`
	ScheduledDays int        `json:"scheduled_days"`
	Repetitions   int        `json:"repetitions"`
	Lapses        int        `json:"lapses"`
	TotalReviews  int        `json:"total_reviews"`
	CorrectReviews int       `json:"correct_reviews"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsNew reports whether the card has never been reviewed.
func (c *Card) IsNew() bool { return c.LastReviewed == nil }

// ReviewLog records one scheduler transition for audit and analytics.
type ReviewLog struct {
	CardID           string    `json:"card_id"`
	Rating           Rating    `json:"rating"`
	StateBefore      CardState `json:"state_before"`
	StateAfter       CardState `json:"state_after"`
	StabilityBefore  float64   `json:"stability_before"`
	StabilityAfter   float64   `json:"stability_after"`
	DifficultyBefore float64   `json:"difficulty_before"`
	DifficultyAfter  float64   `json:"difficulty_after"`
	ScheduledDays    int       `json:"scheduled_days"`
	ReviewedAt       time.Time `json:"reviewed_at"`
}

// ExerciseType classifies a practice exercise.
type ExerciseType string

const (
	ExerciseWorkedExample ExerciseType = "worked_example"
	ExerciseRecall        ExerciseType = "recall"
	ExerciseCodeImplement ExerciseType = "code_implement"
	ExerciseCodeComplete  ExerciseType = "code_complete"
	ExerciseCodeDebug     ExerciseType = "code_debug"
	ExerciseCodeRefactor  ExerciseType = "code_refactor"
	ExerciseCodeExplain   ExerciseType = "code_explain"
)

// ExerciseDifficulty is the difficulty band of an exercise.
type ExerciseDifficulty string

const (
	DifficultyFoundational ExerciseDifficulty = "foundational"
	DifficultyIntermediate ExerciseDifficulty = "intermediate"
	DifficultyAdvanced     ExerciseDifficulty = "advanced"
)

// TestCase is one input/expected pair for a code exercise.
type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
}

// Exercise is a practice item, optionally code-flavored. Exercises reference
// content via a many-to-many junction; deleting content keeps shared
// exercises alive.
type Exercise struct {
	ID                   string             `json:"id"`
	ExerciseType         ExerciseType       `json:"exercise_type"`
	Topic                string             `json:"topic"`
	Difficulty           ExerciseDifficulty `json:"difficulty"`
	Prompt               string             `json:"prompt"`
	Hints                []string           `json:"hints,omitempty"`
	ExpectedKeyPoints    []string           `json:"expected_key_points,omitempty"`
	WorkedExample        string             `json:"worked_example,omitempty"`
	FollowUpProblem      string             `json:"follow_up_problem,omitempty"`
	Language             string             `json:"language,omitempty"`
	StarterCode          string             `json:"starter_code,omitempty"`
	SolutionCode         string             `json:"solution_code,omitempty"`
	TestCases            []TestCase         `json:"test_cases,omitempty"`
	BuggyCode            string             `json:"buggy_code,omitempty"`
	EstimatedTimeMinutes int                `json:"estimated_time_minutes,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

// ExerciseAttempt is one scored attempt at an exercise.
type ExerciseAttempt struct {
	ID               string    `json:"id"`
	ExerciseID       string    `json:"exercise_id"`
	SessionID        string    `json:"session_id,omitempty"`
	Response         string    `json:"response,omitempty"`
	ResponseCode     string    `json:"response_code,omitempty"`
	Score            float64   `json:"score"` // 0..1
	IsCorrect        bool      `json:"is_correct"`
	Feedback         string    `json:"feedback,omitempty"`
	CoveredPoints    []string  `json:"covered_points,omitempty"`
	MissingPoints    []string  `json:"missing_points,omitempty"`
	Misconceptions   []string  `json:"misconceptions,omitempty"`
	TestsPassed      int       `json:"tests_passed"`
	TestsTotal       int       `json:"tests_total"`
	ConfidenceBefore int       `json:"confidence_before,omitempty"`
	ConfidenceAfter  int       `json:"confidence_after,omitempty"`
	TimeSpentSeconds int       `json:"time_spent_seconds,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// PracticeSession is a bounded practice sitting.
type PracticeSession struct {
	ID              string     `json:"id"`
	SessionType     string     `json:"session_type"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes float64    `json:"duration_minutes"`
	TopicsCovered   []string   `json:"topics_covered,omitempty"`
	TotalCards      int        `json:"total_cards"`
	ExerciseCount   int        `json:"exercise_count"`
	CorrectCount    int        `json:"correct_count"`
	AverageScore    float64    `json:"average_score"`
}

// Trend is the direction of a mastery time series.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// MasterySnapshot is a point-in-time aggregate for one topic.
type MasterySnapshot struct {
	SnapshotDate      time.Time  `json:"snapshot_date"`
	TopicPath         string     `json:"topic_path"`
	PracticeCount     int        `json:"practice_count"`
	SuccessRate       float64    `json:"success_rate"`
	MasteryScore      float64    `json:"mastery_score"`
	Trend             Trend      `json:"trend"`
	RetentionEstimate float64    `json:"retention_estimate"`
	LastPracticed     *time.Time `json:"last_practiced,omitempty"`
	DaysSinceReview   int        `json:"days_since_review"`
}
