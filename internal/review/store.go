// Package review implements the spaced-repetition subsystem: the FSRS
// scheduler, card and exercise generation, time-budgeted session composition,
// and per-topic mastery analytics. State lives in the relational store,
// sharing the database handle with the content store.
package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// Schema creates the review tables. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS spaced_rep_cards (
	id TEXT PRIMARY KEY,
	card_type TEXT NOT NULL,
	front TEXT NOT NULL,
	back TEXT NOT NULL,
	hints_json TEXT,
	tags_json TEXT,
	source_content_uuid TEXT NOT NULL DEFAULT '',
	source_concept TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'new',
	stability REAL NOT NULL DEFAULT 0,
	difficulty REAL NOT NULL DEFAULT 0,
	due_date TIMESTAMP NOT NULL,
	last_reviewed TIMESTAMP,
	scheduled_days INTEGER NOT NULL DEFAULT 0,
	repetitions INTEGER NOT NULL DEFAULT 0,
	lapses INTEGER NOT NULL DEFAULT 0,
	total_reviews INTEGER NOT NULL DEFAULT 0,
	correct_reviews INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_due_state ON spaced_rep_cards(due_date, state);
CREATE INDEX IF NOT EXISTS idx_cards_source ON spaced_rep_cards(source_content_uuid);

CREATE TABLE IF NOT EXISTS review_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	card_id TEXT NOT NULL,
	rating INTEGER NOT NULL,
	state_before TEXT NOT NULL,
	state_after TEXT NOT NULL,
	stability_before REAL NOT NULL,
	stability_after REAL NOT NULL,
	difficulty_before REAL NOT NULL,
	difficulty_after REAL NOT NULL,
	scheduled_days INTEGER NOT NULL,
	reviewed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_logs_time ON review_logs(reviewed_at);

CREATE TABLE IF NOT EXISTS exercises (
	id TEXT PRIMARY KEY,
	exercise_type TEXT NOT NULL,
	topic TEXT NOT NULL DEFAULT '',
	difficulty TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL,
	hints_json TEXT,
	key_points_json TEXT,
	worked_example TEXT NOT NULL DEFAULT '',
	follow_up_problem TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	starter_code TEXT NOT NULL DEFAULT '',
	solution_code TEXT NOT NULL DEFAULT '',
	test_cases_json TEXT,
	buggy_code TEXT NOT NULL DEFAULT '',
	estimated_time_minutes INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exercises_topic ON exercises(topic);

CREATE TABLE IF NOT EXISTS content_exercises (
	content_uuid TEXT NOT NULL,
	exercise_id TEXT NOT NULL,
	PRIMARY KEY (content_uuid, exercise_id)
);

CREATE TABLE IF NOT EXISTS exercise_attempts (
	id TEXT PRIMARY KEY,
	exercise_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL DEFAULT '',
	response_code TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL DEFAULT 0,
	is_correct INTEGER NOT NULL DEFAULT 0,
	feedback TEXT NOT NULL DEFAULT '',
	covered_points_json TEXT,
	missing_points_json TEXT,
	misconceptions_json TEXT,
	tests_passed INTEGER NOT NULL DEFAULT 0,
	tests_total INTEGER NOT NULL DEFAULT 0,
	confidence_before INTEGER NOT NULL DEFAULT 0,
	confidence_after INTEGER NOT NULL DEFAULT 0,
	time_spent_seconds INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_session ON exercise_attempts(session_id);

CREATE TABLE IF NOT EXISTS practice_sessions (
	id TEXT PRIMARY KEY,
	session_type TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	duration_minutes REAL NOT NULL DEFAULT 0,
	topics_json TEXT,
	total_cards INTEGER NOT NULL DEFAULT 0,
	exercise_count INTEGER NOT NULL DEFAULT 0,
	correct_count INTEGER NOT NULL DEFAULT 0,
	average_score REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mastery_snapshots (
	snapshot_date TEXT NOT NULL,
	topic_path TEXT NOT NULL,
	practice_count INTEGER NOT NULL DEFAULT 0,
	success_rate REAL NOT NULL DEFAULT 0,
	mastery_score REAL NOT NULL DEFAULT 0,
	trend TEXT NOT NULL DEFAULT 'stable',
	retention_estimate REAL NOT NULL DEFAULT 0,
	last_practiced TIMESTAMP,
	days_since_review INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (snapshot_date, topic_path)
);
`

// Store persists cards, exercises, sessions, and mastery snapshots. It shares
// the single-connection SQLite handle with the content store.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle and applies the review schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to create review schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveCard inserts a card or replaces it by id.
func (s *Store) SaveCard(ctx context.Context, card *types.Card) error {
	hints, err := marshalOrNil(card.Hints)
	if err != nil {
		return fmt.Errorf("failed to marshal hints: %w", err)
	}
	tags, err := marshalOrNil(card.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO spaced_rep_cards
		(id, card_type, front, back, hints_json, tags_json, source_content_uuid,
		 source_concept, state, stability, difficulty, due_date, last_reviewed,
		 scheduled_days, repetitions, lapses, total_reviews, correct_reviews,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, string(card.CardType), card.Front, card.Back, hints, tags,
		card.SourceContentUUID, card.SourceConcept, string(card.State),
		card.Stability, card.Difficulty, card.DueDate, card.LastReviewed,
		card.ScheduledDays, card.Repetitions, card.Lapses,
		card.TotalReviews, card.CorrectReviews, card.CreatedAt, card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// SaveCards inserts a batch of cards in one transaction.
func (s *Store) SaveCards(ctx context.Context, cards []*types.Card) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, card := range cards {
		hints, err := marshalOrNil(card.Hints)
		if err != nil {
			return fmt.Errorf("failed to marshal hints: %w", err)
		}
		tags, err := marshalOrNil(card.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO spaced_rep_cards
			(id, card_type, front, back, hints_json, tags_json, source_content_uuid,
			 source_concept, state, stability, difficulty, due_date, last_reviewed,
			 scheduled_days, repetitions, lapses, total_reviews, correct_reviews,
			 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			card.ID, string(card.CardType), card.Front, card.Back, hints, tags,
			card.SourceContentUUID, card.SourceConcept, string(card.State),
			card.Stability, card.Difficulty, card.DueDate, card.LastReviewed,
			card.ScheduledDays, card.Repetitions, card.Lapses,
			card.TotalReviews, card.CorrectReviews, card.CreatedAt, card.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save card %s: %w", card.ID, err)
		}
	}
	return tx.Commit()
}

const cardColumns = `id, card_type, front, back, hints_json, tags_json,
	source_content_uuid, source_concept, state, stability, difficulty,
	due_date, last_reviewed, scheduled_days, repetitions, lapses,
	total_reviews, correct_reviews, created_at, updated_at`

// GetCard loads one card by id.
func (s *Store) GetCard(ctx context.Context, id string) (*types.Card, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM spaced_rep_cards WHERE id = ?`, id)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("card %s not found", id)
	}
	return card, err
}

// DueCards returns cards due at or before now, oldest due first.
func (s *Store) DueCards(ctx context.Context, now time.Time, limit int) ([]*types.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM spaced_rep_cards
		 WHERE due_date <= ? ORDER BY due_date ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// AllCards returns every card. Mastery aggregation fetches once and groups
// in memory instead of issuing per-topic queries.
func (s *Store) AllCards(ctx context.Context) ([]*types.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM spaced_rep_cards`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// DeleteCardsForContent removes all cards owned by a content record and
// returns the count. Used when the delete-cards-on-reprocess policy is set.
func (s *Store) DeleteCardsForContent(ctx context.Context, contentUUID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM spaced_rep_cards WHERE source_content_uuid = ?`, contentUUID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cards: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// timeLayout is the stored form of reviewed_at: UTC text that SQLite's date()
// parses and that compares chronologically. The driver's native time.Time
// encoding is opaque to the date functions.
const timeLayout = "2006-01-02 15:04:05.000"

// SaveReviewLog appends one scheduler transition.
func (s *Store) SaveReviewLog(ctx context.Context, l *types.ReviewLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_logs
		(card_id, rating, state_before, state_after, stability_before,
		 stability_after, difficulty_before, difficulty_after, scheduled_days,
		 reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.CardID, int(l.Rating), string(l.StateBefore), string(l.StateAfter),
		l.StabilityBefore, l.StabilityAfter, l.DifficultyBefore,
		l.DifficultyAfter, l.ScheduledDays, l.ReviewedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save review log: %w", err)
	}
	return nil
}

// ReviewDays returns the distinct UTC dates with at least one review since
// the cutoff, newest first. Dates are midnight UTC.
func (s *Store) ReviewDays(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT date(reviewed_at) FROM review_logs
		WHERE reviewed_at >= ? ORDER BY 1 DESC`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query review days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		day, err := time.ParseInLocation("2006-01-02", d, time.UTC)
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// SaveExercise inserts an exercise and links it to the given content records
// through the junction table.
func (s *Store) SaveExercise(ctx context.Context, ex *types.Exercise, contentUUIDs ...string) error {
	hints, err := marshalOrNil(ex.Hints)
	if err != nil {
		return fmt.Errorf("failed to marshal hints: %w", err)
	}
	keyPoints, err := marshalOrNil(ex.ExpectedKeyPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal key points: %w", err)
	}
	testCases, err := marshalOrNil(ex.TestCases)
	if err != nil {
		return fmt.Errorf("failed to marshal test cases: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO exercises
		(id, exercise_type, topic, difficulty, prompt, hints_json,
		 key_points_json, worked_example, follow_up_problem, language,
		 starter_code, solution_code, test_cases_json, buggy_code,
		 estimated_time_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, string(ex.ExerciseType), ex.Topic, string(ex.Difficulty),
		ex.Prompt, hints, keyPoints, ex.WorkedExample, ex.FollowUpProblem,
		ex.Language, ex.StarterCode, ex.SolutionCode, testCases, ex.BuggyCode,
		ex.EstimatedTimeMinutes, ex.CreatedAt); err != nil {
		return fmt.Errorf("failed to save exercise: %w", err)
	}
	for _, uuid := range contentUUIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO content_exercises (content_uuid, exercise_id)
			VALUES (?, ?)`, uuid, ex.ID); err != nil {
			return fmt.Errorf("failed to link exercise: %w", err)
		}
	}
	return tx.Commit()
}

const exerciseColumns = `id, exercise_type, topic, difficulty, prompt,
	hints_json, key_points_json, worked_example, follow_up_problem, language,
	starter_code, solution_code, test_cases_json, buggy_code,
	estimated_time_minutes, created_at`

// ExercisesByTopic returns exercises whose topic matches the keyword,
// newest first. An empty topic matches everything.
func (s *Store) ExercisesByTopic(ctx context.Context, topic string, limit int) ([]*types.Exercise, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+exerciseColumns+` FROM exercises
		 WHERE (? = '' OR topic LIKE '%' || ? || '%')
		 ORDER BY created_at DESC LIMIT ?`, topic, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exercises: %w", err)
	}
	defer rows.Close()

	var out []*types.Exercise
	for rows.Next() {
		ex, err := scanExercise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// SaveAttempt appends a scored exercise attempt.
func (s *Store) SaveAttempt(ctx context.Context, a *types.ExerciseAttempt) error {
	covered, err := marshalOrNil(a.CoveredPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal covered points: %w", err)
	}
	missing, err := marshalOrNil(a.MissingPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal missing points: %w", err)
	}
	misconceptions, err := marshalOrNil(a.Misconceptions)
	if err != nil {
		return fmt.Errorf("failed to marshal misconceptions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exercise_attempts
		(id, exercise_id, session_id, response, response_code, score,
		 is_correct, feedback, covered_points_json, missing_points_json,
		 misconceptions_json, tests_passed, tests_total, confidence_before,
		 confidence_after, time_spent_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ExerciseID, a.SessionID, a.Response, a.ResponseCode, a.Score,
		boolToInt(a.IsCorrect), a.Feedback, covered, missing, misconceptions,
		a.TestsPassed, a.TestsTotal, a.ConfidenceBefore, a.ConfidenceAfter,
		a.TimeSpentSeconds, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

// AttemptsForSession returns all attempts recorded against a session.
func (s *Store) AttemptsForSession(ctx context.Context, sessionID string) ([]*types.ExerciseAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exercise_id, session_id, score, is_correct, created_at
		FROM exercise_attempts WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []*types.ExerciseAttempt
	for rows.Next() {
		var a types.ExerciseAttempt
		var correct int
		if err := rows.Scan(&a.ID, &a.ExerciseID, &a.SessionID, &a.Score,
			&correct, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.IsCorrect = correct != 0
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CreateSession persists a new practice session row.
func (s *Store) CreateSession(ctx context.Context, sess *types.PracticeSession) error {
	topics, err := marshalOrNil(sess.TopicsCovered)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO practice_sessions
		(id, session_type, started_at, ended_at, duration_minutes, topics_json,
		 total_cards, exercise_count, correct_count, average_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SessionType, sess.StartedAt, sess.EndedAt,
		sess.DurationMinutes, topics, sess.TotalCards, sess.ExerciseCount,
		sess.CorrectCount, sess.AverageScore)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads one practice session.
func (s *Store) GetSession(ctx context.Context, id string) (*types.PracticeSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_type, started_at, ended_at, duration_minutes,
		       topics_json, total_cards, exercise_count, correct_count,
		       average_score
		FROM practice_sessions WHERE id = ?`, id)

	var sess types.PracticeSession
	var topics sql.NullString
	var ended sql.NullTime
	err := row.Scan(&sess.ID, &sess.SessionType, &sess.StartedAt, &ended,
		&sess.DurationMinutes, &topics, &sess.TotalCards, &sess.ExerciseCount,
		&sess.CorrectCount, &sess.AverageScore)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	if topics.Valid {
		json.Unmarshal([]byte(topics.String), &sess.TopicsCovered)
	}
	return &sess, nil
}

// UpdateSession replaces the mutable session fields after completion.
func (s *Store) UpdateSession(ctx context.Context, sess *types.PracticeSession) error {
	topics, err := marshalOrNil(sess.TopicsCovered)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE practice_sessions
		SET ended_at = ?, duration_minutes = ?, topics_json = ?,
		    total_cards = ?, exercise_count = ?, correct_count = ?,
		    average_score = ?
		WHERE id = ?`,
		sess.EndedAt, sess.DurationMinutes, topics, sess.TotalCards,
		sess.ExerciseCount, sess.CorrectCount, sess.AverageScore, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// SaveSnapshot upserts one mastery snapshot keyed by (date, topic).
func (s *Store) SaveSnapshot(ctx context.Context, snap *types.MasterySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO mastery_snapshots
		(snapshot_date, topic_path, practice_count, success_rate,
		 mastery_score, trend, retention_estimate, last_practiced,
		 days_since_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SnapshotDate.UTC().Format("2006-01-02"), snap.TopicPath,
		snap.PracticeCount, snap.SuccessRate, snap.MasteryScore,
		string(snap.Trend), snap.RetentionEstimate, snap.LastPracticed,
		snap.DaysSinceReview)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a topic, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, topic string) (*types.MasterySnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot_date, topic_path, practice_count, success_rate,
		       mastery_score, trend, retention_estimate, last_practiced,
		       days_since_review
		FROM mastery_snapshots WHERE topic_path = ?
		ORDER BY snapshot_date DESC LIMIT 1`, topic)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

// SnapshotsSince returns a topic's snapshots from the cutoff onward, oldest
// first. Feeds the learning curve.
func (s *Store) SnapshotsSince(ctx context.Context, topic string, since time.Time) ([]*types.MasterySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_date, topic_path, practice_count, success_rate,
		       mastery_score, trend, retention_estimate, last_practiced,
		       days_since_review
		FROM mastery_snapshots
		WHERE topic_path = ? AND snapshot_date >= ?
		ORDER BY snapshot_date ASC`, topic, since.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []*types.MasterySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// TopicContext returns title and text samples from content records matching
// a topic keyword. Used to ground on-demand card generation.
func (s *Store) TopicContext(ctx context.Context, topic string, limit int) ([]TopicDoc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, substr(full_text, 1, 500) FROM content
		WHERE processing_status != 'failed'
		  AND (title LIKE '%' || ? || '%' OR tags LIKE '%' || ? || '%')
		ORDER BY created_at DESC LIMIT ?`, topic, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic context: %w", err)
	}
	defer rows.Close()

	var out []TopicDoc
	for rows.Next() {
		var doc TopicDoc
		if err := rows.Scan(&doc.Title, &doc.Excerpt); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// TopicDoc is a content fragment used as generation context.
type TopicDoc struct {
	Title   string
	Excerpt string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*types.Card, error) {
	var card types.Card
	var hints, tags sql.NullString
	var lastReviewed sql.NullTime
	var cardType, state string
	err := row.Scan(&card.ID, &cardType, &card.Front, &card.Back, &hints,
		&tags, &card.SourceContentUUID, &card.SourceConcept, &state,
		&card.Stability, &card.Difficulty, &card.DueDate, &lastReviewed,
		&card.ScheduledDays, &card.Repetitions, &card.Lapses,
		&card.TotalReviews, &card.CorrectReviews, &card.CreatedAt,
		&card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	card.CardType = types.CardType(cardType)
	card.State = types.CardState(state)
	if lastReviewed.Valid {
		t := lastReviewed.Time
		card.LastReviewed = &t
	}
	if hints.Valid {
		json.Unmarshal([]byte(hints.String), &card.Hints)
	}
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &card.Tags)
	}
	return &card, nil
}

func scanCards(rows *sql.Rows) ([]*types.Card, error) {
	var out []*types.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

func scanExercise(row rowScanner) (*types.Exercise, error) {
	var ex types.Exercise
	var hints, keyPoints, testCases sql.NullString
	var exType, difficulty string
	err := row.Scan(&ex.ID, &exType, &ex.Topic, &difficulty, &ex.Prompt,
		&hints, &keyPoints, &ex.WorkedExample, &ex.FollowUpProblem,
		&ex.Language, &ex.StarterCode, &ex.SolutionCode, &testCases,
		&ex.BuggyCode, &ex.EstimatedTimeMinutes, &ex.CreatedAt)
	if err != nil {
		return nil, err
	}
	ex.ExerciseType = types.ExerciseType(exType)
	ex.Difficulty = types.ExerciseDifficulty(difficulty)
	if hints.Valid {
		json.Unmarshal([]byte(hints.String), &ex.Hints)
	}
	if keyPoints.Valid {
		json.Unmarshal([]byte(keyPoints.String), &ex.ExpectedKeyPoints)
	}
	if testCases.Valid {
		json.Unmarshal([]byte(testCases.String), &ex.TestCases)
	}
	return &ex, nil
}

func scanSnapshot(row rowScanner) (*types.MasterySnapshot, error) {
	var snap types.MasterySnapshot
	var date, trend string
	var lastPracticed sql.NullTime
	err := row.Scan(&date, &snap.TopicPath, &snap.PracticeCount,
		&snap.SuccessRate, &snap.MasteryScore, &trend,
		&snap.RetentionEstimate, &lastPracticed, &snap.DaysSinceReview)
	if err != nil {
		return nil, err
	}
	snap.SnapshotDate, _ = time.ParseInLocation("2006-01-02", date, time.UTC)
	snap.Trend = types.Trend(trend)
	if lastPracticed.Valid {
		t := lastPracticed.Time
		snap.LastPracticed = &t
	}
	return &snap, nil
}

func marshalOrNil(v any) (any, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case []types.TestCase:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
