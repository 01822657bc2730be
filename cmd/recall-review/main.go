// Command recall-review is the CLI for review sessions and mastery reports.
//
// Usage:
//
//	recall-review session  [-minutes 30] [-mode both] [-topic X] [-ratio 0.5]
//	recall-review grade    -card ID -rating good
//	recall-review end      -session ID
//	recall-review due
//	recall-review mastery  [-top 10]
//	recall-review weak
//	recall-review curve    -topic X [-days 30]
//	recall-review snapshot
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/contentstore/sqlite"
	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/review"
	"github.com/scrypster/recall/pkg/types"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	db, err := sqlite.Open(cfg.Storage.DataPath + "/recall.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	store, err := review.NewStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize review store: %v", err)
	}
	ledger, err := costledger.New(db)
	if err != nil {
		log.Fatalf("Failed to initialize cost ledger: %v", err)
	}

	fsrs := review.NewScheduler()
	gen := review.NewGenerator(store, llm.NewOpenAIClient(cfg.LLM), ledger)
	mastery := review.NewService(store, fsrs)
	composer := review.NewComposer(store, fsrs, gen, mastery)
	composer.Recompute = mastery

	ctx := context.Background()
	now := time.Now().UTC()

	var cmdErr error
	switch os.Args[1] {
	case "session":
		cmdErr = runSession(ctx, composer, os.Args[2:])
	case "cards":
		cmdErr = runCards(ctx, store, gen, os.Args[2:])
	case "grade":
		cmdErr = runGrade(ctx, store, fsrs, now, os.Args[2:])
	case "end":
		cmdErr = runEnd(ctx, composer, os.Args[2:])
	case "due":
		cmdErr = runDue(ctx, store, fsrs, now)
	case "mastery":
		cmdErr = runMastery(ctx, mastery, now, os.Args[2:])
	case "weak":
		cmdErr = runWeak(ctx, mastery, now)
	case "curve":
		cmdErr = runCurve(ctx, mastery, os.Args[2:])
	case "snapshot":
		cmdErr = runSnapshot(ctx, mastery, now)
	default:
		usage()
		os.Exit(2)
	}
	if cmdErr != nil {
		log.Fatalf("Error: %v", cmdErr)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: recall-review <session|cards|grade|end|due|mastery|weak|curve|snapshot> [flags]")
}

func runSession(ctx context.Context, composer *review.Composer, args []string) error {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	minutes := fs.Int("minutes", 30, "session length in minutes")
	mode := fs.String("mode", string(review.ModeBoth), "content mode: both, exercises_only, cards_only")
	topic := fs.String("topic", "", "restrict to one topic")
	ratio := fs.Float64("ratio", 0, "exercise time ratio override (0 = default)")
	source := fs.String("source", string(review.SourcePreferExisting), "exercise source: existing_only, prefer_existing, generate_new")
	fs.Parse(args)

	sess, err := composer.Compose(ctx, review.SessionRequest{
		DurationMinutes: *minutes,
		ContentMode:     review.ContentMode(*mode),
		ExerciseSource:  review.SourcePreference(*source),
		CardSource:      review.SourcePreference(*source),
		TopicFilter:     *topic,
		ExerciseRatio:   *ratio,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%.0f min planned)\n\n", sess.ID, sess.Minutes)
	for i, item := range sess.Items {
		switch item.Kind {
		case "card":
			fmt.Printf("%2d. [card %s] %s\n", i+1, item.Card.CardType, item.Card.Front)
			fmt.Printf("    id: %s\n", item.Card.ID)
		case "exercise":
			fmt.Printf("%2d. [%s / %s] %s\n", i+1, item.Exercise.ExerciseType, item.Exercise.Difficulty, item.Exercise.Prompt)
			fmt.Printf("    id: %s\n", item.Exercise.ID)
		}
	}
	if len(sess.Items) == 0 {
		fmt.Println("Nothing to review right now.")
	}
	return nil
}

// runCards generates new topic cards on demand and persists them.
func runCards(ctx context.Context, store *review.Store, gen *review.Generator, args []string) error {
	fs := flag.NewFlagSet("cards", flag.ExitOnError)
	topic := fs.String("topic", "", "topic to generate cards for")
	count := fs.Int("n", 5, "number of cards")
	fs.Parse(args)

	if *topic == "" {
		return fmt.Errorf("cards requires -topic")
	}
	cards, err := gen.GenerateTopicCards(ctx, *topic, *count)
	if err != nil {
		return err
	}
	if err := store.SaveCards(ctx, cards); err != nil {
		return err
	}
	fmt.Printf("Generated %d cards for %q:\n", len(cards), *topic)
	for _, card := range cards {
		fmt.Printf("  [%s] %s\n", card.CardType, card.Front)
	}
	return nil
}

func runGrade(ctx context.Context, store *review.Store, fsrs *review.Scheduler, now time.Time, args []string) error {
	fs := flag.NewFlagSet("grade", flag.ExitOnError)
	cardID := fs.String("card", "", "card id")
	ratingName := fs.String("rating", "", "again, hard, good, or easy")
	fs.Parse(args)

	if *cardID == "" {
		return fmt.Errorf("grade requires -card")
	}
	rating, err := parseRating(*ratingName)
	if err != nil {
		return err
	}

	card, err := store.GetCard(ctx, *cardID)
	if err != nil {
		return err
	}
	reviewLog := fsrs.Review(card, rating, now)
	if err := store.SaveCard(ctx, card); err != nil {
		return err
	}
	if err := store.SaveReviewLog(ctx, &reviewLog); err != nil {
		return err
	}

	fmt.Printf("%s: %s -> %s, next due %s (in %d days)\n",
		card.ID, reviewLog.StateBefore, card.State,
		card.DueDate.Format("2006-01-02"), card.ScheduledDays)
	return nil
}

func runEnd(ctx context.Context, composer *review.Composer, args []string) error {
	fs := flag.NewFlagSet("end", flag.ExitOnError)
	sessionID := fs.String("session", "", "session id")
	fs.Parse(args)

	if *sessionID == "" {
		return fmt.Errorf("end requires -session")
	}
	sess, err := composer.EndSession(ctx, *sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s: %.1f min, %d exercises (%d correct, avg score %.2f)\n",
		sess.ID, sess.DurationMinutes, sess.ExerciseCount, sess.CorrectCount, sess.AverageScore)
	return nil
}

func runDue(ctx context.Context, store *review.Store, fsrs *review.Scheduler, now time.Time) error {
	cards, err := store.AllCards(ctx)
	if err != nil {
		return err
	}
	forecast := fsrs.Forecast(cards, now)
	fmt.Printf("Review forecast (%d cards):\n", len(cards))
	for _, bucket := range []string{review.BucketOverdue, review.BucketToday, review.BucketTomorrow, review.BucketThisWeek, review.BucketLater} {
		fmt.Printf("  %-10s %d\n", bucket, forecast[bucket])
	}
	return nil
}

func runMastery(ctx context.Context, mastery *review.Service, now time.Time, args []string) error {
	fs := flag.NewFlagSet("mastery", flag.ExitOnError)
	top := fs.Int("top", 10, "number of topics to show")
	fs.Parse(args)

	overview, err := mastery.BuildOverview(ctx, now, *top)
	if err != nil {
		return err
	}
	fmt.Printf("Cards: %d total, %d mastered, %d learning, %d new\n",
		overview.TotalCards, overview.CardsMastered, overview.CardsLearning, overview.CardsNew)
	fmt.Printf("Average mastery: %.2f   Practice streak: %d days\n\n", overview.AverageMastery, overview.PracticeStreak)
	for _, tm := range overview.TopTopics {
		fmt.Printf("  %-30s %.2f  (%s, %d cards)\n", tm.Topic, tm.MasteryScore, tm.Trend, tm.CardCount)
	}
	return nil
}

func runWeak(ctx context.Context, mastery *review.Service, now time.Time) error {
	spots, err := mastery.WeakSpots(ctx, now)
	if err != nil {
		return err
	}
	if len(spots) == 0 {
		fmt.Println("No weak spots. Keep going.")
		return nil
	}
	for _, spot := range spots {
		fmt.Printf("%-30s %.2f (%s)\n", spot.Topic, spot.MasteryScore, spot.Trend)
		fmt.Printf("  %s\n", spot.Recommendation)
	}
	return nil
}

func runCurve(ctx context.Context, mastery *review.Service, args []string) error {
	fs := flag.NewFlagSet("curve", flag.ExitOnError)
	topic := fs.String("topic", "", "topic path")
	days := fs.Int("days", 30, "window in days")
	fs.Parse(args)

	if *topic == "" {
		return fmt.Errorf("curve requires -topic")
	}
	curve, err := mastery.Curve(ctx, *topic, *days)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", curve.Topic, curve.Trend)
	for _, p := range curve.Points {
		fmt.Printf("  %s  %.2f\n", p.Date.Format("2006-01-02"), p.Score)
	}
	for _, p := range curve.Projected {
		fmt.Printf("  %s  %.2f (projected)\n", p.Date.Format("2006-01-02"), p.Score)
	}
	return nil
}

func runSnapshot(ctx context.Context, mastery *review.Service, now time.Time) error {
	n, err := mastery.SnapshotDaily(ctx, now)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d topic snapshots.\n", n)
	return nil
}

func parseRating(name string) (types.Rating, error) {
	for _, r := range []types.Rating{types.RatingAgain, types.RatingHard, types.RatingGood, types.RatingEasy} {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown rating %q (use again, hard, good, or easy)", name)
}
