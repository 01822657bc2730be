package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// Generator produces cards from extracted concepts and exercises on demand.
type Generator struct {
	store  *Store
	llm    llm.Client
	ledger costledger.BatchRecorder

	// MaxExamples and MaxMisconceptions cap the per-concept card fan-out.
	MaxExamples        int
	MaxMisconceptions  int

	// PropertiesThreshold is the minimum property count that earns a
	// properties card.
	PropertiesThreshold int
}

// NewGenerator creates a generator with the default per-concept caps.
func NewGenerator(store *Store, client llm.Client, ledger costledger.BatchRecorder) *Generator {
	return &Generator{
		store:               store,
		llm:                 client,
		ledger:              ledger,
		MaxExamples:         2,
		MaxMisconceptions:   2,
		PropertiesThreshold: 3,
	}
}

// GenerateFromRun turns the run's extracted concepts into cards and persists
// them. Returns the number of cards created.
func (g *Generator) GenerateFromRun(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun) (int, error) {
	if run.Extraction == nil {
		return 0, nil
	}
	now := time.Now().UTC()
	var cards []*types.Card
	for i := range run.Extraction.Concepts {
		cards = append(cards, g.cardsFromConcept(&run.Extraction.Concepts[i], record, now)...)
	}
	if len(cards) == 0 {
		return 0, nil
	}
	if err := g.store.SaveCards(ctx, cards); err != nil {
		return 0, fmt.Errorf("failed to save generated cards: %w", err)
	}
	return len(cards), nil
}

// cardsFromConcept emits the deterministic card set for one concept:
// definition, why-it-matters, capped example and misconception cards, and a
// properties card when the concept has enough of them. All start new, due
// immediately, tagged with the content's tags.
func (g *Generator) cardsFromConcept(c *types.Concept, record *types.ContentRecord, now time.Time) []*types.Card {
	if c.Definition == "" {
		return nil
	}
	var cards []*types.Card
	add := func(cardType types.CardType, front, back string) {
		cards = append(cards, &types.Card{
			ID:                uuid.NewString(),
			CardType:          cardType,
			Front:             front,
			Back:              back,
			Tags:              append([]string{}, record.Tags...),
			SourceContentUUID: record.ContentUUID,
			SourceConcept:     c.CanonicalName,
			State:             types.StateNew,
			DueDate:           now,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	add(types.CardDefinition, fmt.Sprintf("What is %s?", c.Name), c.Definition)
	if c.WhyItMatters != "" {
		add(types.CardApplication, fmt.Sprintf("Why does %s matter?", c.Name), c.WhyItMatters)
	}
	for i, example := range c.Examples {
		if i == g.MaxExamples {
			break
		}
		add(types.CardExample, fmt.Sprintf("Give an example of %s.", c.Name), example)
	}
	for i, m := range c.Misconceptions {
		if i == g.MaxMisconceptions {
			break
		}
		add(types.CardMisconception,
			fmt.Sprintf("True or false: %s", m),
			fmt.Sprintf("False. %s: %s", c.Name, c.Definition))
	}
	if len(c.Properties) >= g.PropertiesThreshold {
		add(types.CardProperties,
			fmt.Sprintf("List the key properties of %s.", c.Name),
			"- "+strings.Join(c.Properties, "\n- "))
	}
	return cards
}

// GenerateTopicCards asks the model for n cards about a topic, grounding the
// prompt in matching stored content and existing exercises.
func (g *Generator) GenerateTopicCards(ctx context.Context, topic string, n int) ([]*types.Card, error) {
	if n <= 0 {
		n = 5
	}
	costs := costledger.NewCollector("review")
	defer costs.Flush(ctx, g.ledger)

	var contextParts []string
	docs, err := g.store.TopicContext(ctx, topic, 5)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		contextParts = append(contextParts, fmt.Sprintf("## %s\n%s", doc.Title, doc.Excerpt))
	}
	existing, err := g.store.ExercisesByTopic(ctx, topic, 5)
	if err != nil {
		return nil, err
	}
	for _, ex := range existing {
		contextParts = append(contextParts, "Existing exercise: "+ex.Prompt)
	}

	var out struct {
		Cards []struct {
			CardType   string   `json:"card_type"`
			Front      string   `json:"front"`
			Back       string   `json:"back"`
			Hints      []string `json:"hints"`
			Difficulty string   `json:"difficulty"`
		} `json:"cards"`
	}
	usage, err := g.llm.CompleteJSON(ctx, fmt.Sprintf(
		`Create %d varied spaced-repetition cards about "%s". Mix card types: definition, application, example, misconception, comparison.
Respond with JSON only: {"cards": [{"card_type": "definition", "front": "...", "back": "...", "hints": ["..."], "difficulty": "foundational|intermediate|advanced"}]}

Context from the user's knowledge base:
%s`, n, topic, strings.Join(contextParts, "\n\n")), &out)
	costs.Add(usage, types.RequestText, "", "topic_cards")
	if err != nil {
		return nil, fmt.Errorf("failed to generate topic cards: %w", err)
	}

	now := time.Now().UTC()
	var cards []*types.Card
	for _, raw := range out.Cards {
		if raw.Front == "" || raw.Back == "" {
			continue
		}
		cardType := types.CardType(raw.CardType)
		switch cardType {
		case types.CardDefinition, types.CardApplication, types.CardExample,
			types.CardMisconception, types.CardComparison, types.CardProperties:
		default:
			cardType = types.CardDefinition
		}
		cards = append(cards, &types.Card{
			ID:         uuid.NewString(),
			CardType:   cardType,
			Front:      raw.Front,
			Back:       raw.Back,
			Hints:      raw.Hints,
			Tags:       []string{topic},
			State:      types.StateNew,
			Difficulty: difficultyParam(raw.Difficulty),
			DueDate:    now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("model produced no usable cards for topic %q", topic)
	}
	if err := g.store.SaveCards(ctx, cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// difficultyParam maps the difficulty keyword onto an initial scheduler
// difficulty. Unknown keywords land in the middle.
func difficultyParam(keyword string) float64 {
	switch types.ExerciseDifficulty(strings.ToLower(keyword)) {
	case types.DifficultyFoundational:
		return 3
	case types.DifficultyIntermediate:
		return 5
	case types.DifficultyAdvanced:
		return 7
	}
	return 5
}

// exerciseTypeForMastery picks a type matched to the learner's level:
// novices get worked examples, intermediates get recall and application,
// advanced learners get code work.
func exerciseTypeForMastery(mastery float64) (types.ExerciseType, types.ExerciseDifficulty) {
	switch {
	case mastery < 0.3:
		return types.ExerciseWorkedExample, types.DifficultyFoundational
	case mastery < 0.6:
		return types.ExerciseRecall, types.DifficultyIntermediate
	default:
		return types.ExerciseCodeDebug, types.DifficultyAdvanced
	}
}

// GenerateExercise creates one exercise for a topic at a difficulty matched
// to the given mastery score, validates the model output, and persists it.
func (g *Generator) GenerateExercise(ctx context.Context, topic string, mastery float64) (*types.Exercise, error) {
	exType, difficulty := exerciseTypeForMastery(mastery)

	costs := costledger.NewCollector("review")
	defer costs.Flush(ctx, g.ledger)

	var raw struct {
		Prompt            string           `json:"prompt"`
		Hints             []string         `json:"hints"`
		ExpectedKeyPoints []string         `json:"expected_key_points"`
		WorkedExample     string           `json:"worked_example"`
		FollowUpProblem   string           `json:"follow_up_problem"`
		Language          string           `json:"language"`
		StarterCode       string           `json:"starter_code"`
		SolutionCode      string           `json:"solution_code"`
		TestCases         []types.TestCase `json:"test_cases"`
		BuggyCode         string           `json:"buggy_code"`
		EstimatedMinutes  int              `json:"estimated_time_minutes"`
	}
	usage, err := g.llm.CompleteJSON(ctx, exercisePrompt(topic, exType, difficulty), &raw)
	costs.Add(usage, types.RequestText, "", "exercise")
	if err != nil {
		return nil, fmt.Errorf("failed to generate exercise: %w", err)
	}

	ex := &types.Exercise{
		ID:                   uuid.NewString(),
		ExerciseType:         exType,
		Topic:                topic,
		Difficulty:           difficulty,
		Prompt:               strings.TrimSpace(raw.Prompt),
		Hints:                raw.Hints,
		ExpectedKeyPoints:    raw.ExpectedKeyPoints,
		WorkedExample:        raw.WorkedExample,
		FollowUpProblem:      raw.FollowUpProblem,
		Language:             raw.Language,
		StarterCode:          raw.StarterCode,
		SolutionCode:         raw.SolutionCode,
		TestCases:            raw.TestCases,
		BuggyCode:            raw.BuggyCode,
		EstimatedTimeMinutes: raw.EstimatedMinutes,
		CreatedAt:            time.Now().UTC(),
	}
	if err := validateExercise(ex); err != nil {
		return nil, fmt.Errorf("model produced invalid exercise: %w", err)
	}
	if err := g.store.SaveExercise(ctx, ex); err != nil {
		return nil, err
	}
	return ex, nil
}

func exercisePrompt(topic string, exType types.ExerciseType, difficulty types.ExerciseDifficulty) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Create one %s practice exercise about "%s" at %s difficulty.
Respond with JSON only: {"prompt": "...", "hints": ["..."], "expected_key_points": ["..."], "estimated_time_minutes": 10`, exType, topic, difficulty)
	switch exType {
	case types.ExerciseWorkedExample:
		b.WriteString(`, "worked_example": "full step-by-step solution", "follow_up_problem": "a similar problem to try alone"`)
	case types.ExerciseCodeImplement, types.ExerciseCodeComplete:
		b.WriteString(`, "language": "python", "starter_code": "...", "solution_code": "...", "test_cases": [{"input": "...", "expected": "..."}]`)
	case types.ExerciseCodeDebug, types.ExerciseCodeRefactor:
		b.WriteString(`, "language": "python", "buggy_code": "...", "solution_code": "..."`)
	}
	b.WriteString("}")
	return b.String()
}

// validateExercise rejects model output missing the fields its type requires.
func validateExercise(ex *types.Exercise) error {
	if ex.Prompt == "" {
		return fmt.Errorf("empty prompt")
	}
	switch ex.ExerciseType {
	case types.ExerciseWorkedExample:
		if ex.WorkedExample == "" {
			return fmt.Errorf("worked_example exercise missing worked example")
		}
	case types.ExerciseCodeImplement, types.ExerciseCodeComplete:
		if ex.SolutionCode == "" {
			return fmt.Errorf("code exercise missing solution")
		}
		if len(ex.TestCases) == 0 {
			return fmt.Errorf("code exercise missing test cases")
		}
	case types.ExerciseCodeDebug, types.ExerciseCodeRefactor:
		if ex.BuggyCode == "" || ex.SolutionCode == "" {
			return fmt.Errorf("debug exercise missing buggy or solution code")
		}
	}
	return nil
}
