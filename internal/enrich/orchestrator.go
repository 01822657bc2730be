package enrich

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/taxonomy"
	"github.com/scrypster/recall/internal/vault"
	"github.com/scrypster/recall/pkg/types"
)

// FailureClass sorts stage failures into how the caller should react.
type FailureClass string

const (
	// FailRetryable marks transient LLM/API errors; the stage is retried
	// with exponential backoff up to the configured cap.
	FailRetryable FailureClass = "retryable"

	// FailData marks malformed model output that survived the retries; the
	// run fails and the content is left in failed state.
	FailData FailureClass = "data"

	// FailFatal marks invariant violations (store failures, impossible
	// state); these escalate to the caller unchanged.
	FailFatal FailureClass = "fatal"
)

// StageError wraps a stage failure with its name and class.
type StageError struct {
	Stage string
	Class FailureClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// CardGenerator produces spaced-repetition cards from a completed run. The
// review package provides the real implementation.
type CardGenerator interface {
	GenerateFromRun(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun) (int, error)
}

// RunListener receives a notification when a processing run finishes,
// completed or failed. Used to push live status to websocket clients.
type RunListener interface {
	RunFinished(contentUUID, title string, run *types.ProcessingRun)
}

// CardCleaner deletes cards owned by a content record. Used by the reprocess
// cleanup pass only when the delete-cards policy flag is set.
type CardCleaner interface {
	DeleteCardsForContent(ctx context.Context, contentUUID string) (int, error)
}

// Orchestrator runs the staged enrichment pipeline for one content record.
// Stages run strictly in order; a failed stage stops the run. Costs from all
// stages are batched to the ledger when the run ends, success or not.
type Orchestrator struct {
	store  contentstore.Store
	vault  *vault.Manager
	graph  Graph
	writer *Writer
	llm    llm.Client
	tax    *taxonomy.Loader
	ledger costledger.BatchRecorder
	cfg    config.ProcessingConfig

	// Cards, when set, generates cards after the enrichment stages.
	Cards CardGenerator

	// CardCleaner, when set, backs the delete-cards-on-reprocess policy.
	CardCleaner CardCleaner

	// Events, when set, is told about finished runs.
	Events RunListener
}

func NewOrchestrator(
	store contentstore.Store,
	manager *vault.Manager,
	g Graph,
	client llm.Client,
	tax *taxonomy.Loader,
	ledger costledger.BatchRecorder,
	cfg config.ProcessingConfig,
) *Orchestrator {
	return &Orchestrator{
		store:  store,
		vault:  manager,
		graph:  g,
		writer: NewWriter(store, manager, g),
		llm:    client,
		tax:    tax,
		ledger: ledger,
		cfg:    cfg,
	}
}

// Process runs the full enrichment pipeline for one content record.
func (o *Orchestrator) Process(ctx context.Context, contentUUID string) error {
	record, err := o.store.Load(ctx, contentUUID)
	if err != nil {
		return err
	}
	if err := o.store.UpdateStatus(ctx, contentUUID, types.StatusProcessing); err != nil {
		return err
	}

	o.cleanupBeforeReprocess(ctx, record)

	tracker := costledger.NewCollector("enrichment")
	defer tracker.Flush(ctx, o.ledger)

	run := &types.ProcessingRun{
		ContentUUID: contentUUID,
		Status:      types.RunRunning,
		Model:       o.llm.Model(),
		StartedAt:   time.Now().UTC(),
	}

	var embedding []float32
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"analysis", func(ctx context.Context) error { return o.analyze(ctx, record, run, tracker) }},
		{"summaries", func(ctx context.Context) error { return o.summarize(ctx, record, run, tracker) }},
		{"extraction", func(ctx context.Context) error { return o.extract(ctx, record, run, tracker) }},
		{"tags", func(ctx context.Context) error { return o.classifyTags(ctx, record, run, tracker) }},
		{"connections", func(ctx context.Context) (err error) {
			embedding, err = o.discoverConnections(ctx, record, run, tracker)
			return err
		}},
		{"followups", func(ctx context.Context) error { return o.followupsAndQuestions(ctx, record, run, tracker) }},
	}
	for _, stage := range stages {
		if err := o.runStage(ctx, stage.name, stage.fn); err != nil {
			return o.failRun(ctx, record, run, tracker, err)
		}
	}

	// Cards are regenerable; a failure here does not fail the run.
	if o.Cards != nil {
		if n, err := o.Cards.GenerateFromRun(ctx, record, run); err != nil {
			log.Printf("enrich: card generation failed for %s: %v", contentUUID, err)
		} else if n > 0 {
			log.Printf("enrich: generated %d cards for %s", n, contentUUID)
		}
	}

	now := time.Now().UTC()
	run.Status = types.RunCompleted
	run.CompletedAt = &now
	run.CostUSD, run.LatencyMS = tracker.Total()

	if err := o.writer.Write(ctx, record, run, embedding); err != nil {
		return o.failRun(ctx, record, run, tracker, &StageError{Stage: "persist", Class: FailFatal, Err: err})
	}
	if err := o.store.UpdateStatus(ctx, contentUUID, types.StatusProcessed); err != nil {
		return err
	}
	log.Printf("enrich: processed %s (%d concepts, %d connections, $%.4f)",
		contentUUID, conceptCount(run), len(run.Connections), run.CostUSD)
	if o.Events != nil {
		o.Events.RunFinished(contentUUID, record.Title, run)
	}
	return nil
}

// runStage retries retryable failures with exponential backoff and wraps the
// final error with its stage name and class.
func (o *Orchestrator) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	maxRetries := o.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	delay := o.cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	maxDelay := o.cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if classifyFailure(err) != FailRetryable || attempt == maxRetries {
			break
		}
		log.Printf("enrich: stage %s attempt %d/%d failed, retrying in %s: %v",
			name, attempt, maxRetries, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &StageError{Stage: name, Class: FailRetryable, Err: ctx.Err()}
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
	return &StageError{Stage: name, Class: classifyFailure(err), Err: err}
}

func classifyFailure(err error) FailureClass {
	switch {
	case errors.Is(err, llm.ErrBadReply):
		return FailData
	case errors.Is(err, llm.ErrCircuitOpen):
		return FailRetryable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailRetryable
	case llm.IsRetryable(err):
		return FailRetryable
	default:
		return FailFatal
	}
}

// failRun records the failure on the run, persists it, and leaves the
// content in failed state. The stage error propagates unchanged.
func (o *Orchestrator) failRun(ctx context.Context, record *types.ContentRecord, run *types.ProcessingRun, tracker *costledger.Collector, stageErr error) error {
	now := time.Now().UTC()
	run.Status = types.RunFailed
	run.Error = stageErr.Error()
	run.CompletedAt = &now
	run.CostUSD, run.LatencyMS = tracker.Total()

	if err := o.store.SaveRun(ctx, run); err != nil {
		log.Printf("enrich: failed to save failed run for %s: %v", record.ContentUUID, err)
	}
	if err := o.store.UpdateStatus(ctx, record.ContentUUID, types.StatusFailed); err != nil {
		log.Printf("enrich: failed to mark %s failed: %v", record.ContentUUID, err)
	}
	if o.Events != nil {
		o.Events.RunFinished(record.ContentUUID, record.Title, run)
	}
	return stageErr
}

// cleanupBeforeReprocess clears the previous run's artifacts so reprocessing
// is idempotent: prior run rows, outgoing graph edges (the node survives),
// optionally prior cards, and duplicate concept notes in the vault.
func (o *Orchestrator) cleanupBeforeReprocess(ctx context.Context, record *types.ContentRecord) {
	if _, err := o.store.LatestRun(ctx, record.ContentUUID); err != nil {
		if !errors.Is(err, contentstore.ErrNotFound) {
			log.Printf("enrich: cannot check prior runs for %s: %v", record.ContentUUID, err)
		}
		return
	}

	if n, err := o.store.DeleteRuns(ctx, record.ContentUUID); err != nil {
		log.Printf("enrich: failed to delete prior runs for %s: %v", record.ContentUUID, err)
	} else if n > 0 {
		log.Printf("enrich: reprocessing %s, deleted %d prior runs", record.ContentUUID, n)
	}

	if o.graph != nil {
		if err := o.graph.DeleteContentRelationships(ctx, record.ContentUUID); err != nil {
			log.Printf("enrich: failed to delete graph edges for %s: %v", record.ContentUUID, err)
		}
	}

	if o.cfg.DeleteCardsOnReprocess && o.CardCleaner != nil {
		if n, err := o.CardCleaner.DeleteCardsForContent(ctx, record.ContentUUID); err != nil {
			log.Printf("enrich: failed to delete cards for %s: %v", record.ContentUUID, err)
		} else if n > 0 {
			log.Printf("enrich: deleted %d cards for %s", n, record.ContentUUID)
		}
	}

	o.cleanDuplicateConceptNotes()
}

var dupSuffixRe = regexp.MustCompile(`^(.+)_(\d+)$`)

// cleanDuplicateConceptNotes removes collision-suffixed concept notes
// (name_2.md) whose base note still exists. Suffixed notes appear when a
// reprocess raced a concept note that was being rewritten.
func (o *Orchestrator) cleanDuplicateConceptNotes() {
	abs, err := o.vault.ListNotes()
	if err != nil {
		log.Printf("enrich: cannot list vault notes: %v", err)
		return
	}
	// ListNotes returns absolute paths; DeleteNote wants vault-relative.
	notes := make([]string, 0, len(abs))
	for _, p := range abs {
		rel, err := filepath.Rel(o.vault.Root(), p)
		if err != nil {
			continue
		}
		notes = append(notes, filepath.ToSlash(rel))
	}
	existing := make(map[string]bool, len(notes))
	for _, rel := range notes {
		existing[rel] = true
	}
	for _, rel := range notes {
		if !strings.HasPrefix(rel, "concepts/") {
			continue
		}
		base := strings.TrimSuffix(path.Base(rel), ".md")
		m := dupSuffixRe.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		original := path.Join(path.Dir(rel), m[1]+".md")
		if !existing[original] {
			continue
		}
		if err := o.vault.DeleteNote(rel); err != nil {
			log.Printf("enrich: failed to remove duplicate concept note %s: %v", rel, err)
		} else {
			log.Printf("enrich: removed duplicate concept note %s", rel)
		}
	}
}

func conceptCount(run *types.ProcessingRun) int {
	if run.Extraction == nil {
		return 0
	}
	return len(run.Extraction.Concepts)
}
