package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/pkg/types"
)

// SaveRun persists a processing run and its child rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *types.ProcessingRun) error {
	if run == nil || run.ContentUUID == "" {
		return contentstore.ErrInvalidInput
	}

	contentID, err := s.dbIDByUUID(ctx, run.ContentUUID)
	if err != nil {
		return err
	}

	analysisJSON, err := marshalPtr(run.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	summariesJSON, err := marshalMap(run.Summaries)
	if err != nil {
		return fmt.Errorf("failed to marshal summaries: %w", err)
	}
	extractionJSON, err := marshalPtr(run.Extraction)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction: %w", err)
	}
	tagsJSON, err := marshalPtr(run.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO processing_runs (
			content_id, status, analysis, summaries, extraction, tags,
			model, cost_usd, latency_ms, error, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		contentID, string(run.Status), analysisJSON, summariesJSON, extractionJSON, tagsJSON,
		nullString(run.Model), run.CostUSD, run.LatencyMS, nullString(run.Error),
		run.StartedAt, run.CompletedAt,
	).Scan(&runID)
	if err != nil {
		return fmt.Errorf("failed to insert processing run: %w", err)
	}
	run.ID = runID

	var concepts []types.Concept
	if run.Extraction != nil {
		concepts = run.Extraction.Concepts
	}
	for _, c := range concepts {
		aliasesJSON, err := marshalOrNil(c.Aliases)
		if err != nil {
			return fmt.Errorf("failed to marshal aliases: %w", err)
		}
		relatedJSON, err := marshalSlice(c.Related)
		if err != nil {
			return fmt.Errorf("failed to marshal related concepts: %w", err)
		}
		examplesJSON, err := marshalOrNil(c.Examples)
		if err != nil {
			return fmt.Errorf("failed to marshal examples: %w", err)
		}
		misconceptionsJSON, err := marshalOrNil(c.Misconceptions)
		if err != nil {
			return fmt.Errorf("failed to marshal misconceptions: %w", err)
		}
		propertiesJSON, err := marshalOrNil(c.Properties)
		if err != nil {
			return fmt.Errorf("failed to marshal properties: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO concept_records (
				run_id, name, canonical_name, aliases, definition,
				why_it_matters, examples, misconceptions, properties,
				importance, related
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			runID, c.Name, c.CanonicalName, aliasesJSON, nullString(c.Definition),
			nullString(c.WhyItMatters), examplesJSON, misconceptionsJSON, propertiesJSON,
			string(c.Importance), relatedJSON,
		); err != nil {
			return fmt.Errorf("failed to insert concept record: %w", err)
		}
	}

	for _, conn := range run.Connections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO connection_records (
				run_id, source_uuid, target_uuid, relationship_type,
				strength, explanation, verified_by_user
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, conn.SourceContent, conn.TargetContent, string(conn.RelationshipType),
			conn.Strength, nullString(conn.Explanation), conn.VerifiedByUser,
		); err != nil {
			return fmt.Errorf("failed to insert connection record: %w", err)
		}
	}

	for _, q := range run.Questions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO question_records (run_id, prompt, answer, difficulty)
			VALUES ($1, $2, $3, $4)`,
			runID, q.Prompt, nullString(q.Answer), nullString(q.Difficulty),
		); err != nil {
			return fmt.Errorf("failed to insert question record: %w", err)
		}
	}

	for _, f := range run.Followups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO followup_records (run_id, description, kind)
			VALUES ($1, $2, $3)`,
			runID, f.Description, nullString(f.Kind),
		); err != nil {
			return fmt.Errorf("failed to insert followup record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// LatestRun returns the most recent processing run for a content UUID.
// Child rows are not rehydrated; the run row carries the stage outputs.
func (s *Store) LatestRun(ctx context.Context, uuid string) (*types.ProcessingRun, error) {
	contentID, err := s.dbIDByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, analysis, summaries, extraction, tags,
		       model, cost_usd, latency_ms, error, started_at, completed_at
		FROM processing_runs
		WHERE content_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, contentID)

	var (
		run            types.ProcessingRun
		status         string
		analysisJSON   sql.NullString
		summariesJSON  sql.NullString
		extractionJSON sql.NullString
		tagsJSON       sql.NullString
		model          sql.NullString
		errText        sql.NullString
		completedAt    sql.NullTime
	)
	err = row.Scan(&run.ID, &status, &analysisJSON, &summariesJSON, &extractionJSON, &tagsJSON,
		&model, &run.CostUSD, &run.LatencyMS, &errText, &run.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, contentstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	run.ContentUUID = uuid
	run.Status = types.RunStatus(status)
	run.Model = model.String
	run.Error = errText.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	unmarshalInto(analysisJSON, &run.Analysis)
	unmarshalInto(summariesJSON, &run.Summaries)
	unmarshalInto(extractionJSON, &run.Extraction)
	unmarshalInto(tagsJSON, &run.Tags)

	return &run, nil
}

// DeleteRuns removes all processing runs for a content record and their
// child rows. Returns the number of runs removed.
func (s *Store) DeleteRuns(ctx context.Context, uuid string) (int, error) {
	contentID, err := s.dbIDByUUID(ctx, uuid)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processing_runs WHERE content_id = $1`, contentID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteRunsTx(ctx, tx, contentID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run deletion: %w", err)
	}
	return count, nil
}

// deleteRunsTx enumerates and deletes every child table of processing_runs
// for the given content id, then the runs themselves.
func deleteRunsTx(ctx context.Context, tx *sql.Tx, contentID int64) error {
	childTables := []string{"concept_records", "connection_records", "question_records", "followup_records"}
	for _, table := range childTables {
		query := fmt.Sprintf(`
			DELETE FROM %s WHERE run_id IN (
				SELECT id FROM processing_runs WHERE content_id = $1
			)`, table)
		if _, err := tx.ExecContext(ctx, query, contentID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM processing_runs WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("failed to delete processing runs: %w", err)
	}
	return nil
}

func marshalPtr[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func marshalMap[K comparable, V any](m map[K]V) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func marshalSlice[T any](s []T) ([]byte, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}
