// Package sqlite implements the content store over a SQLite database using
// the CGO-free modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/pkg/types"
)

// Store implements contentstore.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dsn, configures WAL mode, and
// applies the schema. The returned *sql.DB is limited to a single open
// connection: SQLite supports one concurrent writer, and serializing writes
// through one connection avoids SQLITE_BUSY under concurrent load.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL lets readers proceed without blocking the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// NewStore creates a content store over an already-opened database handle.
// The handle may be shared with the cost ledger and review store, which keep
// their own tables in the same file.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle so sibling stores (cost ledger, review
// store) can share the single-connection database.
func (s *Store) DB() *sql.DB { return s.db }

// Save inserts a new content record or returns the identity of an existing
// duplicate. See contentstore.Store for the dedup contract.
func (s *Store) Save(ctx context.Context, record *types.ContentRecord) (*contentstore.SaveResult, error) {
	if record == nil {
		return nil, contentstore.ErrInvalidInput
	}
	if record.ContentUUID == "" {
		return nil, fmt.Errorf("%w: content UUID is required", contentstore.ErrInvalidInput)
	}
	if !record.SourceType.Valid() {
		return nil, fmt.Errorf("%w: unknown source type %q", contentstore.ErrInvalidInput, record.SourceType)
	}

	// Duplicate lookup by file hash or normalized URL among non-failed
	// records. Lookup errors are logged and fall through to insert.
	if existing := s.findDuplicate(ctx, record); existing != "" {
		return &contentstore.SaveResult{
			UUID:         existing,
			Deduped:      true,
			ExistingUUID: existing,
		}, nil
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.IngestedAt.IsZero() {
		record.IngestedAt = now
	}
	if record.ProcessingStatus == "" {
		record.ProcessingStatus = types.StatusPending
	}

	authorsJSON, err := marshalOrNil(record.Authors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authors: %w", err)
	}
	tagsJSON, err := marshalOrNil(record.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := marshalOrNil(record.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO content (
			content_uuid, source_type, title, authors,
			source_url, normalized_url, source_file_path,
			full_text, raw_file_hash, processing_status,
			vault_path, tags, metadata,
			created_at, ingested_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ContentUUID, string(record.SourceType), record.Title, authorsJSON,
		nullString(record.SourceURL), nullString(contentstore.NormalizeURL(record.SourceURL)), nullString(record.SourceFilePath),
		record.FullText, nullString(record.RawFileHash), string(record.ProcessingStatus),
		nullString(record.VaultPath), tagsJSON, metadataJSON,
		record.CreatedAt, record.IngestedAt, record.ProcessedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert content: %w", err)
	}

	contentID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert id: %w", err)
	}

	if err := insertAnnotations(ctx, tx, contentID, record.Annotations); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &contentstore.SaveResult{UUID: record.ContentUUID}, nil
}

// findDuplicate returns the UUID of an existing non-failed record matching
// the input's file hash or normalized URL, or "" when there is none.
func (s *Store) findDuplicate(ctx context.Context, record *types.ContentRecord) string {
	lookup := func(query, arg string) string {
		var uuid string
		err := s.db.QueryRowContext(ctx, query, arg).Scan(&uuid)
		switch {
		case err == sql.ErrNoRows:
			return ""
		case err != nil:
			log.Printf("contentstore: dedup lookup failed (falling through to insert): %v", err)
			return ""
		}
		return uuid
	}

	if record.RawFileHash != "" {
		if uuid := lookup(`
			SELECT content_uuid FROM content
			WHERE raw_file_hash = ? AND processing_status != 'failed'
			LIMIT 1`, record.RawFileHash); uuid != "" {
			return uuid
		}
	}

	if record.SourceURL != "" {
		if uuid := lookup(`
			SELECT content_uuid FROM content
			WHERE normalized_url = ? AND processing_status != 'failed'
			LIMIT 1`, contentstore.NormalizeURL(record.SourceURL)); uuid != "" {
			return uuid
		}
	}

	return ""
}

// Load retrieves a record by UUID with its annotations.
func (s *Store) Load(ctx context.Context, uuid string) (*types.ContentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_uuid, source_type, title, authors,
		       source_url, source_file_path, full_text, raw_file_hash,
		       processing_status, vault_path, tags, metadata,
		       created_at, ingested_at, processed_at
		FROM content WHERE content_uuid = ?`, uuid)

	record, contentID, err := scanContent(row)
	if err == sql.ErrNoRows {
		return nil, contentstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}

	annotations, err := s.loadAnnotations(ctx, contentID)
	if err != nil {
		return nil, err
	}
	record.Annotations = annotations

	return record, nil
}

// UpdateStatus transitions the processing status; reaching processed stamps
// processed_at.
func (s *Store) UpdateStatus(ctx context.Context, uuid string, status types.ProcessingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", contentstore.ErrInvalidInput, status)
	}

	var res sql.Result
	var err error
	if status == types.StatusProcessed {
		res, err = s.db.ExecContext(ctx, `
			UPDATE content SET processing_status = ?, processed_at = ?
			WHERE content_uuid = ?`, string(status), time.Now().UTC(), uuid)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE content SET processing_status = ?
			WHERE content_uuid = ?`, string(status), uuid)
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	return requireRow(res)
}

// UpdateContent replaces the enrichment-owned fields and annotation rows.
func (s *Store) UpdateContent(ctx context.Context, record *types.ContentRecord) error {
	if record == nil || record.ContentUUID == "" {
		return contentstore.ErrInvalidInput
	}

	contentID, err := s.dbIDByUUID(ctx, record.ContentUUID)
	if err != nil {
		return err
	}

	tagsJSON, err := marshalOrNil(record.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := marshalOrNil(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	authorsJSON, err := marshalOrNil(record.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE content
		SET title = ?, authors = ?, full_text = ?, vault_path = ?, tags = ?, metadata = ?
		WHERE id = ?`,
		record.Title, authorsJSON, record.FullText, nullString(record.VaultPath),
		tagsJSON, metadataJSON, contentID,
	); err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}

	// Annotations are replaced wholesale; they are owned by the record.
	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("failed to clear annotations: %w", err)
	}
	if err := insertAnnotations(ctx, tx, contentID, record.Annotations); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetPending lists pending records oldest-first.
func (s *Store) GetPending(ctx context.Context, limit int) ([]*types.ContentRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_uuid, source_type, title, authors,
		       source_url, source_file_path, full_text, raw_file_hash,
		       processing_status, vault_path, tags, metadata,
		       created_at, ingested_at, processed_at
		FROM content
		WHERE processing_status = 'pending'
		ORDER BY ingested_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending content: %w", err)
	}
	defer rows.Close()

	var records []*types.ContentRecord
	for rows.Next() {
		record, _, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending content: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes a record, its annotations, and its processing runs with
// their child rows. Each child table is enumerated explicitly.
func (s *Store) Delete(ctx context.Context, uuid string) error {
	contentID, err := s.dbIDByUUID(ctx, uuid)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteRunsTx(ctx, tx, contentID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("failed to delete annotations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, contentID); err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// dbIDByUUID resolves the internal row id for a content UUID. The id never
// leaves this package.
func (s *Store) dbIDByUUID(ctx context.Context, uuid string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM content WHERE content_uuid = ?`, uuid).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, contentstore.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve content id: %w", err)
	}
	return id, nil
}

// loadAnnotations fetches the annotation rows for a content id in insertion
// order.
func (s *Store) loadAnnotations(ctx context.Context, contentID int64) ([]types.Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, content, page_number, position, context, confidence
		FROM annotations WHERE content_id = ? ORDER BY seq ASC, id ASC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	var annotations []types.Annotation
	for rows.Next() {
		var (
			a            types.Annotation
			annType      string
			pageNumber   sql.NullInt64
			positionJSON sql.NullString
			context      sql.NullString
		)
		if err := rows.Scan(&annType, &a.Content, &pageNumber, &positionJSON, &context, &a.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		a.Type = types.AnnotationType(annType)
		if pageNumber.Valid {
			a.PageNumber = int(pageNumber.Int64)
		}
		if positionJSON.Valid && positionJSON.String != "" {
			if err := json.Unmarshal([]byte(positionJSON.String), &a.Position); err != nil {
				log.Printf("contentstore: invalid annotation position JSON (content %d): %v", contentID, err)
			}
		}
		a.Context = context.String
		annotations = append(annotations, a)
	}
	return annotations, rows.Err()
}

// insertAnnotations writes annotation child rows inside tx.
func insertAnnotations(ctx context.Context, tx *sql.Tx, contentID int64, annotations []types.Annotation) error {
	for i, a := range annotations {
		positionJSON, err := marshalOrNil(a.Position)
		if err != nil {
			return fmt.Errorf("failed to marshal annotation position: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotations (content_id, type, content, page_number, position, context, confidence, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			contentID, string(a.Type), a.Content, nullInt(a.PageNumber), positionJSON,
			nullString(a.Context), a.Confidence, i,
		); err != nil {
			return fmt.Errorf("failed to insert annotation: %w", err)
		}
	}
	return nil
}

// scanContent reads one content row from row (a *sql.Row or *sql.Rows).
func scanContent(row interface{ Scan(...any) error }) (*types.ContentRecord, int64, error) {
	var (
		record       types.ContentRecord
		contentID    int64
		sourceType   string
		status       string
		authorsJSON  sql.NullString
		sourceURL    sql.NullString
		sourcePath   sql.NullString
		rawFileHash  sql.NullString
		vaultPath    sql.NullString
		tagsJSON     sql.NullString
		metadataJSON sql.NullString
		processedAt  sql.NullTime
	)

	err := row.Scan(&contentID, &record.ContentUUID, &sourceType, &record.Title, &authorsJSON,
		&sourceURL, &sourcePath, &record.FullText, &rawFileHash,
		&status, &vaultPath, &tagsJSON, &metadataJSON,
		&record.CreatedAt, &record.IngestedAt, &processedAt)
	if err != nil {
		return nil, 0, err
	}

	record.SourceType = types.SourceType(sourceType)
	record.ProcessingStatus = types.ProcessingStatus(status)
	record.SourceURL = sourceURL.String
	record.SourceFilePath = sourcePath.String
	record.RawFileHash = rawFileHash.String
	record.VaultPath = vaultPath.String
	if processedAt.Valid {
		t := processedAt.Time
		record.ProcessedAt = &t
	}

	unmarshalInto(authorsJSON, &record.Authors)
	unmarshalInto(tagsJSON, &record.Tags)
	unmarshalInto(metadataJSON, &record.Metadata)

	return &record, contentID, nil
}

// unmarshalInto decodes a nullable JSON column, logging rather than failing
// on corrupt data.
func unmarshalInto(col sql.NullString, dst any) {
	if !col.Valid || col.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		log.Printf("contentstore: invalid JSON column: %v", err)
	}
}

// marshalOrNil returns JSON bytes for v, or nil when v is empty.
func marshalOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return contentstore.ErrNotFound
	}
	return nil
}

// Compile-time assertion.
var _ contentstore.Store = (*Store)(nil)
