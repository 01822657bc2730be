package sqlite

// Schema is the embedded SQLite schema for the content store. All statements
// are idempotent so the schema can be applied on every open.
//
// Cascade deletes are enumerated in code (see Delete and DeleteRuns) rather
// than declared on the foreign keys; the audit-trail tables reference
// processing_runs by integer id, and content children reference content by
// integer id.
const Schema = `
CREATE TABLE IF NOT EXISTS content (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_uuid TEXT NOT NULL UNIQUE,
	source_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	authors TEXT,
	source_url TEXT,
	normalized_url TEXT,
	source_file_path TEXT,
	full_text TEXT NOT NULL DEFAULT '',
	raw_file_hash TEXT,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	vault_path TEXT,
	tags TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	ingested_at TIMESTAMP NOT NULL,
	processed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_content_uuid ON content(content_uuid);
CREATE INDEX IF NOT EXISTS idx_content_type ON content(source_type);
CREATE INDEX IF NOT EXISTS idx_content_status ON content(processing_status);
CREATE INDEX IF NOT EXISTS idx_content_file_hash ON content(raw_file_hash);
CREATE INDEX IF NOT EXISTS idx_content_normalized_url ON content(normalized_url);

CREATE TABLE IF NOT EXISTS annotations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	page_number INTEGER,
	position TEXT,
	context TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_annotations_content ON annotations(content_id);

CREATE TABLE IF NOT EXISTS processing_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	analysis TEXT,
	summaries TEXT,
	extraction TEXT,
	tags TEXT,
	model TEXT,
	cost_usd REAL NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_content ON processing_runs(content_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON processing_runs(status);

CREATE TABLE IF NOT EXISTS concept_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	aliases TEXT,
	definition TEXT,
	why_it_matters TEXT,
	examples TEXT,
	misconceptions TEXT,
	properties TEXT,
	importance TEXT NOT NULL DEFAULT 'supporting',
	related TEXT
);

CREATE INDEX IF NOT EXISTS idx_concepts_run ON concept_records(run_id);
CREATE INDEX IF NOT EXISTS idx_concepts_canonical ON concept_records(canonical_name);

CREATE TABLE IF NOT EXISTS connection_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	source_uuid TEXT NOT NULL,
	target_uuid TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	strength REAL NOT NULL DEFAULT 0,
	explanation TEXT,
	verified_by_user INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_connections_run ON connection_records(run_id);

CREATE TABLE IF NOT EXISTS question_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	prompt TEXT NOT NULL,
	answer TEXT,
	difficulty TEXT
);

CREATE INDEX IF NOT EXISTS idx_questions_run ON question_records(run_id);

CREATE TABLE IF NOT EXISTS followup_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	description TEXT NOT NULL,
	kind TEXT
);

CREATE INDEX IF NOT EXISTS idx_followups_run ON followup_records(run_id);
`
