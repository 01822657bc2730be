package postgres

// Schema creates the content-store tables. Idempotent. The embedding column
// uses pgvector; the extension is created by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS content (
	id BIGSERIAL PRIMARY KEY,
	content_uuid TEXT NOT NULL UNIQUE,
	source_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	authors JSONB,
	source_url TEXT,
	normalized_url TEXT,
	source_file_path TEXT,
	full_text TEXT NOT NULL DEFAULT '',
	raw_file_hash TEXT,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	vault_path TEXT,
	tags JSONB,
	metadata JSONB,
	embedding vector(1536),
	created_at TIMESTAMPTZ NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_content_uuid ON content(content_uuid);
CREATE INDEX IF NOT EXISTS idx_content_type ON content(source_type);
CREATE INDEX IF NOT EXISTS idx_content_status ON content(processing_status);
CREATE INDEX IF NOT EXISTS idx_content_file_hash ON content(raw_file_hash);
CREATE INDEX IF NOT EXISTS idx_content_normalized_url ON content(normalized_url);

CREATE TABLE IF NOT EXISTS annotations (
	id BIGSERIAL PRIMARY KEY,
	content_id BIGINT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	page_number INTEGER,
	position JSONB,
	context TEXT,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	seq INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_annotations_content ON annotations(content_id);

CREATE TABLE IF NOT EXISTS processing_runs (
	id BIGSERIAL PRIMARY KEY,
	content_id BIGINT NOT NULL,
	status TEXT NOT NULL,
	analysis JSONB,
	summaries JSONB,
	extraction JSONB,
	tags JSONB,
	model TEXT,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_content ON processing_runs(content_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON processing_runs(status);

CREATE TABLE IF NOT EXISTS concept_records (
	id BIGSERIAL PRIMARY KEY,
	run_id BIGINT NOT NULL,
	name TEXT NOT NULL,
	canonical_name TEXT NOT NULL,
	aliases JSONB,
	definition TEXT,
	why_it_matters TEXT,
	examples JSONB,
	misconceptions JSONB,
	properties JSONB,
	importance TEXT NOT NULL,
	related JSONB
);

CREATE INDEX IF NOT EXISTS idx_concepts_run ON concept_records(run_id);
CREATE INDEX IF NOT EXISTS idx_concepts_canonical ON concept_records(canonical_name);

CREATE TABLE IF NOT EXISTS connection_records (
	id BIGSERIAL PRIMARY KEY,
	run_id BIGINT NOT NULL,
	source_uuid TEXT NOT NULL,
	target_uuid TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	strength DOUBLE PRECISION NOT NULL DEFAULT 0,
	explanation TEXT,
	verified_by_user BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_connections_run ON connection_records(run_id);

CREATE TABLE IF NOT EXISTS question_records (
	id BIGSERIAL PRIMARY KEY,
	run_id BIGINT NOT NULL,
	prompt TEXT NOT NULL,
	answer TEXT,
	difficulty TEXT
);

CREATE TABLE IF NOT EXISTS followup_records (
	id BIGSERIAL PRIMARY KEY,
	run_id BIGINT NOT NULL,
	description TEXT NOT NULL,
	kind TEXT
);
`
