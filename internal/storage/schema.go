package storage

import "context"

// Schema is the portable DDL for the TomeHub store. It runs unchanged on
// PostgreSQL and SQLite; vectors and string lists are stored as JSON text
// and served by the in-memory vector index after warming.
const Schema = `
CREATE TABLE IF NOT EXISTS library_items (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	item_type TEXT NOT NULL,
	title TEXT NOT NULL,
	author TEXT,
	summary TEXT,
	search_visibility TEXT NOT NULL DEFAULT 'DEFAULT',
	tags TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS library_items_user ON library_items (user_id);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL,
	ingestion_type TEXT NOT NULL DEFAULT 'MANUAL',
	text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	lemmas TEXT,
	page_number INTEGER,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	comment TEXT,
	tags TEXT,
	vector TEXT,
	embedding_model TEXT,
	rag_weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	search_visibility TEXT NOT NULL DEFAULT 'DEFAULT',
	ai_eligible BOOLEAN NOT NULL DEFAULT TRUE,
	content_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_item_hash ON chunks (item_id, content_hash);
CREATE INDEX IF NOT EXISTS chunks_user ON chunks (user_id);
CREATE INDEX IF NOT EXISTS chunks_item ON chunks (item_id);

CREATE TABLE IF NOT EXISTS shadow_chunks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT 'BOOK_CHUNK',
	ingestion_type TEXT NOT NULL DEFAULT 'PDF',
	text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	lemmas TEXT,
	page_number INTEGER,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	comment TEXT,
	tags TEXT,
	vector TEXT,
	embedding_model TEXT,
	rag_weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	search_visibility TEXT NOT NULL DEFAULT 'DEFAULT',
	ai_eligible BOOLEAN NOT NULL DEFAULT TRUE,
	content_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS shadow_chunks_item_hash ON shadow_chunks (item_id, content_hash);
CREATE INDEX IF NOT EXISTS shadow_chunks_user ON shadow_chunks (user_id);

CREATE TABLE IF NOT EXISTS concepts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	aliases TEXT,
	description TEXT,
	description_vector TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS concepts_normalized_name ON concepts (normalized_name);

CREATE TABLE IF NOT EXISTS concept_relations (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS concept_relations_edge ON concept_relations (source_id, target_id, relation_type);

CREATE TABLE IF NOT EXISTS concept_chunk_links (
	concept_id TEXT NOT NULL,
	chunk_id TEXT NOT NULL,
	strength DOUBLE PRECISION NOT NULL DEFAULT 0,
	justification TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (concept_id, chunk_id)
);

CREATE INDEX IF NOT EXISTS concept_chunk_links_chunk ON concept_chunk_links (chunk_id);

CREATE TABLE IF NOT EXISTS external_entities (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	label TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS external_entities_provider_ref ON external_entities (provider, external_id);

CREATE TABLE IF NOT EXISTS external_edges (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	source_entity_id TEXT NOT NULL,
	target_entity_id TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	provider TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS external_edges_item ON external_edges (user_id, item_id);

CREATE TABLE IF NOT EXISTS external_meta (
	item_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	match_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	edge_count INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS search_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	query TEXT NOT NULL,
	normalized_query TEXT NOT NULL DEFAULT '',
	intent TEXT NOT NULL DEFAULT '',
	router_mode TEXT NOT NULL DEFAULT '',
	result_count INTEGER NOT NULL DEFAULT 0,
	top_score DOUBLE PRECISION,
	top_chunk_id TEXT,
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	strategy_details TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS search_logs_user_time ON search_logs (user_id, created_at);
`

// EnsureSchema applies the DDL. Statements are idempotent.
func EnsureSchema(ctx context.Context, db DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
