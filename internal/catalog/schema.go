// File path: internal/catalog/schema.go
package catalog

// schemaStatements creates every catalog table. The leading PRAGMAs run
// first, outside any transaction; the table and index statements then run
// inside a single migration transaction in dependency order (files before
// chunks before entities, etc.) so foreign keys never reference a
// not-yet-created table.
var schemaStatements = []string{
	`PRAGMA journal_mode = WAL;`,
	`PRAGMA synchronous = NORMAL;`,
	`PRAGMA foreign_keys = ON;`,
	`PRAGMA busy_timeout = 60000;`,

	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		extension TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		modified_at TIMESTAMP,
		discovered_at TIMESTAMP NOT NULL,
		indexed_at TIMESTAMP,
		content_hash TEXT,
		status TEXT NOT NULL DEFAULT 'discovered',
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		source_id TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);`,
	`CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);`,

	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE ON UPDATE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		chunk_type TEXT NOT NULL DEFAULT 'prose',
		token_count INTEGER NOT NULL DEFAULT 0,
		start_offset INTEGER NOT NULL DEFAULT 0,
		end_offset INTEGER NOT NULL DEFAULT 0,
		UNIQUE(file_id, chunk_index)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);`,

	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE ON UPDATE CASCADE,
		chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE ON UPDATE CASCADE,
		entity_type TEXT NOT NULL,
		value TEXT NOT NULL,
		normalized TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		context TEXT,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_entities_normalized ON entities(normalized);`,
	`CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(file_id);`,

	`CREATE TABLE IF NOT EXISTS global_entities (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		canonical_value TEXT NOT NULL,
		normalized TEXT NOT NULL,
		variants TEXT NOT NULL DEFAULT '[]',
		occurrence_count INTEGER NOT NULL DEFAULT 0,
		file_ids TEXT NOT NULL DEFAULT '[]',
		first_seen TIMESTAMP,
		last_seen TIMESTAMP,
		UNIQUE(entity_type, normalized)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_global_entities_type ON global_entities(entity_type);`,

	`CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		pattern_type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		confidence REAL NOT NULL,
		evidence TEXT NOT NULL DEFAULT '[]',
		source_files TEXT NOT NULL DEFAULT '[]',
		source_entities TEXT NOT NULL DEFAULT '[]',
		first_seen TIMESTAMP,
		last_seen TIMESTAMP,
		stale INTEGER NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE IF NOT EXISTS discoveries (
		id TEXT PRIMARY KEY,
		pattern_id TEXT,
		discovery_type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		confidence REAL NOT NULL,
		evidence TEXT NOT NULL DEFAULT '[]',
		sources TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'new',
		user_notes TEXT,
		graph_node_id TEXT,
		created_at TIMESTAMP NOT NULL,
		last_updated TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_discoveries_confidence ON discoveries(confidence);`,
	`CREATE INDEX IF NOT EXISTS idx_discoveries_status ON discoveries(status);`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payload TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 3,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3
	);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_priority ON jobs(priority, created_at);`,

	`CREATE TABLE IF NOT EXISTS image_metadata (
		file_id TEXT PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE ON UPDATE CASCADE,
		width INTEGER,
		height INTEGER,
		format TEXT,
		camera_make TEXT,
		camera_model TEXT,
		date_taken TIMESTAMP,
		latitude REAL,
		longitude REAL
	);`,

	`CREATE TABLE IF NOT EXISTS audio_metadata (
		file_id TEXT PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE ON UPDATE CASCADE,
		duration_seconds REAL,
		bitrate INTEGER,
		sample_rate INTEGER,
		channels INTEGER,
		codec TEXT
	);`,

	`CREATE TABLE IF NOT EXISTS gps_locations (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE ON UPDATE CASCADE,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		location_name TEXT,
		captured_at TIMESTAMP
	);`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event TEXT NOT NULL,
		detail TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
}
