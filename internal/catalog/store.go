// File path: internal/catalog/store.go

// Package catalog implements the relational Catalog Store: the single
// source of truth for files, chunks, entities, patterns, discoveries, jobs,
// and multimedia side-tables. WAL journaling gives concurrent readers
// without blocking the single writer.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/xerrors"
)

const component = "catalog"

// Store wraps a WAL-mode SQLite database holding the catalog tables.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if absent) the catalog database at path and runs
// migrations. The DSN sets a busy timeout and foreign-key enforcement;
// the migration switches the database to WAL mode so concurrent readers
// never block the single writer.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(60000)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.New(xerrors.Fatal, component, fmt.Errorf("open %s: %w", path, err))
	}
	db.SetMaxOpenConns(1) // single-writer discipline; WAL still allows concurrent readers via separate connections opened read-only elsewhere.
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.New(xerrors.Fatal, component, err)
	}
	logging.With(component).Info("catalog opened", "path", path)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	// SQLite refuses to switch journal_mode inside a transaction, so the
	// PRAGMA statements run first, outside the migration transaction.
	var ddl []string
	for _, stmt := range schemaStatements {
		if !strings.HasPrefix(stmt, "PRAGMA") {
			ddl = append(ddl, stmt)
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %q: %w", stmt, err)
		}
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %q: %w", stmt, err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for packages (queue) that share the same
// database file under a distinct table namespace.
func (s *Store) DB() *sqlx.DB { return s.db }

// --- Files -----------------------------------------------------------------

// UpsertFile inserts or updates a FileRecord, keyed by path. A changed
// file re-derives its content id; the update cascades to chunk and entity
// rows via ON UPDATE CASCADE.
func (s *Store) UpsertFile(ctx context.Context, f FileRecord) error {
	if f.ID == "" || f.Path == "" {
		return xerrors.ProgrammerErrorf(component, "upsert file: missing id or path")
	}
	const q = `
INSERT INTO files (id, path, filename, extension, size_bytes, created_at, modified_at, discovered_at, indexed_at, content_hash, status, error_message, retry_count, word_count, source_id)
VALUES (:id, :path, :filename, :extension, :size_bytes, :created_at, :modified_at, :discovered_at, :indexed_at, :content_hash, :status, :error_message, :retry_count, :word_count, :source_id)
ON CONFLICT(path) DO UPDATE SET
	id=excluded.id, filename=excluded.filename, extension=excluded.extension, size_bytes=excluded.size_bytes,
	modified_at=excluded.modified_at, indexed_at=excluded.indexed_at, content_hash=excluded.content_hash,
	status=excluded.status, error_message=excluded.error_message, retry_count=excluded.retry_count,
	word_count=excluded.word_count, source_id=excluded.source_id`
	_, err := s.db.NamedExecContext(ctx, q, f)
	if err != nil {
		return xerrors.New(xerrors.TransientIO, component, fmt.Errorf("upsert file %s: %w", f.Path, err))
	}
	return nil
}

// SetFileStatus transitions a file's status and optional error string.
func (s *Store) SetFileStatus(ctx context.Context, fileID string, status FileStatus, errMsg string) error {
	const q = `UPDATE files SET status=?, error_message=? WHERE id=?`
	_, err := s.db.ExecContext(ctx, q, status, errMsg, fileID)
	if err != nil {
		return xerrors.New(xerrors.TransientIO, component, fmt.Errorf("set file status %s: %w", fileID, err))
	}
	return nil
}

// MarkIndexed sets a file's status to indexed and stamps indexed_at.
func (s *Store) MarkIndexed(ctx context.Context, fileID string) error {
	now := time.Now().UTC()
	const q = `UPDATE files SET status='indexed', indexed_at=?, error_message='' WHERE id=?`
	_, err := s.db.ExecContext(ctx, q, now, fileID)
	return err
}

// GetFileByPath returns the file record for an exact path, if any.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*FileRecord, error) {
	var f FileRecord
	err := s.db.GetContext(ctx, &f, `SELECT * FROM files WHERE path=?`, path)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFile returns the file record by id.
func (s *Store) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	var f FileRecord
	if err := s.db.GetContext(ctx, &f, `SELECT * FROM files WHERE id=?`, id); err != nil {
		return nil, err
	}
	return &f, nil
}

// IterFiles streams file records, optionally filtered by status, to fn.
// Returns as soon as fn returns an error or false.
func (s *Store) IterFiles(ctx context.Context, status FileStatus, fn func(FileRecord) (bool, error)) error {
	query := `SELECT * FROM files`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var f FileRecord
		if err := rows.StructScan(&f); err != nil {
			return err
		}
		cont, err := fn(f)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return rows.Err()
}

// --- Chunks ------------------------------------------------------------------

// InsertChunks inserts chunks for a file, replacing any prior chunks for
// that file (re-extraction path).
func (s *Store) InsertChunks(ctx context.Context, fileID string, chunks []ChunkRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id=?`, fileID); err != nil {
		return fmt.Errorf("clear old chunks: %w", err)
	}
	const q = `INSERT INTO chunks (id, file_id, chunk_index, content, chunk_type, token_count, start_offset, end_offset)
VALUES (:id, :file_id, :chunk_index, :content, :chunk_type, :token_count, :start_offset, :end_offset)`
	for _, c := range chunks {
		if c.FileID == "" {
			return xerrors.ProgrammerErrorf(component, "chunk %s missing file_id", c.ID)
		}
		if _, err := tx.NamedExecContext(ctx, q, c); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// IterChunks streams a file's chunks ordered by index.
func (s *Store) IterChunks(ctx context.Context, fileID string) ([]ChunkRecord, error) {
	var out []ChunkRecord
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM chunks WHERE file_id=? ORDER BY chunk_index`, fileID)
	return out, err
}

// GetChunk returns a chunk by id.
func (s *Store) GetChunk(ctx context.Context, id string) (*ChunkRecord, error) {
	var c ChunkRecord
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM chunks WHERE id=?`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// AllChunkIDs returns every chunk id, used by the reconciliation pass.
func (s *Store) AllChunkIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM chunks`)
	return ids, err
}

// DeleteChunk removes one chunk row by id. Reconciliation does not call it:
// a vector with no backing chunk is deleted from the vector store instead.
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id=?`, id)
	return err
}

// --- Entities ----------------------------------------------------------------

// InsertEntities inserts entity occurrences for a chunk. An entity occurrence
// without a backing chunk is rejected.
func (s *Store) InsertEntities(ctx context.Context, entities []EntityRecord) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	const q = `INSERT INTO entities (id, file_id, chunk_id, entity_type, value, normalized, confidence, context, position)
VALUES (:id, :file_id, :chunk_id, :entity_type, :value, :normalized, :confidence, :context, :position)`
	for _, e := range entities {
		if e.ChunkID == "" || e.FileID == "" {
			return xerrors.ProgrammerErrorf(component, "entity %s missing chunk_id/file_id", e.ID)
		}
		if _, err := tx.NamedExecContext(ctx, q, e); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// IterEntities streams every entity occurrence, used by consolidation.
func (s *Store) IterEntities(ctx context.Context, fn func(EntityRecord) (bool, error)) error {
	rows, err := s.db.QueryxContext(ctx, `
SELECT e.* FROM entities e
JOIN files f ON f.id = e.file_id
ORDER BY f.indexed_at ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var e EntityRecord
		if err := rows.StructScan(&e); err != nil {
			return err
		}
		cont, err := fn(e)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return rows.Err()
}

// EntityFileIndexedAt returns the indexed_at timestamp for the file owning
// an entity occurrence, used by consolidation's first/last-seen tracking.
func (s *Store) EntityFileIndexedAt(ctx context.Context, fileID string) (time.Time, error) {
	var t *time.Time
	err := s.db.GetContext(ctx, &t, `SELECT indexed_at FROM files WHERE id=?`, fileID)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}

// --- Consolidated entities -----------------------------------------------

// UpsertConsolidatedEntity stores (or overwrites) one consolidated entity.
func (s *Store) UpsertConsolidatedEntity(ctx context.Context, ce ConsolidatedEntity) error {
	const q = `
INSERT INTO global_entities (id, entity_type, canonical_value, normalized, variants, occurrence_count, file_ids, first_seen, last_seen)
VALUES (:id, :entity_type, :canonical_value, :normalized, :variants, :occurrence_count, :file_ids, :first_seen, :last_seen)
ON CONFLICT(entity_type, normalized) DO UPDATE SET
	canonical_value=excluded.canonical_value, variants=excluded.variants,
	occurrence_count=excluded.occurrence_count, file_ids=excluded.file_ids,
	first_seen=excluded.first_seen, last_seen=excluded.last_seen`
	_, err := s.db.NamedExecContext(ctx, q, ce)
	return err
}

// ListConsolidatedEntities returns consolidated entities, optionally
// filtered by type and minimum occurrence count.
func (s *Store) ListConsolidatedEntities(ctx context.Context, entityType string, minOccurrences, limit int) ([]ConsolidatedEntity, error) {
	query := `SELECT * FROM global_entities WHERE occurrence_count >= ?`
	args := []interface{}{minOccurrences}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY occurrence_count DESC LIMIT ?`
	args = append(args, limit)
	var out []ConsolidatedEntity
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// GetConsolidatedEntity returns one consolidated entity by id.
func (s *Store) GetConsolidatedEntity(ctx context.Context, id string) (*ConsolidatedEntity, error) {
	var ce ConsolidatedEntity
	if err := s.db.GetContext(ctx, &ce, `SELECT * FROM global_entities WHERE id=?`, id); err != nil {
		return nil, err
	}
	return &ce, nil
}

// --- Patterns ------------------------------------------------------------

// ReplacePatterns atomically marks all existing patterns stale and inserts
// the new set produced by a correlation run: prior patterns go stale
// rather than being deleted.
func (s *Store) ReplacePatterns(ctx context.Context, patterns []PatternRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE patterns SET stale=1`); err != nil {
		return err
	}
	const q = `INSERT INTO patterns (id, pattern_type, title, description, confidence, evidence, source_files, source_entities, first_seen, last_seen, stale)
VALUES (:id, :pattern_type, :title, :description, :confidence, :evidence, :source_files, :source_entities, :first_seen, :last_seen, 0)`
	for _, p := range patterns {
		if _, err := tx.NamedExecContext(ctx, q, p); err != nil {
			return fmt.Errorf("insert pattern %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// ListPatterns returns non-stale patterns, optionally filtered by type and
// minimum confidence.
func (s *Store) ListPatterns(ctx context.Context, patternType string, minConfidence float64) ([]PatternRecord, error) {
	query := `SELECT * FROM patterns WHERE stale=0 AND confidence >= ?`
	args := []interface{}{minConfidence}
	if patternType != "" {
		query += ` AND pattern_type = ?`
		args = append(args, patternType)
	}
	query += ` ORDER BY confidence DESC`
	var out []PatternRecord
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// --- Discoveries -----------------------------------------------------------

// UpsertDiscovery inserts or updates a discovery.
func (s *Store) UpsertDiscovery(ctx context.Context, d DiscoveryRecord) error {
	const q = `
INSERT INTO discoveries (id, pattern_id, discovery_type, title, description, confidence, evidence, sources, status, user_notes, graph_node_id, created_at, last_updated)
VALUES (:id, :pattern_id, :discovery_type, :title, :description, :confidence, :evidence, :sources, :status, :user_notes, :graph_node_id, :created_at, :last_updated)
ON CONFLICT(id) DO UPDATE SET
	pattern_id=excluded.pattern_id, title=excluded.title, description=excluded.description,
	confidence=excluded.confidence, evidence=excluded.evidence, sources=excluded.sources,
	status=excluded.status, user_notes=excluded.user_notes, graph_node_id=excluded.graph_node_id,
	last_updated=excluded.last_updated`
	_, err := s.db.NamedExecContext(ctx, q, d)
	return err
}

// ListDiscoveries returns discoveries, optionally filtered by type/status/
// minimum confidence. A nil status filter excludes dismissed discoveries,
// the default view a caller usually wants.
func (s *Store) ListDiscoveries(ctx context.Context, discoveryType string, status *DiscoveryStatus, minConfidence float64) ([]DiscoveryRecord, error) {
	query := `SELECT * FROM discoveries WHERE confidence >= ?`
	args := []interface{}{minConfidence}
	if discoveryType != "" {
		query += ` AND discovery_type = ?`
		args = append(args, discoveryType)
	}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	} else {
		query += ` AND status != ?`
		args = append(args, DiscoveryDismissed)
	}
	query += ` ORDER BY confidence DESC`
	var out []DiscoveryRecord
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// GetDiscovery returns a single discovery by id.
func (s *Store) GetDiscovery(ctx context.Context, id string) (*DiscoveryRecord, error) {
	var d DiscoveryRecord
	if err := s.db.GetContext(ctx, &d, `SELECT * FROM discoveries WHERE id=?`, id); err != nil {
		return nil, err
	}
	return &d, nil
}

// SetDiscoveryFeedback applies confirm/dismiss feedback, which locks the
// discovery against future supersession.
func (s *Store) SetDiscoveryFeedback(ctx context.Context, id string, status DiscoveryStatus, notes string) error {
	const q = `UPDATE discoveries SET status=?, user_notes=?, last_updated=? WHERE id=?`
	_, err := s.db.ExecContext(ctx, q, status, notes, time.Now().UTC(), id)
	return err
}

// SupersedeDiscovery marks a discovery superseded unless it has already
// been confirmed or dismissed by the user.
func (s *Store) SupersedeDiscovery(ctx context.Context, id string) error {
	const q = `UPDATE discoveries SET status='superseded', last_updated=? WHERE id=? AND status NOT IN ('confirmed','dismissed')`
	_, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	return err
}

// --- Side-metadata ---------------------------------------------------------

// UpsertImageMetadata stores image EXIF/GPS side-metadata. A signature
// mismatch (zero FileID) is a ProgrammerError, not a swallowed warning;
// a warn-and-continue here once masked record-shape drift for weeks.
func (s *Store) UpsertImageMetadata(ctx context.Context, m ImageMetadataRecord) error {
	if m.FileID == "" {
		return xerrors.ProgrammerErrorf(component, "image metadata missing file_id")
	}
	const q = `
INSERT INTO image_metadata (file_id, width, height, format, camera_make, camera_model, date_taken, latitude, longitude)
VALUES (:file_id, :width, :height, :format, :camera_make, :camera_model, :date_taken, :latitude, :longitude)
ON CONFLICT(file_id) DO UPDATE SET width=excluded.width, height=excluded.height, format=excluded.format,
	camera_make=excluded.camera_make, camera_model=excluded.camera_model, date_taken=excluded.date_taken,
	latitude=excluded.latitude, longitude=excluded.longitude`
	_, err := s.db.NamedExecContext(ctx, q, m)
	if err != nil {
		return xerrors.New(xerrors.ProgrammerError, component, fmt.Errorf("upsert image metadata %s: %w", m.FileID, err))
	}
	return nil
}

// UpsertAudioMetadata stores audio duration/codec side-metadata. See
// UpsertImageMetadata for the fatal-signature-mismatch rationale.
func (s *Store) UpsertAudioMetadata(ctx context.Context, m AudioMetadataRecord) error {
	if m.FileID == "" {
		return xerrors.ProgrammerErrorf(component, "audio metadata missing file_id")
	}
	const q = `
INSERT INTO audio_metadata (file_id, duration_seconds, bitrate, sample_rate, channels, codec)
VALUES (:file_id, :duration_seconds, :bitrate, :sample_rate, :channels, :codec)
ON CONFLICT(file_id) DO UPDATE SET duration_seconds=excluded.duration_seconds, bitrate=excluded.bitrate,
	sample_rate=excluded.sample_rate, channels=excluded.channels, codec=excluded.codec`
	_, err := s.db.NamedExecContext(ctx, q, m)
	if err != nil {
		return xerrors.New(xerrors.ProgrammerError, component, fmt.Errorf("upsert audio metadata %s: %w", m.FileID, err))
	}
	return nil
}

// InsertGPSLocation stores a GPS location side-record distinct from the
// generic image metadata record.
func (s *Store) InsertGPSLocation(ctx context.Context, g GPSLocationRecord) error {
	if g.FileID == "" || g.ID == "" {
		return xerrors.ProgrammerErrorf(component, "gps location missing id/file_id")
	}
	const q = `INSERT INTO gps_locations (id, file_id, latitude, longitude, location_name, captured_at)
VALUES (:id, :file_id, :latitude, :longitude, :location_name, :captured_at)`
	_, err := s.db.NamedExecContext(ctx, q, g)
	return err
}

// --- Audit + stats -----------------------------------------------------------

// LogAudit appends a correlation/operation audit event.
func (s *Store) LogAudit(ctx context.Context, event string, detail interface{}) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(data), time.Now().UTC())
	return err
}

// Stats returns the rollup used by the control plane's /status and /stats
// routes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	out.FilesByStatus = map[string]int{}
	out.EntitiesByType = map[string]int{}
	out.DiscoveriesByStatus = map[string]int{}

	if err := s.db.GetContext(ctx, &out.FilesTotal, `SELECT COUNT(*) FROM files`); err != nil {
		return out, err
	}
	if err := s.db.GetContext(ctx, &out.ChunksTotal, `SELECT COUNT(*) FROM chunks`); err != nil {
		return out, err
	}
	if err := s.db.GetContext(ctx, &out.EntitiesTotal, `SELECT COUNT(*) FROM entities`); err != nil {
		return out, err
	}
	if err := s.db.GetContext(ctx, &out.PatternsTotal, `SELECT COUNT(*) FROM patterns WHERE stale=0`); err != nil {
		return out, err
	}

	type countRow struct {
		Key   string `db:"k"`
		Count int    `db:"c"`
	}
	var fileRows []countRow
	if err := s.db.SelectContext(ctx, &fileRows, `SELECT status AS k, COUNT(*) AS c FROM files GROUP BY status`); err != nil {
		return out, err
	}
	for _, r := range fileRows {
		out.FilesByStatus[r.Key] = r.Count
	}
	var entRows []countRow
	if err := s.db.SelectContext(ctx, &entRows, `SELECT entity_type AS k, COUNT(*) AS c FROM entities GROUP BY entity_type`); err != nil {
		return out, err
	}
	for _, r := range entRows {
		out.EntitiesByType[r.Key] = r.Count
	}
	var discRows []countRow
	if err := s.db.SelectContext(ctx, &discRows, `SELECT status AS k, COUNT(*) AS c FROM discoveries GROUP BY status`); err != nil {
		return out, err
	}
	for _, r := range discRows {
		out.DiscoveriesByStatus[r.Key] = r.Count
	}
	return out, nil
}
