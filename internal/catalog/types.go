// File path: internal/catalog/types.go
package catalog

import "time"

// FileStatus is the lifecycle state of a File record.
type FileStatus string

const (
	FileDiscovered FileStatus = "discovered"
	FileQueued     FileStatus = "queued"
	FileExtracting FileStatus = "extracting"
	FileIndexed    FileStatus = "indexed"
	FileFailed     FileStatus = "failed"
	FileSkipped    FileStatus = "skipped"
)

// ChunkType classifies a chunk's content.
type ChunkType string

const (
	ChunkProse ChunkType = "prose"
	ChunkCode  ChunkType = "code"
	ChunkTable ChunkType = "table"
	ChunkOCR   ChunkType = "ocr"
)

// EntityType enumerates recognized named-entity categories.
type EntityType string

const (
	EntityPerson   EntityType = "PERSON"
	EntityOrg      EntityType = "ORG"
	EntityProject  EntityType = "PROJECT"
	EntityTech     EntityType = "TECH"
	EntityDate     EntityType = "DATE"
	EntityLocation EntityType = "LOCATION"
	EntityOther    EntityType = "OTHER"
)

// DiscoveryStatus is the Discovery lifecycle.
type DiscoveryStatus string

const (
	DiscoveryNew        DiscoveryStatus = "new"
	DiscoveryConfirmed  DiscoveryStatus = "confirmed"
	DiscoveryDismissed  DiscoveryStatus = "dismissed"
	DiscoverySuperseded DiscoveryStatus = "superseded"
)

// FileRecord is the persisted identity and lifecycle state of one file.
type FileRecord struct {
	ID           string     `db:"id"`
	Path         string     `db:"path"`
	Filename     string     `db:"filename"`
	Extension    string     `db:"extension"`
	SizeBytes    int64      `db:"size_bytes"`
	CreatedAt    time.Time  `db:"created_at"`
	ModifiedAt   time.Time  `db:"modified_at"`
	DiscoveredAt time.Time  `db:"discovered_at"`
	IndexedAt    *time.Time `db:"indexed_at"`
	ContentHash  string     `db:"content_hash"`
	Status       FileStatus `db:"status"`
	ErrorMessage string     `db:"error_message"`
	RetryCount   int        `db:"retry_count"`
	WordCount    int        `db:"word_count"`
	SourceID     string     `db:"source_id"`
}

// ChunkRecord is one contiguous span of a file's extractable content.
type ChunkRecord struct {
	ID          string    `db:"id"`
	FileID      string    `db:"file_id"`
	ChunkIndex  int       `db:"chunk_index"`
	Content     string    `db:"content"`
	ChunkType   ChunkType `db:"chunk_type"`
	TokenCount  int       `db:"token_count"`
	StartOffset int       `db:"start_offset"`
	EndOffset   int       `db:"end_offset"`
}

// EntityRecord is one named-entity mention inside a chunk. Immutable once
// written.
type EntityRecord struct {
	ID         string     `db:"id"`
	FileID     string     `db:"file_id"`
	ChunkID    string     `db:"chunk_id"`
	EntityType EntityType `db:"entity_type"`
	Value      string     `db:"value"`
	Normalized string     `db:"normalized"`
	Confidence float64    `db:"confidence"`
	Context    string     `db:"context"`
	Position   int        `db:"position"`
}

// ConsolidatedEntity is the post-correlation merged identity for a canonical
// surface form.
type ConsolidatedEntity struct {
	ID              string     `db:"id"`
	EntityType      EntityType `db:"entity_type"`
	CanonicalValue  string     `db:"canonical_value"`
	Normalized      string     `db:"normalized"`
	VariantsJSON    string     `db:"variants"`
	OccurrenceCount int        `db:"occurrence_count"`
	FileIDsJSON     string     `db:"file_ids"`
	FirstSeen       time.Time  `db:"first_seen"`
	LastSeen        time.Time  `db:"last_seen"`
}

// PatternRecord is a detected structural observation.
type PatternRecord struct {
	ID               string    `db:"id"`
	PatternType      string    `db:"pattern_type"`
	Title            string    `db:"title"`
	Description      string    `db:"description"`
	Confidence       float64   `db:"confidence"`
	EvidenceJSON     string    `db:"evidence"`
	SourceFilesJSON  string    `db:"source_files"`
	SourceEntitiesJSON string  `db:"source_entities"`
	FirstSeen        time.Time `db:"first_seen"`
	LastSeen         time.Time `db:"last_seen"`
	Stale            bool      `db:"stale"`
}

// DiscoveryRecord is a pattern promoted past the confidence/source-diversity
// thresholds.
type DiscoveryRecord struct {
	ID            string          `db:"id"`
	PatternID     string          `db:"pattern_id"`
	DiscoveryType string          `db:"discovery_type"`
	Title         string          `db:"title"`
	Description   string          `db:"description"`
	Confidence    float64         `db:"confidence"`
	EvidenceJSON  string          `db:"evidence"`
	SourcesJSON   string          `db:"sources"`
	Status        DiscoveryStatus `db:"status"`
	UserNotes     string          `db:"user_notes"`
	GraphNodeID   string          `db:"graph_node_id"`
	CreatedAt     time.Time       `db:"created_at"`
	LastUpdated   time.Time       `db:"last_updated"`
}

// JobRecord is a queue entry.
type JobRecord struct {
	ID           string     `db:"id"`
	JobType      string     `db:"job_type"`
	Status       string     `db:"status"`
	PayloadJSON  string     `db:"payload"`
	Priority     int        `db:"priority"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	Error        string     `db:"error"`
	AttemptCount int        `db:"attempt_count"`
	MaxRetries   int        `db:"max_retries"`
}

// ImageMetadataRecord is EXIF/GPS side-metadata for image files. Passed as a
// typed object end-to-end to avoid positional-argument drift.
type ImageMetadataRecord struct {
	FileID      string  `db:"file_id"`
	Width       int     `db:"width"`
	Height      int     `db:"height"`
	Format      string  `db:"format"`
	CameraMake  string  `db:"camera_make"`
	CameraModel string  `db:"camera_model"`
	DateTaken   *time.Time `db:"date_taken"`
	Latitude    *float64 `db:"latitude"`
	Longitude   *float64 `db:"longitude"`
}

// AudioMetadataRecord is duration/codec side-metadata for audio files.
type AudioMetadataRecord struct {
	FileID          string  `db:"file_id"`
	DurationSeconds float64 `db:"duration_seconds"`
	Bitrate         int     `db:"bitrate"`
	SampleRate      int     `db:"sample_rate"`
	Channels        int     `db:"channels"`
	Codec           string  `db:"codec"`
}

// GPSLocationRecord is a distinct location side-table, split out from image
// metadata to support a future location-based correlation axis.
type GPSLocationRecord struct {
	ID          string    `db:"id"`
	FileID      string    `db:"file_id"`
	Latitude    float64   `db:"latitude"`
	Longitude   float64   `db:"longitude"`
	LocationName string   `db:"location_name"`
	CapturedAt  time.Time `db:"captured_at"`
}

// Stats is the rollup returned by Store.Stats.
type Stats struct {
	FilesTotal      int            `json:"files_total"`
	FilesByStatus   map[string]int `json:"files_by_status"`
	ChunksTotal     int            `json:"chunks_total"`
	EntitiesTotal   int            `json:"entities_total"`
	EntitiesByType  map[string]int `json:"entities_by_type"`
	PatternsTotal   int            `json:"patterns_total"`
	DiscoveriesByStatus map[string]int `json:"discoveries_by_status"`
}
