// File path: internal/pipeline/pipeline.go

// Package pipeline converts one file into persisted chunks, entities,
// embeddings, and side-metadata as a single logically atomic operation.
// The catalog is the source of truth; the vector write happens
// last and is repaired by the reconciliation pass if it was lost.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/excavator-project/excavator/internal/capability"
	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/chunker"
	"github.com/excavator-project/excavator/internal/extract"
	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/vector"
	"github.com/excavator-project/excavator/internal/xerrors"
)

const component = "pipeline"

// Result is the outcome of processing one file.
type Result struct {
	FileID         string        `json:"file_id"`
	Path           string        `json:"path"`
	ChunkCount     int           `json:"chunk_count"`
	EntityCount    int           `json:"entity_count"`
	EmbeddingCount int           `json:"embedding_count"`
	WordCount      int           `json:"word_count"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Pipeline orchestrates registry, chunkers, NER, embedding, and the two
// stores.
type Pipeline struct {
	catalog  *catalog.Store
	vectors  vector.Store
	embedder capability.Embedder
	ner      capability.EntityExtractor
	registry *extract.Registry
	fae      *extract.FAEProcessor
	prose    *chunker.ProseChunker
	code     *chunker.CodeChunker
}

// New wires a pipeline against the given stores and capabilities.
func New(cat *catalog.Store, vec vector.Store, emb capability.Embedder, ner capability.EntityExtractor, minTokens, maxTokens int) *Pipeline {
	return &Pipeline{
		catalog:  cat,
		vectors:  vec,
		embedder: emb,
		ner:      ner,
		registry: extract.NewRegistry(),
		fae:      extract.NewFAEProcessor(),
		prose:    chunker.NewProseChunker(minTokens, maxTokens),
		code:     chunker.NewCodeChunker(100),
	}
}

// FileID derives the stable content-derived file identifier from canonical
// path, size, and mtime. A changed file gets a new id.
func FileID(path string, size int64, mtime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, size, mtime.UnixNano())))
	return "file_" + hex.EncodeToString(sum[:8])
}

func chunkID(fileID string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", fileID, index)))
	return "chunk_" + hex.EncodeToString(sum[:8])
}

// ProcessFile runs the full per-file extraction sequence. On failure the file
// record is marked failed with the error string; ProgrammerErrors propagate
// after being recorded.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	log := logging.With(component)

	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, component, fmt.Errorf("stat %s: %w", path, err))
	}
	fileID := FileID(path, info.Size(), info.ModTime())
	result := &Result{FileID: fileID, Path: path}

	file := catalog.FileRecord{
		ID:           fileID,
		Path:         path,
		Filename:     filepath.Base(path),
		Extension:    strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		SizeBytes:    info.Size(),
		ModifiedAt:   info.ModTime().UTC(),
		DiscoveredAt: time.Now().UTC(),
		Status:       catalog.FileExtracting,
	}
	if err := p.catalog.UpsertFile(ctx, file); err != nil {
		return nil, err
	}

	extraction, err := p.registry.Resolve(path).Extract(ctx, path)
	if err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	result.WordCount = extraction.WordCount

	if err := p.storeSideMetadata(ctx, fileID, extraction); err != nil {
		// Side-metadata signature drift is a ProgrammerError: record and
		// re-raise, never log-and-continue.
		p.failFile(ctx, fileID, err)
		return nil, err
	}

	chunks, err := p.chunk(extraction)
	if err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	if len(chunks) == 0 {
		log.Debug("no chunks produced", "path", path)
		if err := p.catalog.MarkIndexed(ctx, fileID); err != nil {
			return nil, err
		}
		result.Elapsed = time.Since(start)
		return result, nil
	}

	records := make([]catalog.ChunkRecord, len(chunks))
	for i, ch := range chunks {
		records[i] = catalog.ChunkRecord{
			ID:          chunkID(fileID, i),
			FileID:      fileID,
			ChunkIndex:  i,
			Content:     ch.Content,
			ChunkType:   catalog.ChunkType(ch.Type),
			TokenCount:  ch.TokenCount,
			StartOffset: ch.StartOffset,
			EndOffset:   ch.EndOffset,
		}
	}
	if err := p.catalog.InsertChunks(ctx, fileID, records); err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	result.ChunkCount = len(records)

	entities, err := p.extractEntities(ctx, fileID, records)
	if err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	if err := p.catalog.InsertEntities(ctx, entities); err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	result.EntityCount = len(entities)

	if err := p.embedChunks(ctx, path, fileID, records); err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	result.EmbeddingCount = len(records)

	if err := p.catalog.MarkIndexed(ctx, fileID); err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	log.Info("file indexed",
		"path", filepath.Base(path),
		"chunks", result.ChunkCount,
		"entities", result.EntityCount,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (p *Pipeline) chunk(extraction *extract.Result) ([]chunker.Chunk, error) {
	if len(extraction.CodeElements) > 0 {
		return p.code.Chunk(extraction.Content, extraction.CodeElements), nil
	}
	chunkType := "prose"
	if extraction.IsOCR {
		chunkType = "ocr"
	}
	return p.prose.Chunk(extraction.Content, chunkType)
}

// extractEntities runs NER per chunk and augments with the regex
// technology-term detector.
func (p *Pipeline) extractEntities(ctx context.Context, fileID string, chunks []catalog.ChunkRecord) ([]catalog.EntityRecord, error) {
	var out []catalog.EntityRecord
	for _, ch := range chunks {
		mentions, err := p.ner.Extract(ctx, ch.Content)
		if err != nil {
			return nil, fmt.Errorf("ner on chunk %s: %w", ch.ID, err)
		}
		mentions = append(mentions, capability.DetectTechTerms(ch.Content)...)
		seen := map[string]bool{}
		for _, m := range mentions {
			if strings.TrimSpace(m.Value) == "" {
				continue
			}
			key := m.Type + "|" + strings.ToLower(m.Value) + "|" + fmt.Sprint(m.Position)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, catalog.EntityRecord{
				ID:         uuid.NewString(),
				FileID:     fileID,
				ChunkID:    ch.ID,
				EntityType: catalog.EntityType(m.Type),
				Value:      m.Value,
				Normalized: capability.NormalizeEntity(m.Value),
				Confidence: m.Confidence,
				Context:    m.Context,
				Position:   m.Position,
			})
		}
	}
	return out, nil
}

func (p *Pipeline) embedChunks(ctx context.Context, path, fileID string, chunks []catalog.ChunkRecord) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return xerrors.ProgrammerErrorf(component, "embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if err := p.vectors.EnsureCollection(ctx, p.embedder.Dimension()); err != nil {
		return err
	}
	records := make([]vector.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = vector.Record{
			ChunkID: ch.ID,
			Vector:  vectors[i],
			Content: ch.Content,
			Metadata: map[string]interface{}{
				"file_id":     fileID,
				"file_path":   path,
				"chunk_index": ch.ChunkIndex,
				"chunk_type":  string(ch.ChunkType),
			},
		}
	}
	return p.vectors.Upsert(ctx, records)
}

// storeSideMetadata writes typed multimedia records. Any write failure here
// propagates: swallowing it historically masked record-shape drift.
func (p *Pipeline) storeSideMetadata(ctx context.Context, fileID string, extraction *extract.Result) error {
	if img := extraction.Image; img != nil {
		rec := catalog.ImageMetadataRecord{
			FileID:      fileID,
			Width:       img.Width,
			Height:      img.Height,
			Format:      img.Format,
			CameraMake:  img.CameraMake,
			CameraModel: img.CameraModel,
			DateTaken:   img.DateTaken,
			Latitude:    img.Latitude,
			Longitude:   img.Longitude,
		}
		if err := p.catalog.UpsertImageMetadata(ctx, rec); err != nil {
			return err
		}
		if img.Latitude != nil && img.Longitude != nil {
			gps := catalog.GPSLocationRecord{
				ID:        uuid.NewString(),
				FileID:    fileID,
				Latitude:  *img.Latitude,
				Longitude: *img.Longitude,
			}
			if img.DateTaken != nil {
				gps.CapturedAt = *img.DateTaken
			}
			if err := p.catalog.InsertGPSLocation(ctx, gps); err != nil {
				return err
			}
		}
	}
	if aud := extraction.Audio; aud != nil {
		rec := catalog.AudioMetadataRecord{
			FileID:          fileID,
			DurationSeconds: aud.DurationSeconds,
			Bitrate:         aud.Bitrate,
			SampleRate:      aud.SampleRate,
			Channels:        aud.Channels,
			Codec:           aud.Codec,
		}
		if err := p.catalog.UpsertAudioMetadata(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) failFile(ctx context.Context, fileID string, cause error) {
	if err := p.catalog.SetFileStatus(ctx, fileID, catalog.FileFailed, cause.Error()); err != nil {
		logging.With(component).Error("recording file failure failed", "file", fileID, "error", err)
	}
}

// MarkSkipped soft-deletes a file: the record is marked skipped but chunks
// stay.
func (p *Pipeline) MarkSkipped(ctx context.Context, path string) error {
	file, err := p.catalog.GetFileByPath(ctx, path)
	if err != nil {
		return nil // never indexed, nothing to skip
	}
	return p.catalog.SetFileStatus(ctx, file.ID, catalog.FileSkipped, "")
}

// ProcessFAE imports one conversational-AI export archive: each
// conversation is chunked, NER'd, and embedded under the single file
// record, exactly like ordinary document content.
func (p *Pipeline) ProcessFAE(ctx context.Context, path, provider string) (*Result, error) {
	start := time.Now()
	info, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, component, fmt.Errorf("stat %s: %w", path, err))
	}
	fileID := FileID(path, info.Size(), info.ModTime())
	result := &Result{FileID: fileID, Path: path}

	parsed, err := p.fae.Process(path, provider)
	if err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}

	file := catalog.FileRecord{
		ID:           fileID,
		Path:         path,
		Filename:     filepath.Base(path),
		Extension:    "json",
		SizeBytes:    info.Size(),
		ModifiedAt:   info.ModTime().UTC(),
		DiscoveredAt: time.Now().UTC(),
		Status:       catalog.FileExtracting,
		SourceID:     "fae:" + parsed.Provider,
	}
	if err := p.catalog.UpsertFile(ctx, file); err != nil {
		return nil, err
	}

	var records []catalog.ChunkRecord
	offset := 0
	for _, conv := range parsed.Conversations {
		text := conv.Text()
		chunks, err := p.prose.Chunk(text, "prose")
		if err != nil {
			p.failFile(ctx, fileID, err)
			return nil, err
		}
		for _, ch := range chunks {
			records = append(records, catalog.ChunkRecord{
				ID:          chunkID(fileID, len(records)),
				FileID:      fileID,
				ChunkIndex:  len(records),
				Content:     ch.Content,
				ChunkType:   catalog.ChunkProse,
				TokenCount:  ch.TokenCount,
				StartOffset: offset + ch.StartOffset,
				EndOffset:   offset + ch.EndOffset,
			})
		}
		offset += len(text)
		result.WordCount += len(strings.Fields(text))
	}
	if err := p.catalog.InsertChunks(ctx, fileID, records); err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	result.ChunkCount = len(records)

	entities, err := p.extractEntities(ctx, fileID, records)
	if err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	if err := p.catalog.InsertEntities(ctx, entities); err != nil {
		p.failFile(ctx, fileID, err)
		return nil, err
	}
	result.EntityCount = len(entities)

	if len(records) > 0 {
		if err := p.embedChunks(ctx, path, fileID, records); err != nil {
			p.failFile(ctx, fileID, err)
			return nil, err
		}
		result.EmbeddingCount = len(records)
	}
	if err := p.catalog.MarkIndexed(ctx, fileID); err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	logging.With(component).Info("fae import indexed",
		"path", filepath.Base(path),
		"provider", parsed.Provider,
		"conversations", len(parsed.Conversations),
		"chunks", result.ChunkCount,
	)
	return result, nil
}
