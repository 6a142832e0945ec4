// File path: internal/pipeline/reconcile.go
package pipeline

import (
	"context"
	"fmt"

	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/vector"
)

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	ChunksChecked   int `json:"chunks_checked"`
	ReEmbedded      int `json:"re_embedded"`
	OrphansDeleted  int `json:"orphans_deleted"`
}

// Reconcile re-aligns the vector store with the catalog: chunks lacking
// vectors are re-embedded, vectors without a chunk row are deleted. Run
// on startup and on demand.
func (p *Pipeline) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	log := logging.With(component)
	report := &ReconcileReport{}

	chunkIDs, err := p.catalog.AllChunkIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog chunks: %w", err)
	}
	report.ChunksChecked = len(chunkIDs)

	vectorIDs, err := p.vectors.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vector ids: %w", err)
	}
	haveVector := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		haveVector[id] = true
	}
	isChunk := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		isChunk[id] = true
	}

	// Chunks lacking vectors: re-embed.
	var missing []string
	for _, id := range chunkIDs {
		if !haveVector[id] {
			missing = append(missing, id)
		}
	}
	for _, id := range missing {
		chunk, err := p.catalog.GetChunk(ctx, id)
		if err != nil {
			return report, fmt.Errorf("load chunk %s: %w", id, err)
		}
		vectors, err := p.embedder.Embed(ctx, []string{chunk.Content})
		if err != nil {
			return report, fmt.Errorf("re-embed chunk %s: %w", id, err)
		}
		if err := p.vectors.EnsureCollection(ctx, p.embedder.Dimension()); err != nil {
			return report, err
		}
		err = p.vectors.Upsert(ctx, []vector.Record{{
			ChunkID: id,
			Vector:  vectors[0],
			Content: chunk.Content,
			Metadata: map[string]interface{}{
				"file_id":     chunk.FileID,
				"chunk_index": chunk.ChunkIndex,
				"chunk_type":  string(chunk.ChunkType),
			},
		}})
		if err != nil {
			return report, fmt.Errorf("upsert re-embedded chunk %s: %w", id, err)
		}
		report.ReEmbedded++
	}

	// Vectors whose chunk row is absent: delete.
	var orphans []string
	for _, id := range vectorIDs {
		if !isChunk[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := p.vectors.Delete(ctx, orphans); err != nil {
			return report, fmt.Errorf("delete orphan vectors: %w", err)
		}
		report.OrphansDeleted = len(orphans)
	}

	if report.ReEmbedded > 0 || report.OrphansDeleted > 0 {
		log.Info("reconciliation repaired divergence",
			"re_embedded", report.ReEmbedded,
			"orphans_deleted", report.OrphansDeleted,
		)
	}
	return report, nil
}
