// File path: internal/vector/store.go

// Package vector maintains the approximate-nearest-neighbor index over
// chunk embeddings. The catalog is the source of truth: this store must
// tolerate being rebuilt from it, so every operation is keyed by chunk id
// and the reconciliation pass can enumerate and delete entries.
package vector

import (
	"context"

	"github.com/excavator-project/excavator/internal/capability"
)

// Record is one chunk embedding with its retrieval payload.
type Record struct {
	ChunkID  string                 `json:"chunk_id"`
	Vector   []float32              `json:"vector"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Result is one nearest-neighbor hit.
type Result struct {
	ChunkID string                 `json:"chunk_id"`
	Score   float32                `json:"score"`
	Content string                 `json:"content"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Store is the vector index contract.
type Store interface {
	Available() bool
	Collection() string
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, records []Record) error
	QueryByVector(ctx context.Context, vector []float32, k int) ([]Result, error)
	// ListIDs enumerates every stored chunk id, for reconciliation.
	ListIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, chunkIDs []string) error
	SizeBytes() int64
	Close() error
}

// QueryByText embeds the query text and searches the store with it.
func QueryByText(ctx context.Context, emb capability.Embedder, s Store, text string, k int) ([]Result, error) {
	vectors, err := emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return s.QueryByVector(ctx, vectors[0], k)
}

// VectorDimension returns the dimensionality of the first non-empty vector.
func VectorDimension(v [][]float32) int {
	for _, vec := range v {
		if len(vec) > 0 {
			return len(vec)
		}
	}
	return 0
}
