// File path: internal/vector/local.go
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/excavator-project/excavator/internal/logging"
)

// Local is a brute-force cosine-similarity store persisted to a single file
// under the vector-index directory. It backs single-host installs without a
// chromadb server and every store test. Losing the file is recoverable: the
// reconciliation pass re-embeds from the catalog.
type Local struct {
	mu        sync.RWMutex
	path      string
	dimension int
	records   map[string]Record
	dirty     bool
}

// OpenLocal loads (creating if absent) the local index file at dir/index.json.
func OpenLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	s := &Local{path: filepath.Join(dir, "index.json"), records: map[string]Record{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read vector index: %w", err)
	}
	var persisted struct {
		Dimension int      `json:"dimension"`
		Records   []Record `json:"records"`
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		// A corrupt index is rebuilt from the catalog, not fatal.
		logging.With(component).Warn("vector index unreadable, starting empty", "path", s.path, "error", err)
		return s, nil
	}
	s.dimension = persisted.Dimension
	for _, rec := range persisted.Records {
		s.records[rec.ChunkID] = rec
	}
	return s, nil
}

func (s *Local) Available() bool     { return s != nil }
func (s *Local) Collection() string  { return "local" }
func (s *Local) SizeBytes() int64 {
	if s == nil {
		return 0
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Local) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("invalid vector dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = dim
		s.dirty = true
	}
	if s.dimension != dim {
		return fmt.Errorf("dimension mismatch: index has %d, got %d", s.dimension, dim)
	}
	return nil
}

func (s *Local) Upsert(ctx context.Context, records []Record) error {
	s.mu.Lock()
	for _, rec := range records {
		if rec.ChunkID == "" {
			s.mu.Unlock()
			return errors.New("record missing chunk id")
		}
		if s.dimension == 0 {
			s.dimension = len(rec.Vector)
		}
		if len(rec.Vector) != s.dimension {
			s.mu.Unlock()
			return fmt.Errorf("vector dimension mismatch: want %d, got %d", s.dimension, len(rec.Vector))
		}
		s.records[rec.ChunkID] = rec
	}
	s.dirty = true
	s.mu.Unlock()
	return s.flush()
}

func (s *Local) QueryByVector(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]Result, 0, len(s.records))
	for _, rec := range s.records {
		results = append(results, Result{
			ChunkID: rec.ChunkID,
			Score:   cosine(vector, rec.Vector),
			Content: rec.Content,
			Payload: rec.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Local) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Local) Delete(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	for _, id := range chunkIDs {
		delete(s.records, id)
	}
	s.dirty = true
	s.mu.Unlock()
	return s.flush()
}

// flush writes the index through a temp-file rename so a crash mid-write
// never leaves a truncated index.
func (s *Local) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	records := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ChunkID < records[j].ChunkID })
	data, err := json.Marshal(struct {
		Dimension int      `json:"dimension"`
		Records   []Record `json:"records"`
	}{Dimension: s.dimension, Records: records})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *Local) Close() error {
	if s == nil {
		return nil
	}
	return s.flush()
}

var _ Store = (*Local)(nil)

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
