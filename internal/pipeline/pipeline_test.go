// File path: internal/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/excavator-project/excavator/internal/capability/local"
	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/vector"
)

func newTestPipeline(t *testing.T) (*Pipeline, *catalog.Store, *vector.Local) {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	vec, err := vector.OpenLocal(filepath.Join(dir, "vectors"))
	if err != nil {
		t.Fatalf("open vectors: %v", err)
	}
	p := New(cat, vec, local.NewEmbedder(), local.NewExtractor(), 500, 1000)
	return p, cat, vec
}

const planDoc = `# Rollout plan

Alice Chen will coordinate with Acme Corp on the rollout. Alice Chen
owns the kubernetes migration and Alice Chen reviews the docker images.

## Phase one

Acme Corp provides the staging environment. We deploy with terraform
and monitor everything in the new pipeline.
`

func TestProcessFileEndToEnd(t *testing.T) {
	ctx := context.Background()
	p, cat, vec := newTestPipeline(t)

	path := filepath.Join(t.TempDir(), "plan.md")
	if err := os.WriteFile(path, []byte(planDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := p.ProcessFile(ctx, path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.ChunkCount == 0 {
		t.Fatal("no chunks")
	}
	if result.EntityCount < 5 {
		t.Errorf("entities = %d, want >= 5", result.EntityCount)
	}
	if result.EmbeddingCount != result.ChunkCount {
		t.Errorf("embeddings %d != chunks %d", result.EmbeddingCount, result.ChunkCount)
	}

	file, err := cat.GetFile(ctx, result.FileID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if file.Status != catalog.FileIndexed {
		t.Errorf("status = %s, want indexed", file.Status)
	}

	// Every chunk of an indexed file must have a vector.
	chunks, _ := cat.IterChunks(ctx, result.FileID)
	ids, _ := vec.ListIDs(ctx)
	have := map[string]bool{}
	for _, id := range ids {
		have[id] = true
	}
	for _, ch := range chunks {
		if !have[ch.ID] {
			t.Errorf("chunk %s has no vector", ch.ID)
		}
	}

	// Read-back equals extractor output up to chunk boundaries.
	var rebuilt strings.Builder
	for _, ch := range chunks {
		rebuilt.WriteString(ch.Content)
		rebuilt.WriteString("\n")
	}
	if !strings.Contains(rebuilt.String(), "Alice Chen will coordinate") {
		t.Error("chunks do not reconstruct content")
	}

	// Semantic query returns one of the file's chunks.
	results, err := vector.QueryByText(ctx, p.embedder, vec, "rollout plan", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("query returned nothing")
	}
	found := false
	for _, r := range results {
		if have[r.ChunkID] {
			found = true
		}
	}
	if !found {
		t.Error("no indexed chunk returned")
	}
}

func TestProcessFileDeterministicChunks(t *testing.T) {
	ctx := context.Background()
	p, cat, _ := newTestPipeline(t)
	path := filepath.Join(t.TempDir(), "plan.md")
	if err := os.WriteFile(path, []byte(planDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	first, err := p.ProcessFile(ctx, path)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	chunks1, _ := cat.IterChunks(ctx, first.FileID)

	// Re-extraction of unchanged content yields identical chunks, no
	// duplicates.
	second, err := p.ProcessFile(ctx, path)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	chunks2, _ := cat.IterChunks(ctx, second.FileID)
	if len(chunks1) != len(chunks2) {
		t.Fatalf("chunk count changed: %d vs %d", len(chunks1), len(chunks2))
	}
	for i := range chunks1 {
		if chunks1[i].ID != chunks2[i].ID || chunks1[i].Content != chunks2[i].Content {
			t.Errorf("chunk %d not deterministic", i)
		}
	}
}

func TestProcessFAE(t *testing.T) {
	ctx := context.Background()
	p, cat, _ := newTestPipeline(t)
	export := `[
  {"uuid": "c1", "name": "Planning", "created_at": "2024-03-01T10:00:00Z",
   "updated_at": "2024-03-01T11:00:00Z",
   "chat_messages": [
     {"uuid": "m1", "sender": "human", "text": "Talk to Alice Chen about docker", "created_at": "2024-03-01T10:00:00Z"}
   ]}
]`
	path := filepath.Join(t.TempDir(), "conversations.json")
	if err := os.WriteFile(path, []byte(export), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := p.ProcessFAE(ctx, path, "auto")
	if err != nil {
		t.Fatalf("process fae: %v", err)
	}
	if result.ChunkCount == 0 {
		t.Fatal("fae import produced no chunks")
	}
	file, err := cat.GetFile(ctx, result.FileID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if file.SourceID != "fae:claude" {
		t.Errorf("source = %q, want fae:claude", file.SourceID)
	}
	if file.Status != catalog.FileIndexed {
		t.Errorf("status = %s", file.Status)
	}
}

func TestProcessFileFailureRecorded(t *testing.T) {
	ctx := context.Background()
	p, cat, _ := newTestPipeline(t)
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte(`{"unterminated`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := p.ProcessFile(ctx, path); err == nil {
		t.Fatal("malformed file processed without error")
	}
	file, err := cat.GetFileByPath(ctx, path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if file.Status != catalog.FileFailed {
		t.Errorf("status = %s, want failed", file.Status)
	}
	if file.ErrorMessage == "" {
		t.Error("error string not recorded")
	}
}

func TestReconcileReembedsMissingVectors(t *testing.T) {
	ctx := context.Background()
	p, cat, vec := newTestPipeline(t)
	path := filepath.Join(t.TempDir(), "plan.md")
	if err := os.WriteFile(path, []byte(planDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := p.ProcessFile(ctx, path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	chunks, _ := cat.IterChunks(ctx, result.FileID)

	// Simulate vector loss for one chunk plus an orphan vector.
	if err := vec.Delete(ctx, []string{chunks[0].ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	orphan := vector.Record{ChunkID: "chunk_orphan", Vector: make([]float32, 384)}
	if err := vec.Upsert(ctx, []vector.Record{orphan}); err != nil {
		t.Fatalf("orphan upsert: %v", err)
	}

	report, err := p.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.ReEmbedded != 1 {
		t.Errorf("re-embedded = %d, want 1", report.ReEmbedded)
	}
	if report.OrphansDeleted != 1 {
		t.Errorf("orphans deleted = %d, want 1", report.OrphansDeleted)
	}
	ids, _ := vec.ListIDs(ctx)
	have := map[string]bool{}
	for _, id := range ids {
		have[id] = true
	}
	if !have[chunks[0].ID] {
		t.Error("missing vector not restored")
	}
	if have["chunk_orphan"] {
		t.Error("orphan vector survived reconciliation")
	}
}

func TestFileIDChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	if err := os.WriteFile(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	info1, _ := os.Stat(path)
	id1 := FileID(path, info1.Size(), info1.ModTime())
	id1again := FileID(path, info1.Size(), info1.ModTime())
	if id1 != id1again {
		t.Error("file id not stable")
	}
	id2 := FileID(path, info1.Size()+10, info1.ModTime())
	if id1 == id2 {
		t.Error("file id ignores size change")
	}
}
