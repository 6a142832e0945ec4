// File path: internal/catalog/store_test.go
package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/excavator-project/excavator/internal/xerrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFile(t *testing.T, s *Store, id, path string) {
	t.Helper()
	err := s.UpsertFile(context.Background(), FileRecord{
		ID:           id,
		Path:         path,
		Filename:     filepath.Base(path),
		Extension:    "md",
		DiscoveredAt: time.Now().UTC(),
		Status:       FileQueued,
	})
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
}

func TestFileLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedFile(t, s, "file_1", "/tmp/plan.md")

	if err := s.MarkIndexed(ctx, "file_1"); err != nil {
		t.Fatalf("mark indexed: %v", err)
	}
	f, err := s.GetFileByPath(ctx, "/tmp/plan.md")
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	if f.Status != FileIndexed {
		t.Errorf("status = %s, want indexed", f.Status)
	}
	if f.IndexedAt == nil {
		t.Error("indexed_at not stamped")
	}

	if err := s.SetFileStatus(ctx, "file_1", FileFailed, "disk full"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	f, _ = s.GetFile(ctx, "file_1")
	if f.Status != FileFailed || f.ErrorMessage != "disk full" {
		t.Errorf("failure not recorded: %+v", f)
	}
}

func TestChunkReplaceOnReextraction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedFile(t, s, "file_1", "/tmp/a.md")

	first := []ChunkRecord{
		{ID: "c1", FileID: "file_1", ChunkIndex: 0, Content: "one", ChunkType: ChunkProse},
		{ID: "c2", FileID: "file_1", ChunkIndex: 1, Content: "two", ChunkType: ChunkProse},
	}
	if err := s.InsertChunks(ctx, "file_1", first); err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	second := []ChunkRecord{
		{ID: "c3", FileID: "file_1", ChunkIndex: 0, Content: "rewritten", ChunkType: ChunkProse},
	}
	if err := s.InsertChunks(ctx, "file_1", second); err != nil {
		t.Fatalf("re-insert chunks: %v", err)
	}
	chunks, err := s.IterChunks(ctx, "file_1")
	if err != nil {
		t.Fatalf("iter chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c3" {
		t.Errorf("re-extraction did not replace chunks: %+v", chunks)
	}
}

func TestReferentialIntegrity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// Chunk without a file row is rejected by the foreign key.
	err := s.InsertChunks(ctx, "ghost", []ChunkRecord{
		{ID: "c1", FileID: "ghost", ChunkIndex: 0, Content: "x", ChunkType: ChunkProse},
	})
	if err == nil {
		t.Fatal("chunk without file accepted")
	}

	// Entity without chunk/file ids is a ProgrammerError.
	err = s.InsertEntities(ctx, []EntityRecord{{ID: "e1", Value: "Alice"}})
	if !xerrors.Is(err, xerrors.ProgrammerError) {
		t.Fatalf("entity without parents: got %v, want ProgrammerError", err)
	}
}

func TestSideMetadataSignatureGuard(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.UpsertImageMetadata(ctx, ImageMetadataRecord{Width: 10, Height: 10})
	if !xerrors.Is(err, xerrors.ProgrammerError) {
		t.Fatalf("image metadata without file_id: got %v, want ProgrammerError", err)
	}
	err = s.UpsertAudioMetadata(ctx, AudioMetadataRecord{DurationSeconds: 3})
	if !xerrors.Is(err, xerrors.ProgrammerError) {
		t.Fatalf("audio metadata without file_id: got %v, want ProgrammerError", err)
	}
}

func TestDiscoveryFeedbackLocksSupersession(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	d := DiscoveryRecord{
		ID: "disc_1", DiscoveryType: "workflow", Title: "Weekly reports",
		Confidence: 0.8, Status: DiscoveryNew, CreatedAt: now, LastUpdated: now,
	}
	if err := s.UpsertDiscovery(ctx, d); err != nil {
		t.Fatalf("upsert discovery: %v", err)
	}
	if err := s.SetDiscoveryFeedback(ctx, "disc_1", DiscoveryConfirmed, "yes, accurate"); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if err := s.SupersedeDiscovery(ctx, "disc_1"); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	got, err := s.GetDiscovery(ctx, "disc_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != DiscoveryConfirmed {
		t.Errorf("confirmed discovery was superseded: %s", got.Status)
	}
	if got.UserNotes != "yes, accurate" {
		t.Errorf("notes lost: %q", got.UserNotes)
	}

	// An unconfirmed discovery does supersede.
	d2 := d
	d2.ID = "disc_2"
	_ = s.UpsertDiscovery(ctx, d2)
	_ = s.SupersedeDiscovery(ctx, "disc_2")
	got2, _ := s.GetDiscovery(ctx, "disc_2")
	if got2.Status != DiscoverySuperseded {
		t.Errorf("new discovery not superseded: %s", got2.Status)
	}
}

func TestListDiscoveriesDefaultHidesDismissed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()
	for i, status := range []DiscoveryStatus{DiscoveryNew, DiscoveryDismissed} {
		d := DiscoveryRecord{
			ID: "disc_" + string(rune('a'+i)), DiscoveryType: "expertise",
			Title: "t", Confidence: 0.9, Status: status, CreatedAt: now, LastUpdated: now,
		}
		if err := s.UpsertDiscovery(ctx, d); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	list, err := s.ListDiscoveries(ctx, "", nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != DiscoveryNew {
		t.Errorf("default view should hide dismissed: %+v", list)
	}
}

func TestStatsRollup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedFile(t, s, "file_1", "/tmp/a.md")
	_ = s.MarkIndexed(ctx, "file_1")
	_ = s.InsertChunks(ctx, "file_1", []ChunkRecord{
		{ID: "c1", FileID: "file_1", ChunkIndex: 0, Content: "x", ChunkType: ChunkProse},
	})
	_ = s.InsertEntities(ctx, []EntityRecord{
		{ID: "e1", FileID: "file_1", ChunkID: "c1", EntityType: EntityPerson, Value: "Alice", Normalized: "alice"},
		{ID: "e2", FileID: "file_1", ChunkID: "c1", EntityType: EntityTech, Value: "docker", Normalized: "docker"},
	})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FilesTotal != 1 || stats.ChunksTotal != 1 || stats.EntitiesTotal != 2 {
		t.Errorf("unexpected rollup: %+v", stats)
	}
	if stats.EntitiesByType["PERSON"] != 1 || stats.EntitiesByType["TECH"] != 1 {
		t.Errorf("entity type breakdown wrong: %v", stats.EntitiesByType)
	}
	if stats.FilesByStatus["indexed"] != 1 {
		t.Errorf("files by status wrong: %v", stats.FilesByStatus)
	}
}
