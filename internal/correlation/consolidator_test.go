// File path: internal/correlation/consolidator_test.go
package correlation

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/excavator-project/excavator/internal/catalog"
)

func openTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedIndexedFile creates an indexed file with one chunk and returns the
// chunk id.
func seedIndexedFile(t *testing.T, s *catalog.Store, fileID, filename string) string {
	t.Helper()
	ctx := context.Background()
	err := s.UpsertFile(ctx, catalog.FileRecord{
		ID: fileID, Path: "/data/" + filename, Filename: filename,
		Extension: "md", DiscoveredAt: time.Now().UTC(), Status: catalog.FileQueued,
	})
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
	chunkID := "chunk_" + fileID
	err = s.InsertChunks(ctx, fileID, []catalog.ChunkRecord{
		{ID: chunkID, FileID: fileID, ChunkIndex: 0, Content: "content of " + filename, ChunkType: catalog.ChunkProse},
	})
	if err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
	if err := s.MarkIndexed(ctx, fileID); err != nil {
		t.Fatalf("mark indexed: %v", err)
	}
	return chunkID
}

func seedEntity(t *testing.T, s *catalog.Store, fileID, chunkID string, entityType catalog.EntityType, value string) {
	t.Helper()
	err := s.InsertEntities(context.Background(), []catalog.EntityRecord{{
		ID: uuid.NewString(), FileID: fileID, ChunkID: chunkID,
		EntityType: entityType, Value: value, Normalized: "", Confidence: 0.9,
	}})
	if err != nil {
		t.Fatalf("seed entity: %v", err)
	}
}

func TestConsolidationMergesAliases(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	c1 := seedIndexedFile(t, s, "file_a", "a.md")
	c2 := seedIndexedFile(t, s, "file_b", "b.md")

	seedEntity(t, s, "file_a", c1, catalog.EntityPerson, "Mike Jones")
	seedEntity(t, s, "file_b", c2, catalog.EntityPerson, "Michael Jones")
	seedEntity(t, s, "file_b", c2, catalog.EntityPerson, "michael jones")

	cons := NewConsolidator(s)
	entities, err := cons.ConsolidateAll(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	ent, ok := entities["PERSON:michael jones"]
	if !ok {
		keys := make([]string, 0, len(entities))
		for k := range entities {
			keys = append(keys, k)
		}
		t.Fatalf("alias merge failed, keys: %v", keys)
	}
	if ent.OccurrenceCount != 3 {
		t.Errorf("occurrences = %d, want 3", ent.OccurrenceCount)
	}
	if len(ent.FileIDs) != 2 {
		t.Errorf("file diversity = %d, want 2", len(ent.FileIDs))
	}
}

func TestAliasScopeIsPersonOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	c1 := seedIndexedFile(t, s, "file_a", "a.md")

	// "Bob" as an ORG must not resolve to "robert".
	seedEntity(t, s, "file_a", c1, catalog.EntityOrg, "Bob")

	cons := NewConsolidator(s)
	entities, err := cons.ConsolidateAll(ctx)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if _, ok := entities["ORG:bob"]; !ok {
		t.Error("ORG alias was rewritten; alias table must apply to PERSON only")
	}
}

func TestConsolidationIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	for i := 0; i < 4; i++ {
		fileID := fmt.Sprintf("file_%d", i)
		chunkID := seedIndexedFile(t, s, fileID, fmt.Sprintf("doc%d.md", i))
		seedEntity(t, s, fileID, chunkID, catalog.EntityPerson, "Alice Chen")
		seedEntity(t, s, fileID, chunkID, catalog.EntityOrg, "Acme Corp")
	}

	cons := NewConsolidator(s)
	first, err := cons.ConsolidateAll(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	assignment1 := map[string]string{}
	for key, ent := range first {
		assignment1[key] = ent.ID + "|" + ent.CanonicalValue
	}

	second, err := NewConsolidator(s).ConsolidateAll(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	assignment2 := map[string]string{}
	for key, ent := range second {
		assignment2[key] = ent.ID + "|" + ent.CanonicalValue
	}
	if !reflect.DeepEqual(assignment1, assignment2) {
		t.Errorf("consolidation not idempotent:\n%v\n%v", assignment1, assignment2)
	}
}

func TestCoOccurrenceCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	for i := 0; i < 3; i++ {
		fileID := fmt.Sprintf("file_%d", i)
		chunkID := seedIndexedFile(t, s, fileID, fmt.Sprintf("doc%d.md", i))
		seedEntity(t, s, fileID, chunkID, catalog.EntityPerson, "Alice")
		seedEntity(t, s, fileID, chunkID, catalog.EntityOrg, "Acme Corp")
	}

	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	pairs, err := cons.BuildCoOccurrence(ctx, Bounds{})
	if err != nil {
		t.Fatalf("co-occurrence: %v", err)
	}
	pair := makePair("PERSON:alice", "ORG:acme corp")
	co, ok := pairs[pair]
	if !ok {
		t.Fatalf("expected pair missing; have %d pairs", len(pairs))
	}
	if co.Count != 3 || len(co.FileIDs) != 3 {
		t.Errorf("pair = %+v, want count 3 across 3 files", co)
	}
	if co.Strength <= 0 {
		t.Errorf("strength not computed: %f", co.Strength)
	}
}

func TestCoOccurrenceBounds(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)

	// One file mentioning 30 entities: unbounded would make 435 pairs.
	chunkID := seedIndexedFile(t, s, "file_big", "big.md")
	for i := 0; i < 30; i++ {
		seedEntity(t, s, "file_big", chunkID, catalog.EntityTech, fmt.Sprintf("techterm%02d", i))
	}

	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	t.Run("max_pairs_per_file", func(t *testing.T) {
		pairs, err := cons.BuildCoOccurrence(ctx, Bounds{MaxPairsPerFile: 50})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if len(pairs) > 50 {
			t.Errorf("pairs = %d, per-file cap is 50", len(pairs))
		}
	})

	t.Run("max_total_pairs", func(t *testing.T) {
		pairs, err := cons.BuildCoOccurrence(ctx, Bounds{MaxTotalPairs: 20})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if len(pairs) > 20 {
			t.Errorf("pairs = %d, hard cap is 20", len(pairs))
		}
		if cons.PairsDropped() == 0 {
			t.Error("dropped counter not incremented at the cap")
		}
	})

	t.Run("max_entities", func(t *testing.T) {
		pairs, err := cons.BuildCoOccurrence(ctx, Bounds{MaxEntities: 5})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		// 5 entities -> at most C(5,2) = 10 pairs.
		if len(pairs) > 10 {
			t.Errorf("pairs = %d, want <= 10 with 5 entities", len(pairs))
		}
	})
}

func TestCoOccurrenceSamplingDeterministic(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	chunkID := seedIndexedFile(t, s, "file_big", "big.md")
	for i := 0; i < 40; i++ {
		seedEntity(t, s, "file_big", chunkID, catalog.EntityTech, fmt.Sprintf("techterm%02d", i))
	}
	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	bounds := Bounds{MaxPairsPerFile: 30}
	first, err := cons.BuildCoOccurrence(ctx, bounds)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := cons.BuildCoOccurrence(ctx, bounds)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("sampling not deterministic: %d vs %d pairs", len(first), len(second))
	}
	for pair := range first {
		if _, ok := second[pair]; !ok {
			t.Fatalf("pair %v sampled in first run only", pair)
		}
	}
}

func TestRelatedEntities(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	for i := 0; i < 3; i++ {
		fileID := fmt.Sprintf("file_%d", i)
		chunkID := seedIndexedFile(t, s, fileID, fmt.Sprintf("doc%d.md", i))
		seedEntity(t, s, fileID, chunkID, catalog.EntityPerson, "Alice")
		seedEntity(t, s, fileID, chunkID, catalog.EntityProject, "Apollo")
	}
	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if _, err := cons.BuildCoOccurrence(ctx, Bounds{}); err != nil {
		t.Fatalf("co-occurrence: %v", err)
	}
	related := cons.Related("PERSON:alice", 0.1, 10)
	if len(related) == 0 {
		t.Fatal("no related entities")
	}
	if related[0].Value != "Apollo" {
		t.Errorf("top related = %+v, want Apollo", related[0])
	}
}
