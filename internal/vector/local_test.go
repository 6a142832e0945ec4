// File path: internal/vector/local_test.go
package vector

import (
	"context"
	"testing"
)

func vec(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestLocalUpsertQuery(t *testing.T) {
	ctx := context.Background()
	s, err := OpenLocal(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	records := []Record{
		{ChunkID: "a", Vector: vec(8, 0), Content: "alpha"},
		{ChunkID: "b", Vector: vec(8, 1), Content: "beta"},
		{ChunkID: "c", Vector: vec(8, 2), Content: "gamma"},
	}
	if err := s.Upsert(ctx, records); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	results, err := s.QueryByVector(ctx, vec(8, 1), 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkID != "b" {
		t.Errorf("nearest = %s, want b", results[0].ChunkID)
	}
	if results[0].Score <= results[1].Score {
		t.Error("results not sorted by score")
	}
}

func TestLocalPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenLocal(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Upsert(ctx, []Record{{ChunkID: "a", Vector: vec(4, 0), Content: "alpha"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLocal(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	ids, err := reopened.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("ids after reopen = %v", ids)
	}
}

func TestLocalDelete(t *testing.T) {
	ctx := context.Background()
	s, err := OpenLocal(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	_ = s.Upsert(ctx, []Record{
		{ChunkID: "a", Vector: vec(4, 0)},
		{ChunkID: "b", Vector: vec(4, 1)},
	})
	if err := s.Delete(ctx, []string{"a"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, _ := s.ListIDs(ctx)
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("ids after delete = %v", ids)
	}
}

func TestLocalDimensionGuard(t *testing.T) {
	ctx := context.Background()
	s, err := OpenLocal(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	err = s.Upsert(ctx, []Record{{ChunkID: "bad", Vector: vec(8, 0)}})
	if err == nil {
		t.Fatal("dimension mismatch accepted")
	}
}
