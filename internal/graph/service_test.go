// File path: internal/graph/service_test.go
package graph

import (
	"testing"
	"time"
)

func testInputs() ([]DiscoveryInput, []EntityInput) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	discoveries := []DiscoveryInput{
		{
			ID: "disc_1", Type: "relationship", Title: "Alice works with Acme",
			Confidence: 0.82, Status: "new",
			Sources:   []string{"file_a", "file_b", "cent_alice"},
			CreatedAt: now,
		},
	}
	entities := []EntityInput{
		{ID: "cent_alice", Type: "PERSON", Value: "Alice", Occurrences: 7},
	}
	return discoveries, entities
}

func TestRefreshBuildsEdges(t *testing.T) {
	s := NewService()
	s.Refresh(testInputs())

	export := s.Export()
	if len(export.Nodes) != 4 { // discovery + entity + two files
		t.Fatalf("nodes = %d, want 4", len(export.Nodes))
	}
	if len(export.Edges) != 3 {
		t.Fatalf("edges = %d, want 3", len(export.Edges))
	}
	neighbors := s.Neighbors("disc_1")
	if len(neighbors) != 3 {
		t.Errorf("neighbors = %d, want 3", len(neighbors))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := NewService()
	s.Refresh(testInputs())
	export := s.Export()

	restored := NewService()
	restored.Import(export)

	discoveries := restored.Discoveries()
	if len(discoveries) != 1 {
		t.Fatalf("discoveries after import = %d, want 1", len(discoveries))
	}
	d := discoveries[0]
	if d.ID != "disc_1" {
		t.Errorf("id = %s", d.ID)
	}
	if conf, ok := d.Properties["confidence"].(float64); !ok || conf != 0.82 {
		t.Errorf("confidence not preserved: %v", d.Properties["confidence"])
	}
	again := restored.Export()
	if len(again.Nodes) != len(export.Nodes) || len(again.Edges) != len(export.Edges) {
		t.Error("second export differs from first")
	}
}
