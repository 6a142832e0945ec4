// File path: internal/correlation/discovery_test.go
package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/excavator-project/excavator/internal/catalog"
)

func testPattern(title string, confidence float64, sources ...string) Pattern {
	return Pattern{
		ID:          patternID("workflow", title),
		Type:        "workflow",
		Title:       title,
		Description: "test pattern",
		Confidence:  confidence,
		SourceFiles: sources,
		FirstSeen:   time.Now().Add(-30 * 24 * time.Hour),
		LastSeen:    time.Now(),
	}
}

func TestSurfaceThresholds(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	surfacer := NewSurfacer(s, 0.7, 2)

	patterns := []Pattern{
		testPattern("qualifies", 0.85, "f1", "f2", "f3"),
		testPattern("too weak", 0.5, "f1", "f2"),
		testPattern("too narrow", 0.9, "f1"),
	}
	n, err := surfacer.SurfaceAll(ctx, patterns)
	if err != nil {
		t.Fatalf("surface: %v", err)
	}
	if n != 1 {
		t.Fatalf("surfaced %d discoveries, want 1", n)
	}
	list, err := s.ListDiscoveries(ctx, "", nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "qualifies" {
		t.Fatalf("wrong discovery set: %+v", list)
	}
	// Every stored discovery satisfies both thresholds.
	for _, d := range list {
		if d.Confidence < 0.7 {
			t.Errorf("discovery %s below confidence threshold: %f", d.ID, d.Confidence)
		}
	}
}

func TestFeedbackStickiness(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	surfacer := NewSurfacer(s, 0.7, 2)

	qualifying := []Pattern{testPattern("weekly reports", 0.85, "f1", "f2", "f3")}
	if _, err := surfacer.SurfaceAll(ctx, qualifying); err != nil {
		t.Fatalf("first surface: %v", err)
	}
	id := discoveryID("workflow", "weekly reports")
	if err := surfacer.Confirm(ctx, id, "definitely real"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Re-run with inputs that would otherwise demote the discovery.
	if _, err := surfacer.SurfaceAll(ctx, nil); err != nil {
		t.Fatalf("second surface: %v", err)
	}
	got, err := s.GetDiscovery(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != catalog.DiscoveryConfirmed {
		t.Errorf("confirmed discovery demoted to %s", got.Status)
	}
	if got.UserNotes != "definitely real" {
		t.Errorf("notes lost: %q", got.UserNotes)
	}
}

func TestSupersessionOfUnconfirmed(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	surfacer := NewSurfacer(s, 0.7, 2)

	if _, err := surfacer.SurfaceAll(ctx, []Pattern{testPattern("transient", 0.8, "f1", "f2")}); err != nil {
		t.Fatalf("first surface: %v", err)
	}
	if _, err := surfacer.SurfaceAll(ctx, nil); err != nil {
		t.Fatalf("second surface: %v", err)
	}
	id := discoveryID("workflow", "transient")
	got, err := s.GetDiscovery(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != catalog.DiscoverySuperseded {
		t.Errorf("unconfirmed stale discovery = %s, want superseded", got.Status)
	}
}

func TestConfidenceNeverWeakensInPlace(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	surfacer := NewSurfacer(s, 0.7, 2)

	if _, err := surfacer.SurfaceAll(ctx, []Pattern{testPattern("steady", 0.9, "f1", "f2")}); err != nil {
		t.Fatalf("first surface: %v", err)
	}
	// Same discovery re-qualifies with a lower score.
	if _, err := surfacer.SurfaceAll(ctx, []Pattern{testPattern("steady", 0.72, "f1", "f2")}); err != nil {
		t.Fatalf("second surface: %v", err)
	}
	got, err := s.GetDiscovery(ctx, discoveryID("workflow", "steady"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Confidence < 0.9 {
		t.Errorf("confidence weakened in place: %f", got.Confidence)
	}
}
