// File path: internal/correlation/patterns_test.go
package correlation

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/excavator-project/excavator/internal/catalog"
)

func TestScoreFormula(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		m    EvidenceMetrics
		want float64
	}{
		{
			name: "saturated everything",
			m: EvidenceMetrics{
				Count: 1000, DistinctSources: 10,
				FirstSeen: now.AddDate(-2, 0, 0), LastSeen: now,
			},
			// evidence 1, diversity 1, span 1, recency 1
			want: 1.0,
		},
		{
			name: "no evidence",
			m:    EvidenceMetrics{Count: 0, DistinctSources: 0},
			want: 0.0,
		},
		{
			name: "stale signal loses recency",
			m: EvidenceMetrics{
				Count: 1000, DistinctSources: 10,
				FirstSeen: now.AddDate(-3, 0, 0), LastSeen: now.AddDate(-1, 0, 0),
			},
			// recency term fully decayed after 180 days
			want: 0.80,
		},
	}
	for _, tc := range cases {
		got := Score(tc.m, now)
		if math.Abs(got-tc.want) > 0.01 {
			t.Errorf("%s: Score = %f, want %f", tc.name, got, tc.want)
		}
	}
}

func seedDatedSeries(t *testing.T, s *catalog.Store) []string {
	t.Helper()
	var ids []string
	for _, month := range []string{"01", "02", "03", "04"} {
		fileID := "file_rep_" + month
		seedIndexedFile(t, s, fileID, fmt.Sprintf("2024-%s-05-report.md", month))
		ids = append(ids, fileID)
	}
	return ids
}

func TestWorkflowDetectorDateSeries(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	want := seedDatedSeries(t, s)

	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	detector := NewDetector(s, cons)
	patterns, err := detector.DetectAll(ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	var workflow *Pattern
	for i := range patterns {
		if patterns[i].Type == "workflow" {
			workflow = &patterns[i]
			break
		}
	}
	if workflow == nil {
		t.Fatal("no workflow pattern for a four-file dated series")
	}
	// Regression guard: workflow patterns must always carry their group.
	if len(workflow.SourceFiles) == 0 {
		t.Fatal("workflow pattern has empty source_files")
	}
	if len(workflow.SourceFiles) != 4 {
		t.Errorf("source_files = %v, want the 4 series files", workflow.SourceFiles)
	}
	got := map[string]bool{}
	for _, id := range workflow.SourceFiles {
		got[id] = true
	}
	for _, id := range want {
		if !got[id] {
			t.Errorf("series file %s missing from source_files", id)
		}
	}
	if workflow.Confidence < 0.7 {
		t.Errorf("confidence = %f, want >= 0.7 for a clean series", workflow.Confidence)
	}
}

func TestRelationshipDetector(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	for i := 0; i < 4; i++ {
		fileID := fmt.Sprintf("file_%d", i)
		chunkID := seedIndexedFile(t, s, fileID, fmt.Sprintf("meeting%d.md", i))
		seedEntity(t, s, fileID, chunkID, catalog.EntityPerson, "Alice")
		seedEntity(t, s, fileID, chunkID, catalog.EntityOrg, "Acme Corp")
	}
	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if _, err := cons.BuildCoOccurrence(ctx, Bounds{}); err != nil {
		t.Fatalf("co-occurrence: %v", err)
	}
	patterns := NewDetector(s, cons).detectRelationships()
	if len(patterns) != 1 {
		t.Fatalf("relationship patterns = %d, want 1", len(patterns))
	}
	p := patterns[0]
	if p.Type != "relationship" {
		t.Errorf("type = %s", p.Type)
	}
	if len(p.SourceFiles) != 4 {
		t.Errorf("source_files = %d, want 4", len(p.SourceFiles))
	}
	if len(p.SourceEntities) != 2 {
		t.Errorf("source_entities = %d, want 2", len(p.SourceEntities))
	}
}

func TestExpertiseDetector(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	// Six files full of devops vocabulary.
	for i := 0; i < 6; i++ {
		fileID := fmt.Sprintf("file_%d", i)
		err := s.UpsertFile(ctx, catalog.FileRecord{
			ID: fileID, Path: fmt.Sprintf("/data/infra%d.md", i), Filename: fmt.Sprintf("infra%d.md", i),
			Extension: "md", DiscoveredAt: time.Now().UTC(), Status: catalog.FileQueued,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		err = s.InsertChunks(ctx, fileID, []catalog.ChunkRecord{{
			ID: "chunk_" + fileID, FileID: fileID, ChunkIndex: 0, ChunkType: catalog.ChunkProse,
			Content: "We deploy docker containers to kubernetes with helm and terraform on aws infrastructure through a ci/cd pipeline.",
		}})
		if err != nil {
			t.Fatalf("seed chunk: %v", err)
		}
		if err := s.MarkIndexed(ctx, fileID); err != nil {
			t.Fatalf("mark indexed: %v", err)
		}
	}
	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	patterns, err := NewDetector(s, cons).detectExpertise(ctx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	var devops *Pattern
	for i := range patterns {
		if patterns[i].ID == patternID("expertise", "devops") {
			devops = &patterns[i]
		}
	}
	if devops == nil {
		t.Fatalf("no devops expertise pattern; got %d patterns", len(patterns))
	}
	if len(devops.SourceFiles) != 6 {
		t.Errorf("source_files = %d, want 6", len(devops.SourceFiles))
	}
	if devops.Confidence <= 0.3 {
		t.Errorf("confidence = %f, want > 0.3", devops.Confidence)
	}
}

func TestTechStackDetector(t *testing.T) {
	ctx := context.Background()
	s := openTestCatalog(t)
	for i := 0; i < 4; i++ {
		fileID := fmt.Sprintf("file_%d", i)
		chunkID := seedIndexedFile(t, s, fileID, fmt.Sprintf("stack%d.md", i))
		seedEntity(t, s, fileID, chunkID, catalog.EntityTech, "docker")
		seedEntity(t, s, fileID, chunkID, catalog.EntityTech, "kubernetes")
	}
	cons := NewConsolidator(s)
	if _, err := cons.ConsolidateAll(ctx); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	patterns := NewDetector(s, cons).detectTechStack()
	if len(patterns) == 0 {
		t.Fatal("no tech-stack pattern")
	}
	found := false
	for _, p := range patterns {
		if p.Type != "tech-stack" {
			t.Errorf("type = %s", p.Type)
		}
		if len(p.SourceFiles) == 0 {
			t.Error("tech-stack pattern without source files")
		}
		for _, ev := range p.SourceEntities {
			if ev != "" {
				found = true
			}
		}
	}
	if !found {
		t.Error("tech-stack patterns carry no entity references")
	}
}
