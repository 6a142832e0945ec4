// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/config"
	"github.com/excavator-project/excavator/internal/daemon"
)

func newTestServer(t *testing.T) (*Server, *daemon.Daemon) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CHROMADB_HOST", "")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Sources = nil

	ctx := context.Background()
	d, err := daemon.New(ctx, cfg)
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.Shutdown(shutdownCtx)
	})
	return NewServer(d), d
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out interface{}) int {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndReadiness(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	var health map[string]interface{}
	if code := getJSON(t, ts, "/api/v1/health", &health); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %v", health["status"])
	}
	var ready map[string]interface{}
	getJSON(t, ts, "/api/v1/readiness", &ready)
	if ready["ready"] != true {
		t.Errorf("ready = %v", ready["ready"])
	}
}

func TestHealthResponsiveDuringCorrelation(t *testing.T) {
	s, d := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	seedCorrelationLoad(t, d)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Engine().Run(context.Background())
	}()

	// Poll health while the batch runs; every response must be fast.
	for i := 0; i < 10; i++ {
		start := time.Now()
		code := getJSON(t, ts, "/api/v1/health", nil)
		if code != http.StatusOK {
			t.Fatalf("health = %d during correlation", code)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("health took %s during correlation", elapsed)
		}
		time.Sleep(5 * time.Millisecond)
	}
	<-done
}

func seedCorrelationLoad(t *testing.T, d *daemon.Daemon) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		fileID := fmt.Sprintf("file_%03d", i)
		err := d.Catalog().UpsertFile(ctx, catalog.FileRecord{
			ID: fileID, Path: fmt.Sprintf("/data/doc%03d.md", i),
			Filename: fmt.Sprintf("doc%03d.md", i), Extension: "md",
			DiscoveredAt: time.Now().UTC(), Status: catalog.FileQueued,
		})
		if err != nil {
			t.Fatalf("seed file: %v", err)
		}
		chunkID := "chunk_" + fileID
		err = d.Catalog().InsertChunks(ctx, fileID, []catalog.ChunkRecord{{
			ID: chunkID, FileID: fileID, ChunkIndex: 0, ChunkType: catalog.ChunkProse,
			Content: "docker kubernetes terraform deployment pipeline for Alice",
		}})
		if err != nil {
			t.Fatalf("seed chunk: %v", err)
		}
		var entities []catalog.EntityRecord
		for j := 0; j < 10; j++ {
			entities = append(entities, catalog.EntityRecord{
				ID: uuid.NewString(), FileID: fileID, ChunkID: chunkID,
				EntityType: catalog.EntityTech, Value: fmt.Sprintf("techterm%02d", j),
				Normalized: fmt.Sprintf("techterm%02d", j), Confidence: 0.9,
			})
		}
		if err := d.Catalog().InsertEntities(ctx, entities); err != nil {
			t.Fatalf("seed entities: %v", err)
		}
		if err := d.Catalog().MarkIndexed(ctx, fileID); err != nil {
			t.Fatalf("mark indexed: %v", err)
		}
	}
}

func TestQueryRoute(t *testing.T) {
	s, d := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "plan.md")
	if err := os.WriteFile(path, []byte("Rollout planning for the new search index."), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Pipeline().ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("process: %v", err)
	}

	var out struct {
		Results []struct {
			ChunkID string `json:"chunk_id"`
		} `json:"results"`
	}
	if code := getJSON(t, ts, "/api/v1/query?q=rollout&k=3", &out); code != http.StatusOK {
		t.Fatalf("query = %d", code)
	}
	if len(out.Results) == 0 {
		t.Error("query returned no results")
	}

	if code := getJSON(t, ts, "/api/v1/query", nil); code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", code)
	}
}

func TestFeedbackRoute(t *testing.T) {
	s, d := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	now := time.Now().UTC()
	err := d.Catalog().UpsertDiscovery(context.Background(), catalog.DiscoveryRecord{
		ID: "disc_1", DiscoveryType: "workflow", Title: "t", Confidence: 0.8,
		Status: catalog.DiscoveryNew, CreatedAt: now, LastUpdated: now,
	})
	if err != nil {
		t.Fatalf("seed discovery: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"action": "confirm", "notes": "yes"})
	resp, err := ts.Client().Post(ts.URL+"/api/v1/discoveries/disc_1/feedback", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feedback = %d", resp.StatusCode)
	}
	got, _ := d.Catalog().GetDiscovery(context.Background(), "disc_1")
	if got.Status != catalog.DiscoveryConfirmed {
		t.Errorf("status = %s", got.Status)
	}

	bad, _ := json.Marshal(map[string]string{"action": "upvote"})
	resp2, err := ts.Client().Post(ts.URL+"/api/v1/discoveries/disc_1/feedback", "application/json", bytes.NewReader(bad))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid action = %d, want 400", resp2.StatusCode)
	}
}

func TestExcavateEnqueues(t *testing.T) {
	s, d := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/api/v1/excavate", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("excavate = %d", resp.StatusCode)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["job_id"] == "" {
		t.Error("no job id returned")
	}
	stats, _ := d.Queue().Stats(context.Background())
	if stats.ByType["BATCH_EXTRACTION"] == 0 {
		t.Error("batch job not enqueued")
	}
}
