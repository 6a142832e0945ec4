// File path: internal/daemon/daemon_test.go
package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/excavator-project/excavator/internal/config"
	"github.com/excavator-project/excavator/internal/queue"
	"github.com/excavator-project/excavator/internal/xerrors"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CHROMADB_HOST", "")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Sources = nil
	return cfg
}

func TestSecondInstanceRefused(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("first daemon: %v", err)
	}
	defer first.Close()

	_, err = New(ctx, cfg)
	if err == nil {
		t.Fatal("second daemon on same data dir accepted")
	}
	if !xerrors.Is(err, xerrors.Fatal) {
		t.Errorf("refusal is not Fatal: %v", err)
	}
}

func TestStaleLockReplaced(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	// A lock left by a dead process must not block startup.
	lock := filepath.Join(cfg.DataDir, "excavator.lock")
	if err := os.WriteFile(lock, []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}
	d, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("startup with stale lock failed: %v", err)
	}
	defer d.Close()
}

func TestWatchedFileFlowsThroughQueue(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	watched := t.TempDir()
	cfg.Sources = []config.SourceConfig{{Path: watched, Recursive: true, Enabled: true}}
	cfg.Queue.DebounceWindow = 20 * time.Millisecond

	d, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.Shutdown(shutdownCtx)
	}()

	path := filepath.Join(watched, "plan.md")
	content := "Alice Chen plans the Acme Corp rollout with docker and kubernetes.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Within the ingestion window the file must be indexed via exactly the
	// queue path: job succeeded, file indexed, chunks present.
	deadline := time.Now().Add(10 * time.Second)
	for {
		stats, err := d.Queue().Stats(ctx)
		if err == nil && stats.SucceededTotal >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("extraction job never succeeded: %+v", stats)
		}
		time.Sleep(50 * time.Millisecond)
	}
	file, err := d.Catalog().GetFileByPath(ctx, path)
	if err != nil {
		t.Fatalf("file not in catalog: %v", err)
	}
	if string(file.Status) != "indexed" {
		t.Errorf("status = %s, want indexed", file.Status)
	}
	chunks, _ := d.Catalog().IterChunks(ctx, file.ID)
	if len(chunks) == 0 {
		t.Error("no chunks persisted")
	}
}

func TestBatchExtractionJob(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Exclude.SizeMax = "1KB"
	root := t.TempDir()
	for _, name := range []string{"a.md", "b.md"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("docker notes"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Excluded subtree and an oversized file: neither may be indexed.
	deps := filepath.Join(root, "node_modules", "react")
	if err := os.MkdirAll(deps, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(deps, "index.js"), []byte("module.exports = {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "huge.md"), make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	defer d.Close()

	if err := d.runBatchExtraction(ctx, BatchExtractionPayload{Roots: []string{root}}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	stats, err := d.Catalog().Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FilesByStatus["indexed"] != 2 {
		t.Errorf("indexed = %d, want 2", stats.FilesByStatus["indexed"])
	}
	if _, err := d.Catalog().GetFileByPath(ctx, filepath.Join(deps, "index.js")); err == nil {
		t.Error("excluded node_modules file was indexed")
	}
	if _, err := d.Catalog().GetFileByPath(ctx, filepath.Join(root, "huge.md")); err == nil {
		t.Error("oversized file was indexed")
	}
}

func TestUnknownJobTypeIsProgrammerError(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	d, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	defer d.Close()

	err = d.processJob(ctx, &queue.Job{ID: "j1", Type: "NOT_A_TYPE"})
	if !xerrors.Is(err, xerrors.ProgrammerError) {
		t.Errorf("got %v, want ProgrammerError", err)
	}
}
