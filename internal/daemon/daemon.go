// File path: internal/daemon/daemon.go

// Package daemon wires the persistent stores, capabilities, watcher, job
// queue, scheduler, and control plane into one process and owns their
// lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/excavator-project/excavator/internal/capability"
	"github.com/excavator-project/excavator/internal/capability/local"
	"github.com/excavator-project/excavator/internal/capability/openai"
	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/config"
	"github.com/excavator-project/excavator/internal/correlation"
	"github.com/excavator-project/excavator/internal/graph"
	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/ops"
	"github.com/excavator-project/excavator/internal/pipeline"
	"github.com/excavator-project/excavator/internal/queue"
	"github.com/excavator-project/excavator/internal/telemetry"
	"github.com/excavator-project/excavator/internal/vector"
	"github.com/excavator-project/excavator/internal/watcher"
	"github.com/excavator-project/excavator/internal/xerrors"
)

const component = "daemon"

// Version is the daemon version reported by /health.
const Version = "1.0.0"

// shutdownGrace bounds how long the in-flight job may run after a shutdown
// signal before it is marked cancelled.
const shutdownGrace = 30 * time.Second

type closer interface {
	Close() error
}

// Daemon owns every long-lived component.
type Daemon struct {
	cfg config.Config

	catalog  *catalog.Store
	queue    *queue.Queue
	vectors  vector.Store
	embedder capability.Embedder
	ner      capability.EntityExtractor
	pipeline *pipeline.Pipeline
	engine   *correlation.Engine
	tracker  *ops.Tracker
	metrics  *telemetry.Metrics
	graph    *graph.Service
	watcher  *watcher.Watcher
	cron     *cron.Cron

	// submitLimit bounds watcher-driven job submission so an editor save
	// storm cannot flood the queue.
	submitLimit *rate.Limiter

	startedAt    time.Time
	ready        bool
	shuttingDown bool
	mu           sync.RWMutex

	lockPath string
	closers  []closer
	stop     context.CancelFunc
	workerWG sync.WaitGroup
}

// New opens every store and constructs the daemon. A second daemon on the
// same data directory is detected via the lock file and refused.
func New(ctx context.Context, cfg config.Config) (*Daemon, error) {
	log := logging.With(component)
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, xerrors.New(xerrors.Fatal, component, fmt.Errorf("create data dir: %w", err))
	}

	d := &Daemon{
		cfg:         cfg,
		submitLimit: rate.NewLimiter(rate.Limit(50), 200),
	}
	if err := d.acquireLock(); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(ctx, filepath.Join(cfg.DataDir, "catalog.db"))
	if err != nil {
		d.releaseLock()
		return nil, err
	}
	d.catalog = cat
	d.closers = append(d.closers, cat)

	q, err := queue.Open(ctx, filepath.Join(cfg.DataDir, "jobs.db"), cfg.Queue.MaxAttempts, cfg.Queue.RecentJobsCap)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.queue = q
	d.closers = append(d.closers, q)

	d.vectors, err = openVectorStore(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closers = append(d.closers, d.vectors)

	d.embedder, d.ner = buildCapabilities()
	d.tracker = ops.NewTracker(cfg.DataDir)
	d.metrics, err = telemetry.Init()
	if err != nil {
		d.Close()
		return nil, xerrors.New(xerrors.Fatal, component, err)
	}
	d.graph = graph.NewService()
	d.pipeline = pipeline.New(cat, d.vectors, d.embedder, d.ner,
		cfg.Extraction.ChunkMinTokens, cfg.Extraction.ChunkMaxTokens)
	d.engine = correlation.NewEngine(cat, d.tracker, correlation.Config{
		Bounds: correlation.Bounds{
			MaxEntities:     cfg.Correlation.MaxEntities,
			MaxPairsPerFile: cfg.Correlation.MaxPairsPerFile,
			MaxTotalPairs:   cfg.Correlation.MaxTotalPairs,
		},
		MinConfidence: cfg.Correlation.MinDiscoveryConfidence,
		MinSources:    cfg.Correlation.MinDiscoverySources,
	})

	log.Info("daemon constructed",
		"data_dir", cfg.DataDir,
		"embedder", d.embedder.Name(),
		"ner", d.ner.Name(),
		"vector", d.vectors.Collection(),
	)
	return d, nil
}

// openVectorStore prefers a configured chromadb server and falls back to
// the local file-backed index under the data directory.
func openVectorStore(ctx context.Context, cfg config.Config) (vector.Store, error) {
	if chromaConfigured() {
		client, err := vector.NewFromEnv(ctx)
		if err != nil {
			return nil, xerrors.New(xerrors.Fatal, component, fmt.Errorf("init chromadb client: %w", err))
		}
		if client.Available() {
			return client, nil
		}
		logging.With(component).Warn("chromadb configured but unreachable, using local index")
		_ = client.Close()
	}
	return vector.OpenLocal(filepath.Join(cfg.DataDir, "vectors"))
}

func chromaConfigured() bool {
	for _, key := range []string{"CHROMADB_CONFIG_FILE", "CHROMADB_HOST", "CHROMADB_PORT", "CHROMADB_COLLECTION"} {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}

// buildCapabilities selects the remote provider when configured, otherwise
// the deterministic local fallback.
func buildCapabilities() (capability.Embedder, capability.EntityExtractor) {
	if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
		return openai.NewEmbedder(), openai.NewExtractor()
	}
	return local.NewEmbedder(), local.NewExtractor()
}

// Start runs startup reconciliation, then launches the watcher, consumer
// loop, and scheduler. Returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	log := logging.With(component)
	d.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(context.Background())
	d.stop = cancel

	// Startup reconciliation: repair catalog/vector divergence before any
	// new work.
	reconcileDone := d.tracker.Begin(ops.KindReconcile, "startup")
	report, err := d.pipeline.Reconcile(ctx)
	reconcileDone()
	if err != nil {
		log.Error("startup reconciliation failed", "error", err)
	} else if report.ReEmbedded > 0 || report.OrphansDeleted > 0 {
		log.Info("startup reconciliation done",
			"re_embedded", report.ReEmbedded, "orphans_deleted", report.OrphansDeleted)
	}

	w, err := watcher.New(d.cfg.Sources, d.cfg.Exclude, d.cfg.Queue.DebounceWindow)
	if err != nil {
		return xerrors.New(xerrors.Fatal, component, fmt.Errorf("init watcher: %w", err))
	}
	d.watcher = w
	w.OnChange = d.onFileChange
	w.Start()

	d.workerWG.Add(1)
	go d.consumeJobs(runCtx)

	d.startScheduler()

	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
	log.Info("daemon started", "version", Version, "pid", os.Getpid())
	return nil
}

// onFileChange bridges watcher events into queue submissions. fsnotify
// delivers on its own goroutine; Enqueue is safe to call from it.
func (d *Daemon) onFileChange(change watcher.Change) {
	ctx := context.Background()
	if d.isShuttingDown() {
		return
	}
	if change.Kind == watcher.Deleted {
		if err := d.pipeline.MarkSkipped(ctx, change.Path); err != nil {
			logging.With(component).Error("soft-delete failed", "path", change.Path, "error", err)
		}
		return
	}
	if !d.submitLimit.Allow() {
		logging.With(component).Warn("watcher submission rate limited", "path", change.Path)
		return
	}
	if change.IsFAEFile {
		_, err := d.queue.Enqueue(ctx, queue.FAEImport, FAEImportPayload{Path: change.Path, Provider: "auto"}, queue.PFAE)
		if err != nil {
			logging.With(component).Error("enqueue fae import failed", "path", change.Path, "error", err)
		}
		return
	}
	_, err := d.queue.Enqueue(ctx, queue.FileExtraction, FileExtractionPayload{Path: change.Path, Event: string(change.Kind)}, queue.PRecent)
	if err != nil {
		logging.With(component).Error("enqueue extraction failed", "path", change.Path, "error", err)
	}
}

// startScheduler registers the periodic jobs: weekly full scan, daily
// correlation, daily cleanup.
func (d *Daemon) startScheduler() {
	log := logging.With(component)
	c := cron.New()
	schedule := func(expr, name string, fn func()) {
		if strings.TrimSpace(expr) == "" {
			return
		}
		if _, err := c.AddFunc(expr, fn); err != nil {
			log.Error("invalid cron expression", "job", name, "expr", expr, "error", err)
		}
	}
	schedule(d.cfg.Schedule.FullScan, "full_scan", func() {
		_, err := d.queue.Enqueue(context.Background(), queue.BatchExtraction,
			BatchExtractionPayload{}, queue.PScheduled)
		if err != nil {
			log.Error("scheduling full scan failed", "error", err)
		}
	})
	schedule(d.cfg.Schedule.Correlation, "correlation", func() {
		_, err := d.queue.Enqueue(context.Background(), queue.Correlation,
			CorrelationPayload{}, queue.PScheduled)
		if err != nil {
			log.Error("scheduling correlation failed", "error", err)
		}
	})
	schedule(d.cfg.Schedule.Cleanup, "cleanup", func() {
		retention := time.Duration(d.cfg.Queue.RetentionDays) * 24 * time.Hour
		n, err := d.queue.CleanupOld(context.Background(), retention)
		if err != nil {
			log.Error("job cleanup failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("old jobs pruned", "count", n)
		}
	})
	c.Start()
	d.cron = c
}

// Shutdown stops intake, lets the in-flight job finish within the grace
// window, flushes stores, and releases the lock.
func (d *Daemon) Shutdown(ctx context.Context) error {
	log := logging.With(component)
	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		return nil
	}
	d.shuttingDown = true
	d.ready = false
	d.mu.Unlock()
	log.Info("shutdown initiated")

	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.cron != nil {
		d.cron.Stop()
	}

	// Give the in-flight job the grace window, then cancel.
	doneCh := make(chan struct{})
	go func() {
		d.workerWG.Wait()
		close(doneCh)
	}()
	graceTimer := time.NewTimer(shutdownGrace)
	defer graceTimer.Stop()
	if d.stop != nil {
		// Signal the consumer loop to stop claiming new jobs; the current
		// job keeps its own context until the grace window lapses.
		defer d.stop()
	}
	select {
	case <-doneCh:
	case <-graceTimer.C:
		log.Warn("shutdown grace expired, cancelling in-flight job")
		if d.stop != nil {
			d.stop()
		}
		if current, err := d.queue.Current(context.Background()); err == nil && current != nil {
			_ = d.queue.Complete(context.Background(), current.ID, queue.Cancelled, "daemon shutdown")
		}
		select {
		case <-doneCh:
		case <-time.After(5 * time.Second):
		}
	case <-ctx.Done():
	}

	err := d.Close()
	log.Info("daemon stopped")
	return err
}

// Close releases stores in reverse open order and drops the lock file.
func (d *Daemon) Close() error {
	var err error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if d.closers[i] == nil {
			continue
		}
		if cerr := d.closers[i].Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	d.closers = nil
	d.releaseLock()
	return err
}

// acquireLock refuses to start when another live daemon owns the data
// directory.
func (d *Daemon) acquireLock() error {
	d.lockPath = filepath.Join(d.cfg.DataDir, "excavator.lock")
	if data, err := os.ReadFile(d.lockPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && processAlive(pid) {
			return xerrors.Newf(xerrors.Fatal, component,
				"another daemon (pid %d) already owns %s", pid, d.cfg.DataDir)
		}
		// Stale lock from a crashed daemon.
		_ = os.Remove(d.lockPath)
	}
	f, err := os.OpenFile(d.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return xerrors.New(xerrors.Fatal, component, fmt.Errorf("acquire lock: %w", err))
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}

func (d *Daemon) releaseLock() {
	if d.lockPath != "" {
		_ = os.Remove(d.lockPath)
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (d *Daemon) isShuttingDown() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.shuttingDown
}

// Ready reports whether startup completed and shutdown has not begun.
func (d *Daemon) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// Uptime is the time since Start.
func (d *Daemon) Uptime() time.Duration {
	if d.startedAt.IsZero() {
		return 0
	}
	return time.Since(d.startedAt)
}

// Accessors for the control plane.
func (d *Daemon) Catalog() *catalog.Store          { return d.catalog }
func (d *Daemon) Queue() *queue.Queue              { return d.queue }
func (d *Daemon) Vectors() vector.Store            { return d.vectors }
func (d *Daemon) Embedder() capability.Embedder    { return d.embedder }
func (d *Daemon) Pipeline() *pipeline.Pipeline     { return d.pipeline }
func (d *Daemon) Engine() *correlation.Engine      { return d.engine }
func (d *Daemon) Tracker() *ops.Tracker            { return d.tracker }
func (d *Daemon) Metrics() *telemetry.Metrics      { return d.metrics }
func (d *Daemon) Graph() *graph.Service            { return d.graph }
func (d *Daemon) Config() config.Config            { return d.cfg }
