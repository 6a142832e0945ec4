// File path: internal/correlation/engine.go
package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/ops"
)

// Result summarizes one correlation run.
type Result struct {
	EntitiesConsolidated int           `json:"entities_consolidated"`
	CoOccurrencePairs    int           `json:"co_occurrence_pairs"`
	PairsDropped         int           `json:"pairs_dropped"`
	PatternsDetected     int           `json:"patterns_detected"`
	DiscoveriesSurfaced  int           `json:"discoveries_surfaced"`
	ConsolidationTime    time.Duration `json:"consolidation_time"`
	PatternTime          time.Duration `json:"pattern_time"`
	DiscoveryTime        time.Duration `json:"discovery_time"`
	TotalTime            time.Duration `json:"total_time"`
}

// Config carries the engine's bounds and thresholds.
type Config struct {
	Bounds        Bounds
	MinConfidence float64
	MinSources    int
}

// Engine orchestrates the four stages: consolidate, co-occurrence, detect,
// surface. Each stage executes on its own goroutine and the orchestrator
// awaits completion, so the control plane stays responsive throughout.
type Engine struct {
	catalog *catalog.Store
	tracker *ops.Tracker
	cfg     Config

	consolidator *Consolidator
}

func NewEngine(cat *catalog.Store, tracker *ops.Tracker, cfg Config) *Engine {
	return &Engine{
		catalog:      cat,
		tracker:      tracker,
		cfg:          cfg,
		consolidator: NewConsolidator(cat),
	}
}

// Consolidator exposes the engine's last consolidated state for
// relatedness queries.
func (e *Engine) Consolidator() *Consolidator { return e.consolidator }

// stage runs fn on a fresh goroutine and blocks until it finishes or ctx
// is cancelled. CPU-bound work never runs on the caller's goroutine.
func stage[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		value, err := fn()
		ch <- outcome{value: value, err: err}
	}()
	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Run executes the full correlation batch. The operation tracker is set on
// entry, updated at each stage transition, and cleared on exit.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	log := logging.With(component)
	start := time.Now()
	result := &Result{}

	done := e.tracker.Begin(ops.KindCorrelation, "consolidate")
	defer done()

	consolidationStart := time.Now()
	entities, err := stage(ctx, func() (map[string]*Entity, error) {
		return e.consolidator.ConsolidateAll(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("consolidation stage: %w", err)
	}
	result.EntitiesConsolidated = len(entities)

	e.tracker.SetDetails("co-occurrence")
	pairs, err := stage(ctx, func() (map[Pair]*CoOccurrence, error) {
		return e.consolidator.BuildCoOccurrence(ctx, e.cfg.Bounds)
	})
	if err != nil {
		return nil, fmt.Errorf("co-occurrence stage: %w", err)
	}
	result.CoOccurrencePairs = len(pairs)
	result.PairsDropped = e.consolidator.PairsDropped()
	result.ConsolidationTime = time.Since(consolidationStart)

	e.tracker.SetDetails("detect")
	patternStart := time.Now()
	detector := NewDetector(e.catalog, e.consolidator)
	patterns, err := stage(ctx, func() ([]Pattern, error) {
		return detector.DetectAll(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("detection stage: %w", err)
	}
	result.PatternsDetected = len(patterns)
	result.PatternTime = time.Since(patternStart)

	if err := e.storePatterns(ctx, patterns); err != nil {
		return nil, err
	}

	e.tracker.SetDetails("surface")
	discoveryStart := time.Now()
	surfacer := NewSurfacer(e.catalog, e.cfg.MinConfidence, e.cfg.MinSources)
	surfaced, err := stage(ctx, func() (int, error) {
		return surfacer.SurfaceAll(ctx, patterns)
	})
	if err != nil {
		return nil, fmt.Errorf("surfacing stage: %w", err)
	}
	result.DiscoveriesSurfaced = surfaced
	result.DiscoveryTime = time.Since(discoveryStart)
	result.TotalTime = time.Since(start)

	if err := e.catalog.LogAudit(ctx, "correlation_run", result); err != nil {
		log.Warn("audit log write failed", "error", err)
	}
	log.Info("correlation complete",
		"entities", result.EntitiesConsolidated,
		"pairs", result.CoOccurrencePairs,
		"patterns", result.PatternsDetected,
		"discoveries", result.DiscoveriesSurfaced,
		"elapsed", result.TotalTime,
	)
	return result, nil
}

// storePatterns replaces the previous pattern set: prior rows are marked
// stale, the new set inserted.
func (e *Engine) storePatterns(ctx context.Context, patterns []Pattern) error {
	records := make([]catalog.PatternRecord, len(patterns))
	for i, p := range patterns {
		evidence, _ := json.Marshal(p.Evidence)
		sourceFiles, _ := json.Marshal(p.SourceFiles)
		sourceEntities, _ := json.Marshal(p.SourceEntities)
		records[i] = catalog.PatternRecord{
			ID:                 p.ID,
			PatternType:        p.Type,
			Title:              p.Title,
			Description:        p.Description,
			Confidence:         p.Confidence,
			EvidenceJSON:       string(evidence),
			SourceFilesJSON:    string(sourceFiles),
			SourceEntitiesJSON: string(sourceEntities),
			FirstSeen:          p.FirstSeen,
			LastSeen:           p.LastSeen,
		}
	}
	return e.catalog.ReplacePatterns(ctx, records)
}
