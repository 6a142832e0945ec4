// File path: internal/daemon/jobs.go
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/graph"
	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/ops"
	"github.com/excavator-project/excavator/internal/queue"
	"github.com/excavator-project/excavator/internal/xerrors"
)

// Typed job payloads. The queue stores them as JSON; a payload that fails
// to decode against its type is a ProgrammerError, not a silent skip.

// FileExtractionPayload names one file to run through the pipeline.
type FileExtractionPayload struct {
	Path  string `json:"path"`
	Event string `json:"event,omitempty"`
}

// BatchExtractionPayload scopes a discovery scan. Empty roots means every
// configured source.
type BatchExtractionPayload struct {
	Roots      []string `json:"roots,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
}

// FAEImportPayload names one conversational-AI export archive.
type FAEImportPayload struct {
	Path     string `json:"path"`
	Provider string `json:"provider,omitempty"`
}

// CorrelationPayload triggers a full correlation batch.
type CorrelationPayload struct{}

// TranscribePayload names one audio file for transcription.
type TranscribePayload struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
}

// VisionAnalyzePayload names one image for vision analysis.
type VisionAnalyzePayload struct {
	FileID string `json:"file_id"`
	Path   string `json:"path"`
}

// consumeJobs is the single consumer loop: at most one job runs at a time
// regardless of how many producers enqueue.
func (d *Daemon) consumeJobs(ctx context.Context) {
	defer d.workerWG.Done()
	log := logging.With(component)
	log.Info("job worker running")

	for {
		if ctx.Err() != nil || d.isShuttingDown() {
			return
		}
		job, err := d.queue.ClaimNext(ctx)
		if err != nil {
			log.Error("claim failed", "error", err)
			d.queue.Wait(ctx, time.Second)
			continue
		}
		if job == nil {
			d.queue.Wait(ctx, 500*time.Millisecond)
			continue
		}
		if job.ExceedsMaxAttempts() {
			_ = d.queue.Complete(ctx, job.ID, queue.Failed,
				fmt.Sprintf("attempt ceiling exceeded (%d): %s", job.AttemptCount, job.Error))
			continue
		}

		err = d.processJob(ctx, job)
		switch {
		case err == nil:
			_ = d.queue.Complete(ctx, job.ID, queue.Succeeded, "")
			d.metrics.JobsProcessed.Add(ctx, 1)
		case ctx.Err() != nil:
			_ = d.queue.Complete(ctx, job.ID, queue.Cancelled, "daemon shutdown")
			return
		default:
			if xerrors.Is(err, xerrors.ProgrammerError) {
				log.Error("programmer error in job, propagating to job record", "id", job.ID, "type", job.Type, "error", err)
			} else {
				log.Error("job failed", "id", job.ID, "type", job.Type, "error", err)
			}
			_ = d.queue.Complete(ctx, job.ID, queue.Failed, err.Error())
			d.metrics.JobsFailed.Add(ctx, 1)
		}
	}
}

func decodePayload(job *queue.Job, dst interface{}) error {
	if err := json.Unmarshal(job.Payload, dst); err != nil {
		return xerrors.ProgrammerErrorf(component, "job %s payload does not decode as %T: %v", job.ID, dst, err)
	}
	return nil
}

func (d *Daemon) processJob(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.FileExtraction:
		var payload FileExtractionPayload
		if err := decodePayload(job, &payload); err != nil {
			return err
		}
		return d.runFileExtraction(ctx, payload)
	case queue.BatchExtraction:
		var payload BatchExtractionPayload
		if err := decodePayload(job, &payload); err != nil {
			return err
		}
		return d.runBatchExtraction(ctx, payload)
	case queue.FAEImport:
		var payload FAEImportPayload
		if err := decodePayload(job, &payload); err != nil {
			return err
		}
		_, err := d.pipeline.ProcessFAE(ctx, payload.Path, payload.Provider)
		if err == nil {
			d.metrics.FilesIndexed.Add(ctx, 1)
		}
		return err
	case queue.Correlation:
		return d.runCorrelation(ctx)
	case queue.Transcribe:
		var payload TranscribePayload
		if err := decodePayload(job, &payload); err != nil {
			return err
		}
		return xerrors.Newf(xerrors.ExternalUnavailable, component,
			"transcription provider not configured for %s", payload.Path)
	case queue.VisionAnalyze:
		var payload VisionAnalyzePayload
		if err := decodePayload(job, &payload); err != nil {
			return err
		}
		return xerrors.Newf(xerrors.ExternalUnavailable, component,
			"vision provider not configured for %s", payload.Path)
	default:
		return xerrors.ProgrammerErrorf(component, "unknown job type %q", job.Type)
	}
}

func (d *Daemon) runFileExtraction(ctx context.Context, payload FileExtractionPayload) error {
	if _, err := os.Stat(payload.Path); err != nil {
		// File vanished between event and claim: soft skip, not an error.
		logging.With(component).Debug("file gone before extraction", "path", payload.Path)
		return d.pipeline.MarkSkipped(ctx, payload.Path)
	}
	done := d.tracker.Begin(ops.KindExtraction, filepath.Base(payload.Path))
	defer done()
	_, err := d.pipeline.ProcessFile(ctx, payload.Path)
	if err == nil {
		d.metrics.FilesIndexed.Add(ctx, 1)
	}
	return err
}

// runBatchExtraction walks the scoped roots and processes every matching
// file inline. Between files it checks for cancellation so shutdown is
// never blocked on a large tree.
func (d *Daemon) runBatchExtraction(ctx context.Context, payload BatchExtractionPayload) error {
	log := logging.With(component)
	roots := payload.Roots
	if len(roots) == 0 {
		for _, src := range d.cfg.Sources {
			if src.Enabled {
				roots = append(roots, src.Path)
			}
		}
	}
	allowed := map[string]bool{}
	for _, ext := range payload.Extensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	maxSize := d.cfg.Exclude.MaxSizeBytes()

	processed, failed := 0, 0
	for _, root := range roots {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			name := filepath.Base(path)
			if info.IsDir() {
				if strings.HasPrefix(name, ".") && name != "." {
					return filepath.SkipDir
				}
				// Prune excluded subtrees (node_modules, venv, ...) at the
				// directory, not per leaf file.
				if d.cfg.Exclude.MatchesDir(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(name, ".") {
				return nil
			}
			if d.cfg.Exclude.MatchesFile(path, name) {
				return nil
			}
			if maxSize > 0 && info.Size() > maxSize {
				log.Debug("batch extraction: skipping oversized file", "path", path, "size", info.Size(), "max", maxSize)
				return nil
			}
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
			if len(allowed) > 0 && !allowed[ext] {
				return nil
			}
			if _, err := d.pipeline.ProcessFile(ctx, path); err != nil {
				failed++
				log.Warn("batch extraction: file failed", "path", path, "error", err)
				if xerrors.Is(err, xerrors.ProgrammerError) {
					return err
				}
				return nil
			}
			processed++
			d.metrics.FilesIndexed.Add(ctx, 1)
			return nil
		})
		if err != nil {
			return fmt.Errorf("batch walk %s: %w", root, err)
		}
	}
	log.Info("batch extraction complete", "processed", processed, "failed", failed)
	return nil
}

func (d *Daemon) runCorrelation(ctx context.Context) error {
	result, err := d.engine.Run(ctx)
	if err != nil {
		return err
	}
	d.metrics.CorrelationsRun.Add(ctx, 1)
	if result.PairsDropped > 0 {
		d.metrics.PairsDropped.Add(ctx, int64(result.PairsDropped))
	}
	d.refreshGraph(ctx)
	return nil
}

// refreshGraph re-projects discoveries and top entities into the export
// graph after each correlation run.
func (d *Daemon) refreshGraph(ctx context.Context) {
	discoveries, err := d.catalog.ListDiscoveries(ctx, "", nil, 0)
	if err != nil {
		logging.With(component).Warn("graph refresh: list discoveries failed", "error", err)
		return
	}
	entities, err := d.catalog.ListConsolidatedEntities(ctx, "", 1, 500)
	if err != nil {
		logging.With(component).Warn("graph refresh: list entities failed", "error", err)
		return
	}
	d.graph.Refresh(toGraphDiscoveries(discoveries), toGraphEntities(entities))
}

func toGraphDiscoveries(records []catalog.DiscoveryRecord) []graph.DiscoveryInput {
	out := make([]graph.DiscoveryInput, 0, len(records))
	for _, d := range records {
		var sources []string
		_ = json.Unmarshal([]byte(d.SourcesJSON), &sources)
		out = append(out, graph.DiscoveryInput{
			ID:         d.ID,
			Type:       d.DiscoveryType,
			Title:      d.Title,
			Confidence: d.Confidence,
			Status:     string(d.Status),
			Sources:    sources,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out
}

func toGraphEntities(records []catalog.ConsolidatedEntity) []graph.EntityInput {
	out := make([]graph.EntityInput, 0, len(records))
	for _, e := range records {
		out = append(out, graph.EntityInput{
			ID:          e.ID,
			Type:        string(e.EntityType),
			Value:       e.CanonicalValue,
			Occurrences: e.OccurrenceCount,
		})
	}
	return out
}
