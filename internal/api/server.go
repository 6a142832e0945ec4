// File path: internal/api/server.go

// Package api is the HTTP control plane: JSON over TCP on the /api/v1
// prefix. Handlers only read snapshots or enqueue jobs; heavy work
// always goes through the queue or the correlation engine's worker
// goroutines, so /health answers in milliseconds even mid-correlation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/daemon"
	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/ops"
	"github.com/excavator-project/excavator/internal/queue"
	"github.com/excavator-project/excavator/internal/vector"
)

const component = "api"

// Server is the control plane over one daemon.
type Server struct {
	router chi.Router
	daemon *daemon.Daemon

	shutdownRequested chan struct{}
}

// NewServer builds the router. ShutdownRequested fires when POST /shutdown
// is accepted; the process entry point listens on it.
func NewServer(d *daemon.Daemon) *Server {
	s := &Server{
		router:            chi.NewRouter(),
		daemon:            d,
		shutdownRequested: make(chan struct{}),
	}
	s.routes()
	logging.With(component).Info("control plane ready")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ShutdownRequested closes once a graceful shutdown has been requested.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdownRequested }

func (s *Server) routes() {
	logger := logging.With(component)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)
			s.daemon.Metrics().RecordRequest(r.Context(), r.Method, r.URL.Path, sw.status, elapsed.Seconds())
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "dur", elapsed)
		})
	})
	// During shutdown the control plane answers 503 to everything except
	// health and readiness.
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.daemon.Ready() && r.URL.Path != "/api/v1/health" && r.URL.Path != "/api/v1/readiness" {
				writeError(w, http.StatusServiceUnavailable, errors.New("daemon not ready"))
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)
		r.Get("/status", s.handleStatus)
		r.Get("/telemetry", s.handleTelemetry)
		r.Get("/stats", s.handleStats)
		r.Get("/query", s.handleQuery)
		r.Get("/file/{id}", s.handleFile)
		r.Get("/entities", s.handleEntities)
		r.Get("/entities/{id}/related", s.handleRelatedEntities)
		r.Get("/patterns", s.handlePatterns)
		r.Get("/discoveries", s.handleDiscoveries)
		r.Get("/discoveries/graph", s.handleDiscoveryGraph)
		r.Post("/discoveries/{id}/feedback", s.handleFeedback)
		r.Post("/excavate", s.handleExcavate)
		r.Post("/correlate", s.handleCorrelateAsync)
		r.Post("/correlate/run", s.handleCorrelateSync)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/current", s.handleJobsCurrent)
		r.Get("/jobs/recent", s.handleJobsRecent)
		r.Post("/jobs/cleanup", s.handleJobsCleanup)
		r.Get("/logs", s.handleLogs)
		r.Post("/shutdown", s.handleShutdown)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// handleHealth must return fast even during correlation: it touches only
// in-memory state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.daemon.Ready() {
		status = "shutting_down"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": daemon.Version,
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.daemon.Ready() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":  false,
		"reason": "startup_in_progress",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Catalog().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	queueStats, err := s.daemon.Queue().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":        daemon.Version,
		"uptime_seconds": s.daemon.Uptime().Seconds(),
		"catalog":        stats,
		"queue":          queueStats,
		"operation":      s.daemon.Tracker().Current(),
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.daemon.Catalog().Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	queueStats, err := s.daemon.Queue().Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	system := ops.ReadSystemStats(ctx)
	payload := map[string]interface{}{
		"status": map[string]interface{}{
			"version":        daemon.Version,
			"uptime_seconds": s.daemon.Uptime().Seconds(),
		},
		"catalog":   stats,
		"queue":     queueStats,
		"system":    system,
		"counters":  s.daemon.Metrics().Snapshot(ctx),
		"operation": s.daemon.Tracker().Current(),
		"storage": map[string]interface{}{
			"vector_bytes": s.daemon.Vectors().SizeBytes(),
		},
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Catalog().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	queueStats, err := s.daemon.Queue().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"catalog": stats, "queue": queueStats})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing q parameter"))
		return
	}
	k := intParam(r, "k", 5)
	results, err := vector.QueryByText(r.Context(), s.daemon.Embedder(), s.daemon.Vectors(), q, k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.daemon.Metrics().VectorSearches.Add(r.Context(), 1)
	writeJSON(w, http.StatusOK, map[string]interface{}{"query": q, "results": results})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file, err := s.daemon.Catalog().GetFile(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("file %s not found", id))
		return
	}
	chunks, err := s.daemon.Catalog().IterChunks(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"file": file, "chunks": chunks})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("type")
	minOcc := intParam(r, "min_occurrences", 1)
	limit := intParam(r, "limit", 100)
	entities, err := s.daemon.Catalog().ListConsolidatedEntities(r.Context(), entityType, minOcc, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

func (s *Server) handleRelatedEntities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ent, err := s.daemon.Catalog().GetConsolidatedEntity(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("entity %s not found", id))
		return
	}
	key := string(ent.EntityType) + ":" + ent.Normalized
	related := s.daemon.Engine().Consolidator().Related(key, 0.3, intParam(r, "limit", 20))
	writeJSON(w, http.StatusOK, map[string]interface{}{"entity": ent, "related": related})
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	patternType := r.URL.Query().Get("type")
	minConfidence := floatParam(r, "min_confidence", 0)
	patterns, err := s.daemon.Catalog().ListPatterns(r.Context(), patternType, minConfidence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": patterns})
}

func (s *Server) handleDiscoveries(w http.ResponseWriter, r *http.Request) {
	discoveryType := r.URL.Query().Get("type")
	minConfidence := floatParam(r, "min_confidence", 0)
	var status *catalog.DiscoveryStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := catalog.DiscoveryStatus(raw)
		status = &st
	}
	discoveries, err := s.daemon.Catalog().ListDiscoveries(r.Context(), discoveryType, status, minConfidence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"discoveries": discoveries})
}

func (s *Server) handleDiscoveryGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Graph().Export())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Action string `json:"action"`
		Notes  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode feedback: %w", err))
		return
	}
	var status catalog.DiscoveryStatus
	switch body.Action {
	case "confirm":
		status = catalog.DiscoveryConfirmed
	case "dismiss":
		status = catalog.DiscoveryDismissed
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid action %q", body.Action))
		return
	}
	if _, err := s.daemon.Catalog().GetDiscovery(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("discovery %s not found", id))
		return
	}
	if err := s.daemon.Catalog().SetDiscoveryFeedback(r.Context(), id, status, body.Notes); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": status})
}

func (s *Server) handleExcavate(w http.ResponseWriter, r *http.Request) {
	var payload daemon.BatchExtractionPayload
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload) // empty body means full scope
	}
	jobID, err := s.daemon.Queue().Enqueue(r.Context(), queue.BatchExtraction, payload, queue.PUser)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}

func (s *Server) handleCorrelateAsync(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.daemon.Queue().Enqueue(r.Context(), queue.Correlation, daemon.CorrelationPayload{}, queue.PUser)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}

// handleCorrelateSync runs correlation inline with operation tracking; the
// engine's stages run on worker goroutines, so health stays responsive.
func (s *Server) handleCorrelateSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.Engine().Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Queue().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobsCurrent(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.Queue().Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":       job,
		"operation": s.daemon.Tracker().Current(),
	})
}

func (s *Server) handleJobsRecent(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.daemon.Queue().Recent(r.Context(), intParam(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) handleJobsCleanup(w http.ResponseWriter, r *http.Request) {
	days := intParam(r, "days", s.daemon.Config().Queue.RetentionDays)
	n, err := s.daemon.Queue().CleanupOld(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := logging.Entries()
	limit := intParam(r, "limit", 100)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"shutting_down": true})
	select {
	case <-s.shutdownRequested:
	default:
		close(s.shutdownRequested)
	}
}

// Serve runs the HTTP listener until ctx is cancelled.
func Serve(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.With(component).Info("listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := logging.With(component)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func floatParam(r *http.Request, name string, fallback float64) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
