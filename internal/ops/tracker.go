// File path: internal/ops/tracker.go

// Package ops tracks the currently executing heavy operation and the
// rolling per-kind duration history that feeds ETA estimates. The
// slot is replaced atomically so telemetry readers never observe a
// half-written descriptor.
package ops

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/excavator-project/excavator/internal/logging"
)

const component = "ops"

// historyDepth is how many completed runs per kind feed the ETA mean.
const historyDepth = 10

// Kind enumerates tracked operation kinds. One variant per kind, not a bag
// of optional fields.
type Kind string

const (
	KindExtraction    Kind = "extraction"
	KindCorrelation   Kind = "correlation"
	KindTranscription Kind = "transcription"
	KindVision        Kind = "vision"
	KindReconcile     Kind = "reconcile"
)

// Operation describes the in-flight heavy operation.
type Operation struct {
	Kind       Kind      `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	Progress   float64   `json:"progress"` // 0..1, or -1 when indeterminate
	ETASeconds *float64  `json:"eta_seconds,omitempty"`
	Details    string    `json:"details,omitempty"`
}

// Elapsed is the operation's age at the time of the snapshot.
func (o Operation) Elapsed() time.Duration { return time.Since(o.StartedAt) }

// Tracker is the process-wide operation slot plus duration history.
type Tracker struct {
	mu      sync.Mutex
	current *Operation
	history map[Kind][]float64 // completed durations, seconds, newest last
	path    string             // history persistence, "" = in-memory only
}

// NewTracker loads (or initializes) a tracker whose history persists at
// dir/operation_history.json. An empty dir keeps history in memory.
func NewTracker(dir string) *Tracker {
	t := &Tracker{history: map[Kind][]float64{}}
	if dir == "" {
		return t
	}
	t.path = filepath.Join(dir, "operation_history.json")
	data, err := os.ReadFile(t.path)
	if err == nil {
		if err := json.Unmarshal(data, &t.history); err != nil {
			logging.With(component).Warn("operation history unreadable, starting fresh", "path", t.path)
			t.history = map[Kind][]float64{}
		}
	}
	return t
}

// Begin installs a new operation descriptor, with ETA from the mean of the
// last runs of the same kind (nil when no history exists). Returns a done
// function that clears the slot and records the duration.
func (t *Tracker) Begin(kind Kind, details string) func() {
	t.mu.Lock()
	op := &Operation{Kind: kind, StartedAt: time.Now(), Progress: -1, Details: details}
	if eta := t.meanLocked(kind); eta > 0 {
		op.ETASeconds = &eta
	}
	t.current = op
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		var elapsed float64
		if t.current != nil && t.current.Kind == kind {
			elapsed = time.Since(t.current.StartedAt).Seconds()
			t.current = nil
		}
		if elapsed > 0 {
			h := append(t.history[kind], elapsed)
			if len(h) > historyDepth {
				h = h[len(h)-historyDepth:]
			}
			t.history[kind] = h
		}
		t.mu.Unlock()
		t.persist()
	}
}

// SetDetails updates the stage tag of the current operation.
func (t *Tracker) SetDetails(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		next := *t.current
		next.Details = details
		t.current = &next
	}
}

// SetProgress updates the progress fraction of the current operation.
func (t *Tracker) SetProgress(fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		next := *t.current
		next.Progress = fraction
		t.current = &next
	}
}

// Current returns a copy of the in-flight operation, or nil.
func (t *Tracker) Current() *Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	op := *t.current
	return &op
}

func (t *Tracker) meanLocked(kind Kind) float64 {
	h := t.history[kind]
	if len(h) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range h {
		sum += v
	}
	return sum / float64(len(h))
}

func (t *Tracker) persist() {
	if t.path == "" {
		return
	}
	t.mu.Lock()
	data, err := json.MarshalIndent(t.history, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		logging.With(component).Warn("persisting operation history failed", "error", err)
	}
}
