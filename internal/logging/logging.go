// File path: internal/logging/logging.go
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultLogHistory = 1000

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	sink       = newLogSink(defaultLogHistory)
)

// Entry represents a captured log record, as surfaced through the CLI's
// `logs` subcommand and the control plane's telemetry rollup.
type Entry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Logger returns the process-wide slog logger. LOG_LEVEL selects the level
// (debug|info|warn|error, default info); LOG_FORMAT=json selects the JSON
// handler used in production, otherwise a text handler is used (suitable
// when attached to a terminal). LOG_FILE additionally appends every record
// to the named file, truncated back to tailKeepBytes when it outgrows
// maxLogFileBytes.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		level := slog.LevelInfo
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		out := io.Writer(os.Stdout)
		if path := strings.TrimSpace(os.Getenv("LOG_FILE")); path != "" {
			if fw, err := newRollingFile(path); err == nil {
				out = io.MultiWriter(os.Stdout, fw)
			}
		}
		opts := &slog.HandlerOptions{Level: level}
		var baseHandler slog.Handler
		if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "json") {
			baseHandler = slog.NewJSONHandler(out, opts)
		} else {
			baseHandler = slog.NewTextHandler(out, opts)
		}
		logger = slog.New(&capturingHandler{handler: baseHandler, sink: sink})
	})
	return logger
}

const (
	maxLogFileBytes = 16 << 20
	tailKeepBytes   = 4 << 20
)

// rollingFile appends to one log file and truncates it to its tail when it
// crosses the size cap, keeping the file bounded without a rotation daemon.
type rollingFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	size int64
}

func newRollingFile(path string) (*rollingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &rollingFile{path: path, f: f, size: info.Size()}, nil
}

func (w *rollingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.f.Write(p)
	w.size += int64(n)
	if w.size > maxLogFileBytes {
		w.roll()
	}
	return n, err
}

func (w *rollingFile) roll() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}
	if len(data) > tailKeepBytes {
		data = data[len(data)-tailKeepBytes:]
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			data = data[idx+1:]
		}
	}
	_ = w.f.Close()
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	w.f = f
	w.size = int64(len(data))
}

// With returns a logger scoped to a subsystem, e.g. With("catalog").
func With(component string) *slog.Logger {
	return Logger().With("component", component)
}

// Entries returns a copy of the captured rolling log history.
func Entries() []Entry {
	if sink == nil {
		return nil
	}
	return sink.entries()
}

type capturingHandler struct {
	handler slog.Handler
	sink    *logSink
}

func (h *capturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *capturingHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.handler.Handle(ctx, record)
	if h.sink != nil {
		h.sink.capture(record)
	}
	return err
}

func (h *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capturingHandler{handler: h.handler.WithAttrs(attrs), sink: h.sink}
}

func (h *capturingHandler) WithGroup(name string) slog.Handler {
	return &capturingHandler{handler: h.handler.WithGroup(name), sink: h.sink}
}

type logSink struct {
	mu      sync.RWMutex
	max     int
	history []Entry
}

func newLogSink(max int) *logSink {
	if max <= 0 {
		max = defaultLogHistory
	}
	return &logSink{max: max}
}

func (s *logSink) capture(record slog.Record) {
	entry := buildEntry(record)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	if len(s.history) > s.max {
		s.history = s.history[len(s.history)-s.max:]
	}
}

func (s *logSink) entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return nil
	}
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

func buildEntry(record slog.Record) Entry {
	rec := record.Clone()
	entry := Entry{
		Time:    rec.Time.UTC(),
		Level:   strings.ToLower(rec.Level.String()),
		Message: rec.Message,
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	var attrs map[string]interface{}
	rec.Attrs(func(a slog.Attr) bool {
		value := valueToAny(a.Value)
		if a.Key == "component" {
			if str, ok := value.(string); ok && str != "" {
				entry.Component = str
				return true
			}
		}
		if attrs == nil {
			attrs = make(map[string]interface{})
		}
		attrs[a.Key] = value
		return true
	})
	if attrs != nil {
		entry.Attributes = attrs
	}
	return entry
}

func valueToAny(v slog.Value) interface{} {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return v.Bool()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC()
	case slog.KindAny:
		return fmt.Sprintf("%v", v.Any())
	default:
		return v.String()
	}
}
