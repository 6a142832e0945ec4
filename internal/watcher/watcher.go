// File path: internal/watcher/watcher.go

// Package watcher implements a debounced, recursive fsnotify-based change
// detector bridging OS notification callbacks into job submissions without
// losing events across the goroutine boundary. fsnotify's event channel is
// itself the thread-safe hand-off, so no extra cross-thread scheduling is
// needed.
package watcher

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/excavator-project/excavator/internal/config"
	"github.com/excavator-project/excavator/internal/logging"
)

const component = "watcher"

// ChangeKind classifies a detected change.
type ChangeKind string

const (
	Created  ChangeKind = "created"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
)

// Change describes one debounced, filtered file-system event.
type Change struct {
	Path      string
	Kind      ChangeKind
	IsFAEFile bool
}

var faeFilenamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^conversations\.json$`),
	regexp.MustCompile(`(?i).*export.*\.json$`),
	regexp.MustCompile(`(?i).*chat.*\.json$`),
}

var vcsDirs = map[string]bool{".git": true, ".hg": true, ".svn": true}

// Watcher recursively watches a set of configured roots and emits debounced
// Changes via OnChange.
type Watcher struct {
	sources  []config.SourceConfig
	exclude  config.ExcludeConfig
	maxSize  int64
	debounce time.Duration
	OnChange func(Change)

	fsw *fsnotify.Watcher

	mu           sync.Mutex
	recentEvents map[string]time.Time
	visitedInode map[string]bool

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Watcher. Call Start to begin watching.
func New(sources []config.SourceConfig, exclude config.ExcludeConfig, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		sources:      sources,
		exclude:      exclude,
		maxSize:      exclude.MaxSizeBytes(),
		debounce:     debounce,
		fsw:          fsw,
		recentEvents: make(map[string]time.Time),
		visitedInode: make(map[string]bool),
		done:         make(chan struct{}),
	}, nil
}

// Start registers every enabled source root (recursively, if configured)
// and begins dispatching events. A root that fails to register is logged
// and skipped; the remaining roots still start.
func (w *Watcher) Start() {
	log := logging.With(component)
	for _, src := range w.sources {
		if !src.Enabled {
			continue
		}
		root, err := filepath.Abs(src.Path)
		if err != nil {
			log.Error("resolve watch root failed", "path", src.Path, "error", err)
			continue
		}
		if err := w.addRoot(root, src.Recursive); err != nil {
			log.Error("watch registration failed, continuing with remaining roots", "path", root, "error", err)
			continue
		}
		log.Info("watching root", "path", root, "recursive", src.Recursive)
	}
	go w.loop()
}

func (w *Watcher) addRoot(root string, recursive bool) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fsw.Add(filepath.Dir(root))
	}
	if !recursive {
		return w.fsw.Add(root)
	}
	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil // do not abort the whole walk for one unreadable subdirectory
		}
		if !fi.IsDir() {
			return nil
		}
		if w.shouldIgnoreDir(path, fi) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) shouldIgnoreDir(path string, fi os.FileInfo) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	if vcsDirs[name] {
		return true
	}
	if w.exclude.MatchesDir(path) {
		return true
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return true
	}
	key := inodeKey(fi)
	if key != "" {
		w.mu.Lock()
		seen := w.visitedInode[key]
		if !seen {
			w.visitedInode[key] = true
		}
		w.mu.Unlock()
		if seen {
			return true // symlink-loop guard: this inode has already been walked
		}
	}
	return false
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.With(component).Error("watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.shouldIgnore(event.Name) {
		return
	}
	var kind ChangeKind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = Created
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRoot(event.Name, true)
			return
		}
	case event.Op&fsnotify.Write != 0:
		kind = Modified
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = Deleted
	default:
		return
	}
	if kind != Deleted && w.exceedsSizeCap(event.Name) {
		return
	}
	if kind != Deleted && w.isDebounced(event.Name) {
		return
	}
	if w.OnChange != nil {
		w.OnChange(Change{Path: event.Name, Kind: kind, IsFAEFile: isFAETrigger(event.Name)})
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return true
	}
	if w.exclude.MatchesFile(path, name) {
		return true
	}
	for _, dir := range strings.Split(path, string(filepath.Separator)) {
		if vcsDirs[dir] {
			return true
		}
	}
	return false
}

// exceedsSizeCap drops oversized files before they ever reach the queue.
func (w *Watcher) exceedsSizeCap(path string) bool {
	if w.maxSize <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if info.Size() > w.maxSize {
		logging.With(component).Debug("skipping oversized file", "path", path, "size", info.Size(), "max", w.maxSize)
		return true
	}
	return false
}

// isDebounced reports whether path had an event within the debounce window,
// and records this event's time either way — a single extraction job is
// emitted per (path, content-change) within the window.
func (w *Watcher) isDebounced(path string) bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.recentEvents[path]; ok && now.Sub(last) < w.debounce {
		w.recentEvents[path] = now
		return true
	}
	w.recentEvents[path] = now
	if len(w.recentEvents) > 4096 {
		w.cleanupLocked(now)
	}
	return false
}

func (w *Watcher) cleanupLocked(now time.Time) {
	for p, t := range w.recentEvents {
		if now.Sub(t) > 10*w.debounce {
			delete(w.recentEvents, p)
		}
	}
}

func isFAETrigger(path string) bool {
	name := filepath.Base(path)
	for _, re := range faeFilenamePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Stop stops dispatching events and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	return w.fsw.Close()
}

func inodeKey(fi os.FileInfo) string {
	// Portable builds (no golang.org/x/sys dependency) use name+modtime as a
	// loop-guard proxy; real inode numbers are platform-specific and not
	// exposed by the standard os.FileInfo.
	return fi.Name() + fi.ModTime().String()
}
