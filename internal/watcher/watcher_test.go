// File path: internal/watcher/watcher_test.go
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/excavator-project/excavator/internal/config"
)

func TestFAETriggerDetection(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/home/u/Downloads/conversations.json", true},
		{"/home/u/claude-export-2024.json", true},
		{"/home/u/chat_history.json", true},
		{"/home/u/notes.json", false},
		{"/home/u/conversations.txt", false},
	}
	for _, tc := range cases {
		if got := isFAETrigger(tc.path); got != tc.want {
			t.Errorf("isFAETrigger(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestDebounceWindow(t *testing.T) {
	w, err := New(nil, config.ExcludeConfig{}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Stop()

	if w.isDebounced("/tmp/a.md") {
		t.Error("first event debounced")
	}
	if !w.isDebounced("/tmp/a.md") {
		t.Error("second immediate event not debounced")
	}
	time.Sleep(80 * time.Millisecond)
	if w.isDebounced("/tmp/a.md") {
		t.Error("event after window still debounced")
	}
}

func TestIgnoreRules(t *testing.T) {
	w, err := New(nil, config.ExcludeConfig{
		Paths:    []string{"**/node_modules/**", "**/venv/**"},
		Patterns: []string{"*.tmp", "Thumbs.db"},
	}, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Stop()

	cases := []struct {
		path string
		want bool
	}{
		{"/home/u/.hidden.md", true},
		{"/home/u/project/.git/HEAD", true},
		{"/home/u/scratch.tmp", true},
		{"/home/u/Thumbs.db", true},
		{"/home/u/project/node_modules/react/index.js", true},
		{"/home/u/work/venv/lib/mod.py", true},
		{"/home/u/notes.md", false},
		{"/home/u/project/src/index.js", false},
	}
	for _, tc := range cases {
		if got := w.shouldIgnore(tc.path); got != tc.want {
			t.Errorf("shouldIgnore(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestSizeCap(t *testing.T) {
	dir := t.TempDir()
	w, err := New(nil, config.ExcludeConfig{SizeMax: "1KB"}, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Stop()

	small := filepath.Join(dir, "small.md")
	if err := os.WriteFile(small, []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}
	big := filepath.Join(dir, "big.md")
	if err := os.WriteFile(big, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	if w.exceedsSizeCap(small) {
		t.Error("small file rejected by size cap")
	}
	if !w.exceedsSizeCap(big) {
		t.Error("oversized file passed the size cap")
	}
}

func TestWatcherEmitsOnCreate(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]config.SourceConfig{{Path: dir, Recursive: true, Enabled: true}},
		config.ExcludeConfig{}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Stop()

	var mu sync.Mutex
	var changes []Change
	w.OnChange = func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}
	w.Start()
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "plan.md")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no change emitted for created file")
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if changes[0].Path != path {
		t.Errorf("path = %s, want %s", changes[0].Path, path)
	}
	if changes[0].IsFAEFile {
		t.Error("plan.md flagged as FAE export")
	}
}
