// File path: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.API.Port)
	}
	if cfg.Correlation.MinDiscoveryConfidence != 0.7 {
		t.Errorf("min confidence = %f", cfg.Correlation.MinDiscoveryConfidence)
	}
	if cfg.Correlation.MinDiscoverySources != 2 {
		t.Errorf("min sources = %d", cfg.Correlation.MinDiscoverySources)
	}
	if cfg.Correlation.MaxEntities != 50000 || cfg.Correlation.MaxPairsPerFile != 500 || cfg.Correlation.MaxTotalPairs != 1000000 {
		t.Errorf("bounds = %+v", cfg.Correlation)
	}
	if cfg.Queue.MaxAttempts != 3 || cfg.Queue.RecentJobsCap != 256 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Queue.DebounceWindow != 500*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Queue.DebounceWindow)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
api:
  port: 9999
correlation:
  max_entities: 1000
sources:
  - path: /data/docs
    recursive: true
    enabled: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.API.Port)
	}
	if cfg.Correlation.MaxEntities != 1000 {
		t.Errorf("max entities = %d, want 1000", cfg.Correlation.MaxEntities)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Path != "/data/docs" {
		t.Errorf("sources = %+v", cfg.Sources)
	}
	// Untouched keys keep their defaults.
	if cfg.Correlation.MaxTotalPairs != 1000000 {
		t.Errorf("max total pairs = %d", cfg.Correlation.MaxTotalPairs)
	}
}

func TestExcludeMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	files := []struct {
		path string
		want bool
	}{
		{"/home/u/project/node_modules/react/index.js", true},
		{"/home/u/work/venv/lib/python3.11/site-packages/mod.py", true},
		{"/home/u/app/__pycache__/mod.cpython-311.pyc", true},
		{"/home/u/notes/scratch.tmp", true},
		{"/home/u/notes/Thumbs.db", true},
		{"/home/u/notes/plan.md", false},
		{"/home/u/project/src/index.js", false},
	}
	for _, tc := range files {
		got := cfg.Exclude.MatchesFile(tc.path, filepath.Base(tc.path))
		if got != tc.want {
			t.Errorf("MatchesFile(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}

	// Directory pruning must fire on the directory itself, so walkers never
	// descend into the subtree.
	dirs := []struct {
		path string
		want bool
	}{
		{"/home/u/project/node_modules", true},
		{"/home/u/project/node_modules/react", true},
		{"/home/u/work/venv", true},
		{"/home/u/project/src", false},
	}
	for _, tc := range dirs {
		if got := cfg.Exclude.MatchesDir(tc.path); got != tc.want {
			t.Errorf("MatchesDir(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"100MB", 100 << 20, false},
		{"1GB", 1 << 30, false},
		{"512kb", 512 << 10, false},
		{"2.5MB", int64(2.5 * float64(1<<20)), false},
		{"42", 42, false},
		{"10B", 10, false},
		{"lots", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q) accepted", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMaxSizeBytesDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Exclude.MaxSizeBytes(); got != 100<<20 {
		t.Errorf("default size cap = %d, want 100MB", got)
	}
}

func TestMergeKeepsBaseWhereOverrideZero(t *testing.T) {
	base, _ := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	merged := base.Merge(Config{API: APIConfig{Port: 8888}})
	if merged.API.Port != 8888 {
		t.Errorf("override lost: %d", merged.API.Port)
	}
	if merged.Correlation.MaxEntities != base.Correlation.MaxEntities {
		t.Errorf("base value lost: %d", merged.Correlation.MaxEntities)
	}
}
