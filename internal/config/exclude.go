// File path: internal/config/exclude.go
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchesFile reports whether a file is excluded, either by a base-name
// pattern (*.tmp, Thumbs.db) or by a path glob (**/node_modules/**).
// Path globs need doublestar matching: filepath.Match's * cannot cross a
// separator, so **-style patterns would never fire through it.
func (e ExcludeConfig) MatchesFile(path, name string) bool {
	for _, pattern := range e.Patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	slashed := normalizePath(path)
	for _, pattern := range e.Paths {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}

// MatchesDir reports whether a directory should be pruned from traversal.
// A pattern like **/node_modules/** names the directory's contents, so the
// directory itself is also matched with the trailing /** removed; pruning
// at the directory keeps walkers out of the subtree entirely.
func (e ExcludeConfig) MatchesDir(path string) bool {
	slashed := normalizePath(path)
	for _, pattern := range e.Paths {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
		if trimmed := strings.TrimSuffix(pattern, "/**"); trimmed != pattern {
			if ok, _ := doublestar.Match(trimmed, slashed); ok {
				return true
			}
		}
	}
	return false
}

// MaxSizeBytes returns the parsed SizeMax threshold, or 0 when unset or
// unparseable (no limit).
func (e ExcludeConfig) MaxSizeBytes() int64 {
	n, err := ParseSize(e.SizeMax)
	if err != nil {
		return 0
	}
	return n
}

func normalizePath(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "/")
}

var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize converts a "100MB"-style string into bytes. A bare number is
// taken as bytes; an empty string means no limit.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	for _, unit := range sizeUnits {
		if !strings.HasSuffix(s, unit.suffix) {
			continue
		}
		number := strings.TrimSpace(strings.TrimSuffix(s, unit.suffix))
		value, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, fmt.Errorf("parse size %q: %w", s, err)
		}
		return int64(value * float64(unit.multiplier)), nil
	}
	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return value, nil
}
