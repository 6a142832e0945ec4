// File path: internal/extract/extract.go

// Package extract turns file bytes into text plus structural hints. The
// Registry maps extensions (with a magic-byte sniff fallback) to Extractor
// implementations; everything unknown falls through to plaintext.
package extract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CodeElement is one top-level structural boundary in a code file, used by
// the code chunker to split on declaration edges.
type CodeElement struct {
	Kind      string // function, method, class, type
	Name      string
	LineStart int
	LineEnd   int
}

// ImageMeta is the typed image side-metadata carried through the pipeline.
type ImageMeta struct {
	Width       int
	Height      int
	Format      string
	CameraMake  string
	CameraModel string
	DateTaken   *time.Time
	Latitude    *float64
	Longitude   *float64
}

// AudioMeta is the typed audio side-metadata.
type AudioMeta struct {
	DurationSeconds float64
	Bitrate         int
	SampleRate      int
	Channels        int
	Codec           string
}

// Result is the output of one extraction.
type Result struct {
	Content      string
	Language     string
	WordCount    int
	CodeElements []CodeElement
	Image        *ImageMeta
	Audio        *AudioMeta
	IsOCR        bool
}

// Extractor converts a file's bytes into a Result.
type Extractor interface {
	Name() string
	Extensions() []string
	Extract(ctx context.Context, path string) (*Result, error)
}

// Registry resolves extractors by extension, then by magic-byte sniff, then
// falls back to plaintext.
type Registry struct {
	byExt    map[string]Extractor
	sniffers []Extractor
	fallback Extractor
}

// NewRegistry builds the default registry with every built-in extractor.
func NewRegistry() *Registry {
	r := &Registry{byExt: map[string]Extractor{}, fallback: &PlainTextExtractor{}}
	for _, ex := range []Extractor{
		&MarkdownExtractor{},
		&CodeExtractor{},
		&JSONExtractor{},
		&YAMLExtractor{},
		&ImageExtractor{},
		&AudioExtractor{},
		&PlainTextExtractor{},
	} {
		r.Register(ex)
	}
	return r
}

// Register maps each of the extractor's extensions to it. Later
// registrations win, so callers can override built-ins.
func (r *Registry) Register(ex Extractor) {
	for _, ext := range ex.Extensions() {
		r.byExt[strings.ToLower(ext)] = ex
	}
	r.sniffers = append(r.sniffers, ex)
}

// Resolve picks the extractor for a path. Never returns nil.
func (r *Registry) Resolve(path string) Extractor {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ex, ok := r.byExt[ext]; ok {
		return ex
	}
	if ex := r.sniff(path); ex != nil {
		return ex
	}
	return r.fallback
}

// sniff reads the file's leading bytes and matches known signatures.
func (r *Registry) sniff(path string) Extractor {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	head := make([]byte, 16)
	n, _ := f.Read(head)
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")),
		bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}),
		bytes.HasPrefix(head, []byte("GIF8")):
		return r.byExt["png"]
	case bytes.HasPrefix(head, []byte("ID3")),
		len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return r.byExt["mp3"]
	case bytes.HasPrefix(head, []byte("RIFF")):
		return r.byExt["wav"]
	case len(bytes.TrimLeft(head, " \t\r\n")) > 0 &&
		(bytes.TrimLeft(head, " \t\r\n")[0] == '{' || bytes.TrimLeft(head, " \t\r\n")[0] == '['):
		return r.byExt["json"]
	}
	return nil
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	// Strip a UTF-8 BOM; everything else passes through untouched.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	return string(data), nil
}
