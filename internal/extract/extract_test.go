// File path: internal/extract/extract_test.go
package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRegistryResolveByExtension(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		path string
		want string
	}{
		{"notes.md", "markdown"},
		{"main.go", "code"},
		{"config.yaml", "yaml"},
		{"data.json", "json"},
		{"photo.jpg", "image"},
		{"talk.wav", "audio"},
		{"readme.txt", "plaintext"},
		{"unknown.xyz", "plaintext"},
	}
	for _, tc := range cases {
		if got := r.Resolve(tc.path).Name(); got != tc.want {
			t.Errorf("Resolve(%s) = %s, want %s", tc.path, got, tc.want)
		}
	}
}

func TestRegistrySniffJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "payload.dat", `{"hello": "world"}`)
	r := NewRegistry()
	if got := r.Resolve(path).Name(); got != "json" {
		t.Errorf("sniffed %s, want json", got)
	}
}

func TestPlainTextExtract(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "hello archaeology world")
	result, err := (&PlainTextExtractor{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.WordCount != 3 {
		t.Errorf("word count = %d, want 3", result.WordCount)
	}
}

func TestJSONExtractRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.json", `{"unterminated`)
	if _, err := (&JSONExtractor{}).Extract(context.Background(), path); err == nil {
		t.Fatal("malformed json accepted")
	}
}

func TestCodeExtractFindsDeclarations(t *testing.T) {
	dir := t.TempDir()
	src := `package main

func alpha() {
	return
}

func beta() {
	return
}

type gamma struct {
	field int
}
`
	path := writeFile(t, dir, "main.go", src)
	result, err := (&CodeExtractor{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(result.CodeElements) != 3 {
		t.Fatalf("found %d elements, want 3: %+v", len(result.CodeElements), result.CodeElements)
	}
	names := map[string]bool{}
	for _, el := range result.CodeElements {
		names[el.Name] = true
	}
	for _, want := range []string{"alpha", "beta", "gamma"} {
		if !names[want] {
			t.Errorf("missing declaration %s", want)
		}
	}
}

func TestAudioExtractWAVHeader(t *testing.T) {
	// Minimal valid WAV: 44-byte header, 1s of silence at 8kHz mono 8-bit.
	sampleRate := 8000
	data := make([]byte, 0, 44+sampleRate)
	put32 := func(v uint32) []byte {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	}
	put16 := func(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
	payload := make([]byte, sampleRate)
	data = append(data, []byte("RIFF")...)
	data = append(data, put32(uint32(36+len(payload)))...)
	data = append(data, []byte("WAVE")...)
	data = append(data, []byte("fmt ")...)
	data = append(data, put32(16)...)
	data = append(data, put16(1)...) // PCM
	data = append(data, put16(1)...) // mono
	data = append(data, put32(uint32(sampleRate))...)
	data = append(data, put32(uint32(sampleRate))...) // byte rate
	data = append(data, put16(1)...)
	data = append(data, put16(8)...)
	data = append(data, []byte("data")...)
	data = append(data, put32(uint32(len(payload)))...)
	data = append(data, payload...)

	dir := t.TempDir()
	path := filepath.Join(dir, "talk.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	result, err := (&AudioExtractor{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.Audio == nil {
		t.Fatal("no audio metadata")
	}
	if result.Audio.SampleRate != sampleRate || result.Audio.Channels != 1 {
		t.Errorf("parsed %+v", result.Audio)
	}
	if result.Audio.DurationSeconds < 0.9 || result.Audio.DurationSeconds > 1.1 {
		t.Errorf("duration = %f, want ~1s", result.Audio.DurationSeconds)
	}
}
