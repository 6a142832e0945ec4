// File path: internal/extract/text.go
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/excavator-project/excavator/internal/xerrors"
)

// PlainTextExtractor is the universal fallback: whatever decodes as text is
// fair game for chunking.
type PlainTextExtractor struct{}

func (e *PlainTextExtractor) Name() string { return "plaintext" }

func (e *PlainTextExtractor) Extensions() []string {
	return []string{"txt", "text", "log", "rst", "csv"}
}

func (e *PlainTextExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	content, err := readText(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "extract", err)
	}
	return &Result{Content: content, WordCount: countWords(content)}, nil
}

// MarkdownExtractor treats markdown as prose; the chunker's paragraph and
// header splitting handles the structure.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) Name() string { return "markdown" }

func (e *MarkdownExtractor) Extensions() []string { return []string{"md", "markdown", "mdx"} }

func (e *MarkdownExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	content, err := readText(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "extract", err)
	}
	return &Result{Content: content, Language: "markdown", WordCount: countWords(content)}, nil
}

// JSONExtractor validates the payload and surfaces it as text. Malformed
// JSON is an ExtractionFailure, not a transient error.
type JSONExtractor struct{}

func (e *JSONExtractor) Name() string { return "json" }

func (e *JSONExtractor) Extensions() []string { return []string{"json", "jsonl", "ndjson"} }

func (e *JSONExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	content, err := readText(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "extract", err)
	}
	trimmed := strings.TrimSpace(content)
	if strings.HasSuffix(path, ".json") && trimmed != "" {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return nil, xerrors.New(xerrors.ExtractionFailure, "extract", fmt.Errorf("invalid json %s: %w", path, err))
		}
	}
	return &Result{Content: content, Language: "json", WordCount: countWords(content)}, nil
}

// YAMLExtractor validates YAML syntax before handing the raw text on.
type YAMLExtractor struct{}

func (e *YAMLExtractor) Name() string { return "yaml" }

func (e *YAMLExtractor) Extensions() []string { return []string{"yaml", "yml"} }

func (e *YAMLExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	content, err := readText(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "extract", err)
	}
	var v interface{}
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		return nil, xerrors.New(xerrors.ExtractionFailure, "extract", fmt.Errorf("invalid yaml %s: %w", path, err))
	}
	return &Result{Content: content, Language: "yaml", WordCount: countWords(content)}, nil
}
