// File path: internal/extract/code.go
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/excavator-project/excavator/internal/xerrors"
)

// CodeExtractor reads source files and finds top-level declaration
// boundaries by regex. It deliberately does not parse: the chunker only
// needs split points, and a parse failure must never fail extraction.
type CodeExtractor struct{}

func (e *CodeExtractor) Name() string { return "code" }

func (e *CodeExtractor) Extensions() []string {
	return []string{
		"go", "py", "pyw", "js", "jsx", "ts", "tsx", "mjs",
		"java", "rb", "rs", "c", "h", "cpp", "hpp", "cs", "sh",
	}
}

var declPatterns = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`^func\s+(\([^)]+\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s`),
	},
	"python": {
		regexp.MustCompile(`^(async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)`),
		regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`),
	},
	"javascript": {
		regexp.MustCompile(`^(export\s+)?(async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`^(export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		regexp.MustCompile(`^(export\s+)?(const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(async\s*)?\(`),
	},
	"generic": {
		regexp.MustCompile(`^\s*(public|private|protected|static|fn|def|func|sub)\b`),
	},
}

func languageForExt(ext string) string {
	switch ext {
	case "go":
		return "go"
	case "py", "pyw":
		return "python"
	case "js", "jsx", "ts", "tsx", "mjs":
		return "javascript"
	default:
		return "generic"
	}
}

func (e *CodeExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	content, err := readText(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "extract", err)
	}
	ext := strings.TrimPrefix(strings.ToLower(pathExt(path)), ".")
	lang := languageForExt(ext)
	elements := findDeclarations(content, lang)
	return &Result{
		Content:      content,
		Language:     lang,
		WordCount:    countWords(content),
		CodeElements: elements,
	}, nil
}

// findDeclarations scans line-by-line for declaration starts and closes
// each element at the next declaration (or EOF). Boundaries are therefore
// deterministic for identical input.
func findDeclarations(content, lang string) []CodeElement {
	patterns, ok := declPatterns[lang]
	if !ok {
		patterns = declPatterns["generic"]
	}
	lines := strings.Split(content, "\n")
	var elements []CodeElement
	for i, line := range lines {
		for _, re := range patterns {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := ""
			for j := len(m) - 1; j > 0; j-- {
				if m[j] != "" && !isKeyword(m[j]) {
					name = m[j]
					break
				}
			}
			kind := "function"
			if strings.Contains(line, "class ") || strings.HasPrefix(line, "type ") {
				kind = "type"
			}
			if len(elements) > 0 {
				elements[len(elements)-1].LineEnd = i
			}
			elements = append(elements, CodeElement{Kind: kind, Name: name, LineStart: i + 1, LineEnd: len(lines)})
			break
		}
	}
	return elements
}

func isKeyword(s string) bool {
	switch strings.TrimSpace(s) {
	case "export", "async", "const", "let", "var", "public", "private",
		"protected", "static", "fn", "def", "func", "sub", "async ", "export ":
		return true
	}
	return false
}

func pathExt(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[idx:]
}
