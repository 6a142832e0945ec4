// File path: internal/chunker/chunker.go

// Package chunker breaks extracted text into bounded, deterministic chunks:
// the unit of embedding and retrieval. Prose aims for 500-1000 tokens with
// soft breaks at paragraph and sentence boundaries; code splits on top-level
// declarations with a hard line cap.
package chunker

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/excavator-project/excavator/internal/extract"
)

// Rough chars-per-token for English; used to translate the token budget
// into the splitter's character budget.
const charsPerToken = 4

// Tokens-per-word estimate used for reported token counts.
const tokensPerWord = 1.3

// Chunk is one contiguous span of a file's extractable content.
type Chunk struct {
	Index       int
	Content     string
	Type        string // prose, code, table, ocr
	TokenCount  int
	StartOffset int
	EndOffset   int
}

// ProseChunker wraps the recursive-character splitter with paragraph-first
// separators. Boundaries are deterministic given identical input.
type ProseChunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewProseChunker builds a chunker targeting the given token window.
func NewProseChunker(targetTokens, maxTokens int) *ProseChunker {
	if targetTokens <= 0 {
		targetTokens = 500
	}
	if maxTokens < targetTokens {
		maxTokens = targetTokens * 2
	}
	s := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(maxTokens*charsPerToken),
		textsplitter.WithChunkOverlap(50*charsPerToken),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
	)
	return &ProseChunker{splitter: s}
}

// Chunk splits text into prose chunks with byte offsets into the source.
func (c *ProseChunker) Chunk(text, chunkType string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if chunkType == "" {
		chunkType = "prose"
	}
	pieces, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(pieces))
	cursor := 0
	for i, piece := range pieces {
		start := strings.Index(text[cursor:], piece)
		if start < 0 {
			// Overlapping pieces can begin before the previous cursor.
			start = strings.Index(text, piece)
			if start < 0 {
				start = cursor
			}
		} else {
			start += cursor
		}
		chunks = append(chunks, Chunk{
			Index:       i,
			Content:     piece,
			Type:        chunkType,
			TokenCount:  estimateTokens(piece),
			StartOffset: start,
			EndOffset:   start + len(piece),
		})
		if start+1 > cursor {
			cursor = start + 1
		}
	}
	return chunks, nil
}

// CodeChunker splits source on declaration boundaries with a hard size cap.
type CodeChunker struct {
	MaxLines int
}

func NewCodeChunker(maxLines int) *CodeChunker {
	if maxLines <= 0 {
		maxLines = 100
	}
	return &CodeChunker{MaxLines: maxLines}
}

// Chunk splits code on the supplied top-level elements, falling back to
// fixed line windows when no structure was found. Oversized elements are
// split at the line cap.
func (c *CodeChunker) Chunk(content string, elements []extract.CodeElement) []Chunk {
	lines := strings.Split(content, "\n")
	if len(elements) == 0 {
		return c.chunkByLines(lines)
	}
	var chunks []Chunk
	emit := func(startLine, endLine int) {
		for start := startLine; start < endLine; start += c.MaxLines {
			end := start + c.MaxLines
			if end > endLine {
				end = endLine
			}
			body := strings.Join(lines[start:end], "\n")
			if strings.TrimSpace(body) == "" {
				continue
			}
			startOffset := lineOffset(lines, start)
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Content:     body,
				Type:        "code",
				TokenCount:  estimateTokens(body),
				StartOffset: startOffset,
				EndOffset:   startOffset + len(body),
			})
		}
	}
	// Preamble before the first declaration (imports, package docs).
	first := elements[0].LineStart - 1
	if first > 0 {
		emit(0, first)
	}
	for _, el := range elements {
		start := el.LineStart - 1
		end := el.LineEnd
		if start < 0 {
			start = 0
		}
		if end > len(lines) {
			end = len(lines)
		}
		if end <= start {
			continue
		}
		emit(start, end)
	}
	return chunks
}

func (c *CodeChunker) chunkByLines(lines []string) []Chunk {
	var chunks []Chunk
	for start := 0; start < len(lines); start += c.MaxLines {
		end := start + c.MaxLines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		startOffset := lineOffset(lines, start)
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Content:     body,
			Type:        "code",
			TokenCount:  estimateTokens(body),
			StartOffset: startOffset,
			EndOffset:   startOffset + len(body),
		})
	}
	return chunks
}

func lineOffset(lines []string, line int) int {
	offset := 0
	for i := 0; i < line && i < len(lines); i++ {
		offset += len(lines[i]) + 1
	}
	return offset
}

func estimateTokens(s string) int {
	return int(float64(len(strings.Fields(s))) * tokensPerWord)
}
