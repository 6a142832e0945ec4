// File path: internal/capability/local/local.go

// Package local provides a deterministic, dependency-free embedding and
// entity-extraction capability, used when no remote provider is configured
// and in tests. It produces non-degenerate output instead of all-zero
// vectors, so pipeline tests exercise real arithmetic.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"regexp"
	"strings"

	"github.com/excavator-project/excavator/internal/capability"
)

const dimension = 384

// Embedder hashes text deterministically into a unit-ish vector. It is not
// semantically meaningful, only stable and dependency-free.
type Embedder struct{}

func NewEmbedder() *Embedder { return &Embedder{} }

var (
	_ capability.Embedder        = (*Embedder)(nil)
	_ capability.EntityExtractor = (*Extractor)(nil)
)

func (e *Embedder) Dimension() int { return dimension }
func (e *Embedder) Name() string   { return "local-hash" }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func hashVector(text string) []float32 {
	vec := make([]float32, dimension)
	seed := sha256.Sum256([]byte(text))
	for i := 0; i < dimension; i++ {
		b := seed[i%len(seed)]
		shift := uint(binary.BigEndian.Uint16(seed[(i*2)%len(seed):]) % 8)
		v := float32(int8(b>>shift)) / 128.0
		vec[i] = v
	}
	return vec
}

var (
	dateRegex   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	capSeqRegex = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+){0,2})\b`)
	orgSuffix   = regexp.MustCompile(`(?i)\b(Inc|Corp|LLC|Ltd|Co|Labs|Studio)\b`)
)

// Extractor is a regex-and-heuristic entity extractor: capitalized word
// sequences are tentatively PERSON, upgraded to ORG if followed by a
// corporate suffix; technology vocabulary is matched directly to TECH; and
// ISO dates are recognized directly. It exists to exercise the pipeline's
// entity-handling code paths without a network-backed NER model.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

func (x *Extractor) Name() string { return "local-heuristic" }

func (x *Extractor) Extract(ctx context.Context, text string) ([]capability.Entity, error) {
	out := capability.DetectTechTerms(text)

	for _, loc := range dateRegex.FindAllStringIndex(text, -1) {
		out = append(out, capability.Entity{Value: text[loc[0]:loc[1]], Type: "DATE", Position: loc[0], Confidence: 0.95})
	}
	for _, loc := range capSeqRegex.FindAllStringIndex(text, -1) {
		value := text[loc[0]:loc[1]]
		typ := "PERSON"
		tail := text[loc[1]:min(len(text), loc[1]+20)]
		if orgSuffix.MatchString(tail) {
			typ = "ORG"
			value = value + " " + strings.TrimSpace(orgSuffix.FindString(tail))
		}
		out = append(out, capability.Entity{Value: value, Type: typ, Position: loc[0], Confidence: 0.55})
	}
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
