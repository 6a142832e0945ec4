// File path: internal/capability/capability.go

// Package capability defines the narrow interfaces the Extraction Pipeline
// consumes for model-backed work (embedding, named-entity recognition).
// Internal weights and hyperparameters of the underlying models are
// deliberately out of scope; only the capability contract is specified.
package capability

import "context"

// Entity is one raw named-entity mention detected in a chunk of text,
// before normalization/consolidation.
type Entity struct {
	Value      string
	Type       string // PERSON, ORG, PROJECT, TECH, DATE, LOCATION, OTHER
	Confidence float64
	Position   int
	Context    string
}

// Embedder turns chunk text into fixed-dimensionality embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// EntityExtractor recognizes named entities inside a chunk of text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
	Name() string
}
