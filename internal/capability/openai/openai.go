// Package openai implements the embedding and NER capability against the
// real OpenAI API, following the responses-API idiom attested in
// theimaginaryfoundation-compress-o-bot/migration/provider (CallWithRetry,
// plain-struct params with openai.String()/Int() helpers) rather than the
// older param.Field/F[] wrapper style. Calls are wrapped in a circuit
// breaker so a flapping provider degrades the pipeline instead of wedging
// it.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/sony/gobreaker"

	"github.com/excavator-project/excavator/internal/capability"
	"github.com/excavator-project/excavator/internal/logging"
)

const component = "capability.openai"

// Embedder calls the OpenAI embeddings endpoint.
type Embedder struct {
	client  *openai.Client
	model   string
	dim     int
	breaker *gobreaker.CircuitBreaker
}

// NewEmbedder constructs an Embedder from OPENAI_API_KEY / OPENAI_EMBED_MODEL.
func NewEmbedder() *Embedder {
	client := newClient()
	model := strings.TrimSpace(os.Getenv("OPENAI_EMBED_MODEL"))
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &Embedder{client: client, model: model, dim: 1536, breaker: newBreaker("embeddings")}
}

func (e *Embedder) Dimension() int { return e.dim }
func (e *Embedder) Name() string   { return "openai:" + e.model }

// Embed batches input through one Embeddings.New call guarded by the
// circuit breaker. Failures are not retried; after five consecutive
// failures the breaker opens and rejects calls until its timeout passes.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	result, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if err != nil {
			return nil, err
		}
		vectors := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for j, v := range d.Embedding {
				vec[j] = float32(v)
			}
			vectors[i] = vec
		}
		return vectors, nil
	})
	if err != nil {
		logging.With(component).Error("embedding request failed", "error", err)
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return result.([][]float32), nil
}

// Extractor calls the OpenAI responses API with a strict JSON-schema output
// format to recognize named entities, following the
// ResponseNewParams/Text.Format idiom in compress-o-bot/cmd/thread-chunker.
type Extractor struct {
	client  *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

func NewExtractor() *Extractor {
	model := strings.TrimSpace(os.Getenv("OPENAI_NER_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Extractor{client: newClient(), model: model, breaker: newBreaker("ner")}
}

func (x *Extractor) Name() string { return "openai:" + x.model }

type nerResponse struct {
	Entities []struct {
		Value      string  `json:"value"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Position   int     `json:"position"`
	} `json:"entities"`
}

var entitySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"entities": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"value":      map[string]interface{}{"type": "string"},
					"type":       map[string]interface{}{"type": "string", "enum": []string{"PERSON", "ORG", "PROJECT", "TECH", "DATE", "LOCATION", "OTHER"}},
					"confidence": map[string]interface{}{"type": "number"},
					"position":   map[string]interface{}{"type": "integer"},
				},
				"required":             []string{"value", "type", "confidence", "position"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"entities"},
	"additionalProperties": false,
}

func (x *Extractor) Extract(ctx context.Context, text string) ([]capability.Entity, error) {
	result, err := x.breaker.Execute(func() (interface{}, error) {
		format := responses.ResponseFormatTextConfigUnionParam{
			OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
				Name:   "entity_extraction",
				Schema: entitySchema,
				Strict: openai.Bool(true),
				Type:   "json_schema",
			},
		}
		input := responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		}
		resp, err := x.client.Responses.New(ctx, responses.ResponseNewParams{
			Model:        x.model,
			Instructions: openai.String("Extract named entities (PERSON, ORG, PROJECT, TECH, DATE, LOCATION, OTHER) from the user's text as strict JSON."),
			Input:        input,
			Text:         responses.ResponseTextConfigParam{Format: format},
		})
		if err != nil {
			return nil, err
		}
		var parsed nerResponse
		if err := json.Unmarshal([]byte(resp.OutputText()), &parsed); err != nil {
			return nil, fmt.Errorf("decode entity response: %w", err)
		}
		return parsed, nil
	})
	if err != nil {
		logging.With(component).Error("ner request failed", "error", err)
		return nil, fmt.Errorf("openai ner: %w", err)
	}
	parsed := result.(nerResponse)
	out := make([]capability.Entity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		out = append(out, capability.Entity{Value: e.Value, Type: e.Type, Confidence: e.Confidence, Position: e.Position})
	}
	return out, nil
}

func newClient() *openai.Client {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint := strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT")); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := openai.NewClient(opts...)
	return &client
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        component + "." + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

var (
	_ capability.Embedder        = (*Embedder)(nil)
	_ capability.EntityExtractor = (*Extractor)(nil)
)
