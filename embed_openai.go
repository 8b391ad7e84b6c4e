package archivist

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIEmbedder is the concrete EmbeddingProvider, grounded on the
// openai-go/v2 client wiring in intelligencedev-manifold/main.go,
// replacing the teacher's hand-rolled net/http Gemini/OpenAI embedders
// with the real SDK client the pack already depends on.
type OpenAIEmbedder struct {
	client    openai.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
}

// OpenAIEmbedderOption configures an OpenAIEmbedder, matching the
// teacher's functional-options style from embed_openai.go.
type OpenAIEmbedderOption func(*OpenAIEmbedder)

func WithEmbeddingBaseURL(url string) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.baseURL = url
	}
}

// NewOpenAIEmbedder builds an embedder against the given model and
// dimension, defaulting to "text-embedding-3-small" / 1536 the way the
// teacher's NewOpenAIEmbedder defaults its chat model.
func NewOpenAIEmbedder(apiKey, model string, dimension int, opts ...OpenAIEmbedderOption) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimension == 0 {
		dimension = 1536
	}
	e := &OpenAIEmbedder{apiKey: apiKey, model: model, dimension: dimension}
	for _, opt := range opts {
		opt(e)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if e.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(e.baseURL))
	}
	e.client = openai.NewClient(clientOpts...)
	return e
}

// Embed truncates to the model's context cap, calls the embeddings
// endpoint, and normalizes the result to unit length if the provider
// didn't already.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateForEmbedding(text)

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Dimensions: openai.Int(int64(e.dimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("archivist: embed failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("archivist: embed failed: empty response")
	}

	raw := resp.Data[0].Embedding
	v := make([]float32, len(raw))
	for i, f := range raw {
		v[i] = float32(f)
	}
	return normalize(v), nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }
