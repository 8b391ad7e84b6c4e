package archivist

import "context"

// maxEmbedInputChars is the model context cap; input longer than this
// is truncated before being sent to the embedding provider.
const maxEmbedInputChars = 32000

// embedBatchSize is how many texts embedMany walks per group.
const embedBatchSize = 10

func truncateForEmbedding(text string) string {
	r := []rune(text)
	if len(r) <= maxEmbedInputChars {
		return text
	}
	return string(r[:maxEmbedInputChars])
}

// embedMany embeds texts in groups of embedBatchSize, preserving input
// order. Each text is still one provider.Embed call, since
// EmbeddingProvider has no batch method; the first error aborts the
// whole call. Used by IndexService.UpdateMany to embed a conversation
// session's exchanges.
func embedMany(ctx context.Context, provider EmbeddingProvider, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		for i := start; i < end; i++ {
			v, err := provider.Embed(ctx, texts[i])
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
	}
	return out, nil
}
