package embedding

import (
	"context"

	"github.com/hyperjump/kioku/internal/cache"
)

// CachedEmbedder memoizes an Embedder in a SemanticCache keyed by the text fingerprint.
// Concurrent requests for the same text share one model call.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.SemanticCache[[]float32]
}

// NewCachedEmbedder wraps inner with c.
func NewCachedEmbedder(inner Embedder, c *cache.SemanticCache[[]float32]) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c}
}

// Embed returns the cached embedding for text, computing it on a miss.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.cache.Get(ctx, cache.TextFingerprint(text), func(ctx context.Context) ([]float32, error) {
		return e.inner.Embed(ctx, text)
	})
}

// EmbedBatch calls Embed for each text.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Invalidate drops the cached embedding for fingerprint.
func (e *CachedEmbedder) Invalidate(fingerprint string) bool {
	return e.cache.Invalidate(fingerprint)
}

// Stats returns the underlying cache statistics.
func (e *CachedEmbedder) Stats() cache.Stats {
	return e.cache.Stats()
}

// Dimensions returns the embedding dimension of the wrapped embedder.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the wrapped embedder.
func (e *CachedEmbedder) Close() error {
	e.cache.Purge()
	return e.inner.Close()
}
