package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider memoises embeddings of repeated queries. Rewrites and
// broadened retries in one turn often embed the same text more than once.
type CachedProvider struct {
	inner EmbeddingProvider
	cache *lru.Cache[string, []float32]
}

func NewCachedProvider(inner EmbeddingProvider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: c}, nil
}

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.cache.Get(text); ok {
		return v, nil
	}
	v, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Add(text, v)
	return v, nil
}
