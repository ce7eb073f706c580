package embedding

import "context"

// EmbeddingProvider turns text into a unit-length vector for the content index.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
