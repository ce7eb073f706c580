package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_EmbedNormalizes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	vec, err := p.Embed(context.Background(), "quarterly plan")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	cached, err := NewCachedProvider(p, 4)
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestNormalizeVector_Zero(t *testing.T) {
	v := normalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, v)

	u := normalizeVector([]float32{1, 1})
	assert.InDelta(t, 1/math.Sqrt2, u[0], 1e-6)
}
