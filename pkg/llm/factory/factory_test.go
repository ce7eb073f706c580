package factory

import (
	"context"
	"testing"

	"agentic-retrieval-be/pkg/llm/ollama"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLLMProvider(t *testing.T) {
	p, err := NewLLMProvider(context.Background(), "ollama", "llama3", "", "")
	require.NoError(t, err)
	op, ok := p.(*ollama.OllamaProvider)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:11434", op.BaseURL)

	_, err = NewLLMProvider(context.Background(), "gemini", "", "", "")
	assert.Error(t, err)

	_, err = NewLLMProvider(context.Background(), "openai", "gpt", "", "")
	assert.EqualError(t, err, "unsupported LLM provider: openai")
}
