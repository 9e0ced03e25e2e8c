package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Every backend must satisfy its contract; a drifted vendor API surfaces
// here as a build failure instead of a runtime one.
var (
	_ EmbeddingProvider = (*MockEmbedding)(nil)
	_ EmbeddingProvider = (*OllamaProvider)(nil)
	_ EmbeddingProvider = (*OpenAIProvider)(nil)
	_ EmbeddingProvider = (*GenAIEmbedding)(nil)

	_ GenerationProvider = (*MockGeneration)(nil)
	_ GenerationProvider = (*OllamaProvider)(nil)
	_ GenerationProvider = (*OpenAIProvider)(nil)

	_ HealthChecker = (*OllamaProvider)(nil)
)

func TestNewGenAIEmbeddingRequiresKey(t *testing.T) {
	_, err := NewGenAIEmbedding("", "gemini-embedding-001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestGenAIDimensionsDefault(t *testing.T) {
	e := &GenAIEmbedding{}
	assert.Equal(t, 3072, e.Dimensions())
}
