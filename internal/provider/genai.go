package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIEmbedding generates embeddings using Google's Gemini API.
type GenAIEmbedding struct {
	client         *genai.Client
	model          string
	knownDimension int
}

// NewGenAIEmbedding creates a Gemini-backed embedding provider.
func NewGenAIEmbedding(apiKey, model string) (*GenAIEmbedding, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedding{client: client, model: model}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEmbedding) Embed(ctx context.Context, text string) (*Embedding, error) {
	batch, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *GenAIEmbedding) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([]*Embedding, len(texts))
	for i, emb := range result.Embeddings {
		e.knownDimension = len(emb.Values)
		out[i] = &Embedding{
			Vector:    emb.Values,
			Dimension: len(emb.Values),
			Model:     e.model,
			Provider:  "genai",
		}
	}
	return out, nil
}

// Dimensions returns the embedding dimensionality once known.
// gemini-embedding-001 produces 3072-dimensional vectors by default.
func (e *GenAIEmbedding) Dimensions() int {
	if e.knownDimension > 0 {
		return e.knownDimension
	}
	return 3072
}

// Name returns the provider name.
func (e *GenAIEmbedding) Name() string { return "genai" }
