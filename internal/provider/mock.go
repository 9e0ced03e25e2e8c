package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	mockProviderTag = "mock"
	mockDimensions  = 64
)

// MockEmbedding is a deterministic offline embedding backend. It hashes
// query tokens into a fixed-size bag-of-words vector, so identical texts map
// to identical vectors and token overlap yields proportional similarity.
// That determinism underpins the round-trip retrieval tests.
type MockEmbedding struct {
	dimensions int
}

// NewMockEmbedding creates the deterministic mock embedding backend.
func NewMockEmbedding() *MockEmbedding {
	return &MockEmbedding{dimensions: mockDimensions}
}

// Embed generates a deterministic embedding for a single text.
func (m *MockEmbedding) Embed(_ context.Context, text string) (*Embedding, error) {
	vec := make([]float32, m.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%uint32(m.dimensions)]++
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag > 0 {
		norm := float32(math.Sqrt(mag))
		for i := range vec {
			vec[i] /= norm
		}
	}

	return &Embedding{
		Vector:    vec,
		Dimension: m.dimensions,
		Model:     "mock-bow",
		Provider:  mockProviderTag,
	}, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (m *MockEmbedding) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	for i, t := range texts {
		e, err := m.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// Dimensions returns the dimensionality of mock embeddings.
func (m *MockEmbedding) Dimensions() int { return m.dimensions }

// Name returns the provider name.
func (m *MockEmbedding) Name() string { return mockProviderTag }

// MockGeneration is a deterministic offline generation backend. Responses
// are derived from the prompt so pipeline and engine tests are reproducible
// without network access.
type MockGeneration struct{}

// NewMockGeneration creates the deterministic mock generation backend.
func NewMockGeneration() *MockGeneration {
	return &MockGeneration{}
}

// Generate produces a deterministic completion derived from the prompt.
func (m *MockGeneration) Generate(_ context.Context, prompt string, _ GenerateOptions) (*GenerateResult, error) {
	text := m.respond(prompt)
	return &GenerateResult{
		Text:  text,
		Model: "mock-gen",
		Usage: &Usage{
			PromptTokens:     len(tokenize(prompt)),
			CompletionTokens: len(tokenize(text)),
			TotalTokens:      len(tokenize(prompt)) + len(tokenize(text)),
		},
	}, nil
}

// GenerateStructured produces a deterministic JSON document.
func (m *MockGeneration) GenerateStructured(ctx context.Context, prompt, _ string, opts GenerateOptions) (*GenerateResult, error) {
	return m.Generate(ctx, prompt, opts)
}

// Name returns the provider name.
func (m *MockGeneration) Name() string { return mockProviderTag }

// respond picks a canned shape based on prompt intent. Tag proposals come
// back comma-separated; summaries echo the most frequent tokens.
func (m *MockGeneration) respond(prompt string) string {
	lower := strings.ToLower(prompt)
	tokens := tokenize(prompt)

	if strings.Contains(lower, "comma-separated") || strings.Contains(lower, "labels") {
		seen := make(map[string]bool)
		var labels []string
		for _, tok := range tokens {
			if len(tok) < 4 || seen[tok] {
				continue
			}
			seen[tok] = true
			labels = append(labels, tok)
			if len(labels) == 3 {
				break
			}
		}
		if len(labels) == 0 {
			return "general"
		}
		return strings.Join(labels, ", ")
	}

	if strings.Contains(lower, "json") {
		return "{}"
	}

	keep := tokens
	if len(keep) > 12 {
		keep = keep[:12]
	}
	return "[mock] " + strings.Join(keep, " ")
}

// tokenize lowercases and splits on non-alphanumerics.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
