package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIConfig configures the OpenAI-compatible HTTP backend.
type OpenAIConfig struct {
	APIKey          string
	APIBase         string
	Organization    string
	EmbeddingModel  string
	GenerationModel string
}

// OpenAIProvider talks to the OpenAI HTTP API (or any compatible endpoint
// selected via APIBase). It implements both provider contracts.
type OpenAIProvider struct {
	cfg            OpenAIConfig
	client         *http.Client
	knownDimension int
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type openaiChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	TopP           float64         `json:"top_p,omitempty"`
	ResponseFormat *openaiFormat   `json:"response_format,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiFormat struct {
	Type string `json:"type"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	batch, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	var result openaiEmbedResponse
	err := p.post(ctx, "/embeddings", openaiEmbedRequest{
		Model: p.cfg.EmbeddingModel,
		Input: texts,
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(result.Data), len(texts))
	}

	out := make([]*Embedding, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		p.knownDimension = len(d.Embedding)
		out[d.Index] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Model:     result.Model,
			Provider:  "openai",
		}
	}
	return out, nil
}

// Dimensions returns the embedding dimensionality once known.
// text-embedding-3-small produces 1536-dimensional vectors.
func (p *OpenAIProvider) Dimensions() int {
	if p.knownDimension > 0 {
		return p.knownDimension
	}
	return 1536
}

// Generate produces a free-text completion.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error) {
	return p.chat(ctx, prompt, nil, opts)
}

// GenerateStructured requests a JSON-object completion.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, prompt, _ string, opts GenerateOptions) (*GenerateResult, error) {
	return p.chat(ctx, prompt, &openaiFormat{Type: "json_object"}, opts)
}

func (p *OpenAIProvider) chat(ctx context.Context, prompt string, format *openaiFormat, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var result openaiChatResponse
	err := p.post(ctx, "/chat/completions", openaiChatRequest{
		Model:          p.cfg.GenerationModel,
		Messages:       []openaiMessage{{Role: "user", Content: prompt}},
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxTokens,
		TopP:           opts.TopP,
		ResponseFormat: format,
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &GenerateResult{
		Text:  result.Choices[0].Message.Content,
		Model: result.Model,
		Usage: &Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.cfg.Organization)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
