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

// OllamaProvider talks to a local Ollama server. It implements both the
// embedding and generation contracts.
type OllamaProvider struct {
	baseURL        string
	embedModel     string
	generateModel  string
	client         *http.Client
	knownDimension int
}

// NewOllamaProvider creates an Ollama-backed provider.
func NewOllamaProvider(baseURL, embedModel, generateModel string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if embedModel == "" {
		embedModel = "embeddinggemma"
	}
	if generateModel == "" {
		generateModel = "qwen2.5:7b"
	}

	return &OllamaProvider{
		baseURL:       baseURL,
		embedModel:    embedModel,
		generateModel: generateModel,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Model           string `json:"model"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Embed generates an embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	var result ollamaEmbedResponse
	err := p.post(ctx, "/api/embeddings", ollamaEmbedRequest{
		Model:  p.embedModel,
		Prompt: text,
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}

	p.knownDimension = len(result.Embedding)
	return &Embedding{
		Vector:    result.Embedding,
		Dimension: len(result.Embedding),
		Model:     p.embedModel,
		Provider:  "ollama",
	}, nil
}

// EmbedBatch generates embeddings for multiple texts. Ollama has no native
// batch API, so texts are embedded sequentially.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	for i, t := range texts {
		e, err := p.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// Dimensions returns the embedding dimensionality once known.
// embeddinggemma produces 768-dimensional vectors.
func (p *OllamaProvider) Dimensions() int {
	if p.knownDimension > 0 {
		return p.knownDimension
	}
	return 768
}

// Generate produces a free-text completion.
func (p *OllamaProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error) {
	return p.generate(ctx, prompt, "", opts)
}

// GenerateStructured requests a JSON completion via Ollama's format flag.
func (p *OllamaProvider) GenerateStructured(ctx context.Context, prompt, _ string, opts GenerateOptions) (*GenerateResult, error) {
	return p.generate(ctx, prompt, "json", opts)
}

func (p *OllamaProvider) generate(ctx context.Context, prompt, format string, opts GenerateOptions) (*GenerateResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	}

	var result ollamaGenerateResponse
	err := p.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:   p.generateModel,
		Prompt:  prompt,
		Stream:  false,
		Format:  format,
		Options: options,
	}, &result)
	if err != nil {
		return nil, err
	}

	return &GenerateResult{
		Text:  result.Response,
		Model: result.Model,
		Usage: &Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
	}, nil
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string { return "ollama" }

// HealthCheck verifies the Ollama server is reachable.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
