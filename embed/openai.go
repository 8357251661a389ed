package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI returns an OpenAI embedding client. An empty model falls back
// to DefaultModel.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAIWithClient returns an OpenAI embedding client using an existing
// API client, for callers that configure base URLs or transport themselves.
func NewOpenAIWithClient(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: client, model: model}
}

// Embed returns the embedding for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) (*Result, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return &Result{
		Vector:    resp.Data[0].Embedding,
		Tokens:    resp.Usage.PromptTokens,
		Model:     o.model,
		CostCents: EstimateCostCents(o.model, resp.Usage.PromptTokens),
	}, nil
}

// EmbedBatch returns embeddings for several texts in one call. Vectors are
// returned in input order.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	if len(texts) == 0 {
		return &BatchResult{Model: o.model}, nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return &BatchResult{
		Vectors:   vectors,
		Tokens:    resp.Usage.PromptTokens,
		Model:     o.model,
		CostCents: EstimateCostCents(o.model, resp.Usage.PromptTokens),
	}, nil
}

// Model reports the configured embedding model.
func (o *OpenAI) Model() string {
	return o.model
}
