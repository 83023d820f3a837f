package models

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
)

// EmbeddingsCreator is the part of the go-openai client used for embeddings.
type EmbeddingsCreator interface {
	CreateEmbeddings(ctx context.Context, conv goopenai.EmbeddingRequestConverter) (goopenai.EmbeddingResponse, error)
}

// OpenAIEmbeddingClient adapts go-openai to embeddings.EmbedderClient.
type OpenAIEmbeddingClient struct {
	api   EmbeddingsCreator
	model goopenai.EmbeddingModel
}

var _ embeddings.EmbedderClient = (*OpenAIEmbeddingClient)(nil)

// NewOpenAIEmbeddingClient creates a client for text-embedding-ada-002. An empty
// baseURL keeps the public OpenAI endpoint.
func NewOpenAIEmbeddingClient(apiKey, baseURL string) *OpenAIEmbeddingClient {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbeddingClient{
		api:   goopenai.NewClientWithConfig(cfg),
		model: goopenai.AdaEmbeddingV2,
	}
}

// CreateEmbedding embeds texts, returning vectors in input order.
func (c *OpenAIEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
