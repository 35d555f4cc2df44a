package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder implements index.Embedder against OpenAI's embeddings API.
// Adapted from the teacher's internal/memory/embeddings/openai provider,
// trimmed to the single Embed(ctx, text) method internal/index's Embedder
// interface declares: this runtime embeds one chunk or one query at a time,
// not the batch-ingestion pipeline the teacher's memory subsystem ran.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// EmbeddingConfig configures an OpenAIEmbedder.
type EmbeddingConfig struct {
	APIKey  string
	BaseURL string
	Model   string // e.g. "text-embedding-3-small"
}

// NewOpenAIEmbedder builds an embedder from cfg.
func NewOpenAIEmbedder(cfg EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: embeddings API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model}, nil
}

// Embed implements index.Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("llm: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
