package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig points at an OpenAI-compatible embedding endpoint, such as
// a vLLM server fronting the embedding model.
type EmbedderConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

// Embedder produces fixed-dimension vectors for chunk and query text.
type Embedder struct {
	Config EmbedderConfig
	llm    *openai.LLM
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "qwen3-embedding-0.6b"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:50001/v1"
	}
	if config.APIKey == "" {
		config.APIKey = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.Model),
		openai.WithEmbeddingModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return &Embedder{
		Config: config,
		llm:    llm,
	}, nil
}

func (e *Embedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return e.llm.CreateEmbedding(ctx, texts)
}
