package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/lichenchen/pharmaquery/internal/models"
	"github.com/lichenchen/pharmaquery/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string // OpenAI-compatible generation endpoint (vLLM)
	APIKey          string
	SearchK         int
	NoThink         bool
}

// ChatEngine answers questions over the indexed corpus. Per call it runs a
// similarity search, lets the reranker reorder the candidates, folds the
// survivors plus the caller's history into one generation request, and
// streams the answer. It owns no conversation state.
type ChatEngine struct {
	config   ChatConfig
	llm      *openai.LLM
	store    types.VectorStore
	reranker types.Reranker
}

// NewWithConfig creates a new ChatEngine with the given configuration.
// The reranker may be nil, in which case retrieval order is final.
func NewWithConfig(config ChatConfig, store types.VectorStore, reranker types.Reranker) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "qwen3-0.6b"
	}
	if config.Temperature <= 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 300
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a research assistant for the pharmaceutical domain. " +
			"Answer questions using the provided document context. " +
			"If the context does not cover the question, say so instead of guessing."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "Relevant documents:\n%s"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8800/v1"
	}
	if config.APIKey == "" {
		config.APIKey = "unused"
	}
	if config.SearchK == 0 {
		config.SearchK = 5
	}

	llm, err := openai.New(
		openai.WithModel(config.Model),
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken(config.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config:   config,
		llm:      llm,
		store:    store,
		reranker: reranker,
	}, nil
}

// Token is one fragment of a streamed answer. A token with a non-nil Err
// is terminal and distinct from the clean close of the channel.
type Token struct {
	Content string
	Err     error
}

// ChatStream answers the query as a stream of text fragments. Retrieval
// and reranking complete before the channel is handed out, so a retrieval
// failure is returned directly. Cancelling ctx stops generation and
// releases the stream; the goroutine never blocks on an abandoned channel.
func (ce *ChatEngine) ChatStream(ctx context.Context, query string, history []models.Message) (<-chan Token, error) {
	docs, err := ce.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	content := ce.buildMessages(query, history, docs)
	out := make(chan Token)

	go func() {
		defer close(out)

		filter := newThinkFilter(ce.config.NoThink)
		emit := func(text string) bool {
			if text == "" {
				return true
			}
			select {
			case out <- Token{Content: text}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		_, err := ce.llm.GenerateContent(ctx, content,
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithTemperature(ce.config.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if !emit(filter.Feed(string(chunk))) {
					return ctx.Err()
				}
				return nil
			}),
		)
		if err != nil {
			select {
			case out <- Token{Err: fmt.Errorf("generation failed: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		emit(filter.Flush())
	}()

	return out, nil
}

// Chat is the non-streaming variant; it returns the whole answer at once,
// with reasoning blocks already stripped when no-think mode is on.
func (ce *ChatEngine) Chat(ctx context.Context, query string, history []models.Message) (string, error) {
	docs, err := ce.retrieve(ctx, query)
	if err != nil {
		return "", err
	}

	resp, err := ce.llm.GenerateContent(ctx, ce.buildMessages(query, history, docs),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	filter := newThinkFilter(ce.config.NoThink)
	return filter.Feed(resp.Choices[0].Content) + filter.Flush(), nil
}

func (ce *ChatEngine) retrieve(ctx context.Context, query string) ([]models.ScoredChunk, error) {
	docs, err := ce.store.Search(ctx, query, ce.config.SearchK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	if ce.reranker != nil {
		docs = ce.reranker.Rerank(ctx, query, docs)
	}
	return docs, nil
}

func (ce *ChatEngine) buildMessages(query string, history []models.Message, docs []models.ScoredChunk) []llms.MessageContent {
	var contextBuilder strings.Builder
	for _, doc := range docs {
		contextBuilder.WriteString(doc.Text)
		contextBuilder.WriteString("\n\n")
	}

	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(schema.ChatMessageTypeSystem,
			fmt.Sprintf(ce.config.ContextTemplate, strings.TrimSpace(contextBuilder.String()))),
	}

	for _, m := range history {
		role := schema.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	return append(content, llms.TextParts(schema.ChatMessageTypeHuman, query))
}
