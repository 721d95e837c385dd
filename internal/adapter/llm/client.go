package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

// Config selects and configures the model provider.
type Config struct {
	Provider       string // openai or ollama
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	// Dimensions, when set, is checked against every returned vector.
	Dimensions int
}

// Model is what both langchaingo providers offer.
type Model interface {
	llms.Model
	embeddings.EmbedderClient
}

// Client adapts a langchaingo model to the completion and embedding capabilities.
type Client struct {
	model    llms.Model
	embedder embeddings.Embedder
	dims     int
	logger   *zap.Logger
}

var (
	_ repository.CompletionProvider = (*Client)(nil)
	_ repository.EmbeddingProvider  = (*Client)(nil)
)

// New builds a client for cfg.Provider.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	var (
		model Model
		err   error
	)
	switch cfg.Provider {
	case "", "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.ChatModel),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "ollama":
		model, err = ollama.New(ollama.WithModel(cfg.ChatModel), ollama.WithServerURL(cfg.BaseURL))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s client: %w", cfg.Provider, err)
	}
	c, err := NewWithModel(model, logger)
	if err != nil {
		return nil, err
	}
	c.dims = cfg.Dimensions
	return c, nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model Model, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Batching and retries are done by the caller, so hand everything over at once.
	embedder, err := embeddings.NewEmbedder(model, embeddings.WithBatchSize(2048))
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return &Client{model: model, embedder: embedder, logger: logger}, nil
}

// Embed returns one vector per text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	if c.dims > 0 {
		for i, v := range vectors {
			if len(v) != c.dims {
				return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), c.dims)
			}
		}
	}
	return vectors, nil
}

// Complete returns the whole answer.
func (c *Client) Complete(ctx context.Context, messages []entity.Message, opts repository.CompletionOptions) (string, error) {
	resp, err := c.model.GenerateContent(ctx, toMessageContent(messages), callOptions(opts)...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// Stream forwards fragments to onToken as they arrive.
func (c *Client) Stream(ctx context.Context, messages []entity.Message, opts repository.CompletionOptions, onToken func(string) error) error {
	callOpts := append(callOptions(opts), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onToken(string(chunk))
	}))
	_, err := c.model.GenerateContent(ctx, toMessageContent(messages), callOpts...)
	return err
}

func callOptions(opts repository.CompletionOptions) []llms.CallOption {
	var out []llms.CallOption
	if opts.Temperature > 0 {
		out = append(out, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		out = append(out, llms.WithMaxTokens(opts.MaxTokens))
	}
	return out
}

func toMessageContent(messages []entity.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := schema.ChatMessageTypeHuman
		switch m.Role {
		case entity.RoleSystem:
			role = schema.ChatMessageTypeSystem
		case entity.RoleAssistant:
			role = schema.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
