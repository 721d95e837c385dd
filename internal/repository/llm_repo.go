package repository

import (
	"context"

	"github.com/user/rag-service/internal/entity"
)

// EmbeddingProvider turns texts into vectors, one per input, in input order.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionOptions tunes a completion call.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
}

// CompletionProvider is the chat model.
type CompletionProvider interface {
	// Complete returns the full answer.
	Complete(ctx context.Context, messages []entity.Message, opts CompletionOptions) (string, error)
	// Stream calls onToken for every fragment as it arrives. Returning an error from
	// onToken aborts the request.
	Stream(ctx context.Context, messages []entity.Message, opts CompletionOptions, onToken func(string) error) error
}
