package repository

import (
	"context"

	"github.com/user/rag-service/internal/entity"
)

// ChunkRepository defines the interface for chunk storage and the two search primitives.
type ChunkRepository interface {
	// DeleteByPage removes every chunk of a page.
	DeleteByPage(ctx context.Context, pageID int64) error
	// InsertChunks stores chunks with their embeddings.
	InsertChunks(ctx context.Context, chunks []entity.Chunk) error
	// ReplaceChunks atomically swaps the chunk set of a page.
	ReplaceChunks(ctx context.Context, pageID int64, chunks []entity.Chunk) error
	// VectorSearch returns up to limit candidates of the tenant ordered by cosine similarity,
	// dropping those scoring below minScore. Results may share a URL.
	VectorSearch(ctx context.Context, tenantID string, vector []float32, limit int, minScore float64) ([]entity.SearchResult, error)
	// TextSearch returns up to limit candidates of the tenant whose text, title or url
	// mention any of the keywords. Scores are left for the caller to compute.
	TextSearch(ctx context.Context, tenantID string, keywords []string, limit int) ([]entity.SearchResult, error)
}

// DocumentStore is the persistence surface the pipeline needs.
type DocumentStore interface {
	PageRepository
	ChunkRepository
}
