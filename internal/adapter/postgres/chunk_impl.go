package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/user/rag-service/internal/entity"
)

// ChunkRepoImpl stores chunks with their embeddings in a pgvector column.
type ChunkRepoImpl struct {
	db *pgxpool.Pool
}

// NewChunkRepo creates a new instance of ChunkRepoImpl.
func NewChunkRepo(db *pgxpool.Pool) *ChunkRepoImpl {
	return &ChunkRepoImpl{db: db}
}

const insertChunkSQL = `
	INSERT INTO chunks (page_id, tenant_id, position, text, embedding, tokens, chunk_type)
	VALUES ($1, $2, $3, $4, $5::vector, $6, $7)`

func (r *ChunkRepoImpl) DeleteByPage(ctx context.Context, pageID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE page_id = $1`, pageID)
	return err
}

func (r *ChunkRepoImpl) InsertChunks(ctx context.Context, chunks []entity.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.SendBatch(ctx, chunkBatch(chunks)).Close()
}

// ReplaceChunks deletes the old chunk set and inserts the new one in a single transaction.
func (r *ChunkRepoImpl) ReplaceChunks(ctx context.Context, pageID int64, chunks []entity.Chunk) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE page_id = $1`, pageID); err != nil {
		return fmt.Errorf("delete chunks of page %d: %w", pageID, err)
	}
	if len(chunks) > 0 {
		if err := tx.SendBatch(ctx, chunkBatch(chunks)).Close(); err != nil {
			return fmt.Errorf("insert chunks of page %d: %w", pageID, err)
		}
	}
	return tx.Commit(ctx)
}

func chunkBatch(chunks []entity.Chunk) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		chunkType := c.Type
		if chunkType == "" {
			chunkType = entity.ChunkContent
		}
		batch.Queue(insertChunkSQL,
			c.PageID, c.TenantID, c.Position, c.Text,
			pgvector.NewVector(c.Embedding), c.Tokens, string(chunkType))
	}
	return batch
}

// VectorSearch ranks the tenant's chunks by cosine similarity (1 - cosine distance).
func (r *ChunkRepoImpl) VectorSearch(ctx context.Context, tenantID string, vector []float32, limit int, minScore float64) ([]entity.SearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	query := `
		SELECT c.id, c.page_id, p.url, p.title, c.text, p.page_rank,
			1 - (c.embedding <=> $2::vector) AS score
		FROM chunks c
		JOIN pages p ON p.id = c.page_id
		WHERE c.tenant_id = $1
			AND 1 - (c.embedding <=> $2::vector) >= $4
		ORDER BY c.embedding <=> $2::vector
		LIMIT $3;
	`
	rows, err := r.db.Query(ctx, query, tenantID, pgvector.NewVector(vector), limit, minScore)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return scanResults(rows, true)
}

// TextSearch matches keywords against the full-text index of chunk text and
// against page titles and urls.
func (r *ChunkRepoImpl) TextSearch(ctx context.Context, tenantID string, keywords []string, limit int) ([]entity.SearchResult, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(keywords))
	for i, kw := range keywords {
		patterns[i] = "%" + kw + "%"
	}
	query := `
		SELECT c.id, c.page_id, p.url, p.title, c.text, p.page_rank
		FROM chunks c
		JOIN pages p ON p.id = c.page_id
		WHERE c.tenant_id = $1
			AND (
				to_tsvector('english', c.text) @@ websearch_to_tsquery('english', $2)
				OR c.text ILIKE ANY($3)
				OR p.title ILIKE ANY($3)
				OR p.url ILIKE ANY($3)
			)
		ORDER BY ts_rank(to_tsvector('english', c.text), websearch_to_tsquery('english', $2)) DESC, p.page_rank DESC
		LIMIT $4;
	`
	rows, err := r.db.Query(ctx, query, tenantID, strings.Join(keywords, " or "), patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	return scanResults(rows, false)
}

func scanResults(rows pgx.Rows, withScore bool) ([]entity.SearchResult, error) {
	defer rows.Close()
	var results []entity.SearchResult
	for rows.Next() {
		var res entity.SearchResult
		dest := []any{&res.ChunkID, &res.PageID, &res.URL, &res.Title, &res.Text, &res.PageRank}
		if withScore {
			dest = append(dest, &res.Score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
