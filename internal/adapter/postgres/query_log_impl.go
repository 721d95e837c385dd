package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/rag-service/internal/entity"
)

// QueryLogRepoImpl appends answered questions to query_logs.
type QueryLogRepoImpl struct {
	db *pgxpool.Pool
}

func NewQueryLogRepo(db *pgxpool.Pool) *QueryLogRepoImpl {
	return &QueryLogRepoImpl{db: db}
}

func (r *QueryLogRepoImpl) Record(ctx context.Context, entry *entity.QueryLog) error {
	sources := entry.Sources
	if sources == nil {
		sources = []entity.Source{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO query_logs (tenant_id, session_id, query, answer, sources, confidence, response_time_ms, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.TenantID,
		entry.SessionID,
		entry.Query,
		entry.Answer,
		sourcesJSON,
		string(entry.Confidence),
		entry.ResponseTime.Milliseconds(),
		entry.TokensUsed,
		entry.CreatedAt,
	)
	return err
}
