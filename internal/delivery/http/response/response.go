package response

import (
	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

type SubmitCrawlResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	JobID   string           `json:"job_id"`
	Job     *entity.CrawlJob `json:"job"`
}

type SearchResponse struct {
	Query   string                `json:"query"`
	Count   int                   `json:"count"`
	Results []entity.SearchResult `json:"results"`
}

type JobLogsResponse struct {
	JobID   string                `json:"job_id"`
	Entries []repository.LogEntry `json:"entries"`
}

// HealthResponse reports "ok" or "degraded" plus one line per dependency.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
