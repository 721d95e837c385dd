package repository

import (
	"context"

	"github.com/user/rag-service/internal/entity"
)

// CrawlJobRepository defines the interface for persisting crawl jobs.
type CrawlJobRepository interface {
	// Create stores a new job.
	Create(ctx context.Context, job *entity.CrawlJob) error
	// Update overwrites status, progress, errors, stats and timings of a job.
	Update(ctx context.Context, job *entity.CrawlJob) error
	// Get retrieves a job. Returns ErrNotFound when absent.
	Get(ctx context.Context, jobID string) (*entity.CrawlJob, error)
}
