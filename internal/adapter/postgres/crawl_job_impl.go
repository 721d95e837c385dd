package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

// CrawlJobRepoImpl persists crawl jobs. Per-URL failures live in the errors JSONB column.
type CrawlJobRepoImpl struct {
	db *pgxpool.Pool
}

// NewCrawlJobRepo creates a new instance of CrawlJobRepoImpl.
func NewCrawlJobRepo(db *pgxpool.Pool) *CrawlJobRepoImpl {
	return &CrawlJobRepoImpl{db: db}
}

func (r *CrawlJobRepoImpl) Create(ctx context.Context, job *entity.CrawlJob) error {
	progress, errs, stats, err := encodeJob(job)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO crawl_jobs (id, tenant_id, domains, status, progress, errors, stats, fail_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err = r.db.Exec(ctx, query,
		job.ID,
		job.TenantID,
		job.Domains,
		string(job.Status),
		progress,
		errs,
		stats,
		job.FailReason,
		job.CreatedAt,
	)
	return err
}

// Update overwrites the mutable columns of a job.
func (r *CrawlJobRepoImpl) Update(ctx context.Context, job *entity.CrawlJob) error {
	progress, errs, stats, err := encodeJob(job)
	if err != nil {
		return err
	}
	query := `
		UPDATE crawl_jobs SET
			status = $2,
			progress = $3,
			errors = $4,
			stats = $5,
			fail_reason = $6,
			started_at = $7,
			completed_at = $8,
			duration_ms = $9
		WHERE id = $1;
	`
	tag, err := r.db.Exec(ctx, query,
		job.ID,
		string(job.Status),
		progress,
		errs,
		stats,
		job.FailReason,
		job.StartedAt,
		job.CompletedAt,
		job.Duration.Milliseconds(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *CrawlJobRepoImpl) Get(ctx context.Context, jobID string) (*entity.CrawlJob, error) {
	query := `
		SELECT id, tenant_id, domains, status, progress, errors, stats, fail_reason,
			created_at, started_at, completed_at, duration_ms
		FROM crawl_jobs
		WHERE id = $1;
	`
	var job entity.CrawlJob
	var status string
	var progress, errs, stats []byte
	var durationMS int64
	err := r.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.TenantID,
		&job.Domains,
		&status,
		&progress,
		&errs,
		&stats,
		&job.FailReason,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&durationMS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = entity.CrawlStatus(status)
	job.Duration = time.Duration(durationMS) * time.Millisecond

	if err := json.Unmarshal(progress, &job.Progress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(errs, &job.Errors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &job.Stats); err != nil {
		return nil, err
	}
	return &job, nil
}

func encodeJob(job *entity.CrawlJob) (progress, errs, stats []byte, err error) {
	if progress, err = json.Marshal(job.Progress); err != nil {
		return
	}
	crawlErrors := job.Errors
	if crawlErrors == nil {
		crawlErrors = []entity.CrawlError{}
	}
	if errs, err = json.Marshal(crawlErrors); err != nil {
		return
	}
	stats, err = json.Marshal(job.Stats)
	return
}
