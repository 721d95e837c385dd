package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/metrics"
	"github.com/user/rag-service/pkg/utils"
)

// BatchEmbedder embeds many texts in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CacheInvalidator drops cached query results of a tenant.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string)
}

// CrawlJobRequest optionally narrows a job to some domains or overrides the
// tenant's crawl settings.
type CrawlJobRequest struct {
	Domains  []entity.TenantDomain `json:"domains,omitempty"`
	Settings *entity.CrawlSettings `json:"settings,omitempty"`
}

// IngestDeps are the collaborators of IngestService. Invalidator and Logs
// may be nil.
type IngestDeps struct {
	Tenants     repository.TenantRepository
	Jobs        repository.CrawlJobRepository
	Pages       repository.PageRepository
	Chunks      repository.ChunkRepository
	Crawler     Crawler
	Chunker     *Chunker
	Embedder    BatchEmbedder
	Invalidator CacheInvalidator
	Logs        repository.LogSink
}

// IngestService runs crawl jobs: fetch, chunk, embed and store.
type IngestService struct {
	deps     IngestDeps
	logger   *zap.Logger
	lifetime context.Context
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewIngestService creates an IngestService. Jobs started with Submit run
// until lifetime is cancelled.
func NewIngestService(lifetime context.Context, deps IngestDeps, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker(ChunkerConfig{})
	}
	return &IngestService{deps: deps, logger: logger, lifetime: lifetime, now: time.Now}
}

// Submit stores a pending job and runs it in the background.
func (s *IngestService) Submit(ctx context.Context, tenantID string, req CrawlJobRequest) (*entity.CrawlJob, error) {
	job, tenant, err := s.create(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	snapshot := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(s.lifetime, job, tenant, req); err != nil {
			s.logger.Error("crawl job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()
	return &snapshot, nil
}

// Run executes a job in the foreground and returns it in its final state.
func (s *IngestService) Run(ctx context.Context, tenantID string, req CrawlJobRequest) (*entity.CrawlJob, error) {
	job, tenant, err := s.create(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	err = s.run(ctx, job, tenant, req)
	return job, err
}

// Status returns a job by id.
func (s *IngestService) Status(ctx context.Context, jobID string) (*entity.CrawlJob, error) {
	job, err := s.deps.Jobs.Get(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// Wait blocks until every submitted job has returned.
func (s *IngestService) Wait() {
	s.wg.Wait()
}

func (s *IngestService) create(ctx context.Context, tenantID string, req CrawlJobRequest) (*entity.CrawlJob, *entity.Tenant, error) {
	if tenantID == "" {
		return nil, nil, ErrMissingTenant
	}
	tenant, err := s.deps.Tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	if !tenant.Active() {
		return nil, nil, ErrTenantInactive
	}
	domains := req.Domains
	if len(domains) == 0 {
		domains = tenant.Domains
	}
	if len(domains) == 0 {
		return nil, nil, ErrNoSeeds
	}

	job := &entity.CrawlJob{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Status:    entity.CrawlPending,
		Errors:    []entity.CrawlError{},
		CreatedAt: s.now().UTC(),
	}
	for _, d := range domains {
		job.Domains = append(job.Domains, d.URL)
	}
	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create crawl job: %w", err)
	}
	return job, tenant, nil
}

// jobRun accumulates counters while pages are processed concurrently.
type jobRun struct {
	mu         sync.Mutex
	progress   entity.CrawlProgress
	embeddings int
}

func (r *jobRun) add(fn func(p *entity.CrawlProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.progress)
}

func (s *IngestService) run(ctx context.Context, job *entity.CrawlJob, tenant *entity.Tenant, req CrawlJobRequest) error {
	started := s.now().UTC()
	job.Status = entity.CrawlRunning
	job.StartedAt = &started
	s.save(ctx, job)
	s.jobLog(ctx, job.ID, "info", fmt.Sprintf("Starting crawl job for %s (%d domains)", tenant.ID, len(job.Domains)))

	domains := req.Domains
	if len(domains) == 0 {
		domains = tenant.Domains
	}
	base := tenant.CrawlSettings
	if req.Settings != nil {
		base = *req.Settings
	}

	state := &jobRun{}
	var pages []*entity.Page
	var bytes int64
	failedDomains := 0
	for _, d := range domains {
		settings := mergeSettings(base, d.Settings)
		res, err := s.deps.Crawler.Crawl(ctx, CrawlRequest{
			JobID:    job.ID,
			TenantID: tenant.ID,
			Seed:     d.URL,
			Pages:    d.SpecificPages,
			Settings: settings,
		}, func(ctx context.Context, page *entity.Page) error {
			return s.ingestPage(ctx, page, state)
		})
		if res != nil {
			pages = append(pages, res.Pages...)
			job.Errors = append(job.Errors, res.Errors...)
			bytes += res.Bytes
		}
		if err != nil {
			failedDomains++
			s.logger.Warn("domain crawl failed", zap.String("job_id", job.ID), zap.String("domain", d.URL), zap.Error(err))
			if res == nil || len(res.Errors) == 0 {
				job.Errors = append(job.Errors, entity.CrawlError{URL: d.URL, Message: err.Error(), Timestamp: s.now().UTC()})
			}
			if ctx.Err() != nil {
				break
			}
		}
		state.mu.Lock()
		job.Progress = state.progress
		state.mu.Unlock()
		job.Progress.CrawledPages = len(pages)
		job.Progress.FailedPages = len(job.Errors)
		job.Progress.TotalPages = len(pages) + len(job.Errors)
		s.save(ctx, job)
	}

	if len(pages) > 0 {
		s.rank(ctx, job.ID, pages)
	}

	completed := s.now().UTC()
	job.CompletedAt = &completed
	job.Duration = completed.Sub(started)
	job.Stats = entity.CrawlStats{BytesDownloaded: bytes, EmbeddingsCreated: state.embeddings}
	if len(pages) > 0 {
		job.Stats.AveragePageTime = job.Duration / time.Duration(len(pages))
	}

	var runErr error
	switch {
	case ctx.Err() != nil:
		// Left running for an external supervisor; the process is going away.
		s.jobLog(ctx, job.ID, "warn", "Crawl job interrupted")
		return ctx.Err()
	case failedDomains == len(domains):
		job.Status = entity.CrawlFailed
		job.FailReason = "no domain could be crawled"
		if len(job.Errors) > 0 {
			job.FailReason = job.Errors[0].Message
		}
		runErr = fmt.Errorf("crawl job %s: %s", job.ID, job.FailReason)
		s.jobLog(ctx, job.ID, "error", "Crawl job failed: "+job.FailReason)
	default:
		job.Status = entity.CrawlCompleted
		s.jobLog(ctx, job.ID, "success", fmt.Sprintf("Completed job. Processed %d pages in %s",
			len(pages), job.Duration.Round(time.Second)))
	}
	s.save(ctx, job)

	if s.deps.Invalidator != nil {
		s.deps.Invalidator.Invalidate(ctx, tenant.ID)
	}
	s.report(ctx, job)
	return runErr
}

// ingestPage stores a fetched page. Pages whose content hash did not change
// are left alone; changed pages get a fresh chunk set.
func (s *IngestService) ingestPage(ctx context.Context, page *entity.Page, state *jobRun) error {
	if page.Hash == "" {
		page.Hash = utils.HashString(page.Content)
	}
	existing, err := s.deps.Pages.FindByURL(ctx, page.TenantID, page.URL)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup page: %w", err)
	}
	if existing != nil && existing.Hash == page.Hash {
		page.ID = existing.ID
		state.add(func(p *entity.CrawlProgress) { p.UnchangedPages++ })
		metrics.CrawlPagesTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	chunks, err := s.prepareChunks(ctx, page)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	page.CrawledAt = now
	page.UpdatedAt = now
	if existing != nil {
		page.PageRank = existing.PageRank
	}
	if page.PageRank == 0 {
		page.PageRank = 1
	}
	id, err := s.deps.Pages.Upsert(ctx, page)
	if err != nil {
		return fmt.Errorf("store page: %w", err)
	}
	page.ID = id
	for i := range chunks {
		chunks[i].PageID = id
	}
	if err := s.deps.Chunks.ReplaceChunks(ctx, id, chunks); err != nil {
		// Forget the hash so the page is processed again next time.
		stale := *page
		stale.Hash = ""
		if _, uerr := s.deps.Pages.Upsert(ctx, &stale); uerr != nil {
			s.logger.Warn("failed to reset page hash", zap.String("url", page.URL), zap.Error(uerr))
		}
		return fmt.Errorf("store chunks: %w", err)
	}

	state.mu.Lock()
	state.embeddings += len(chunks)
	if existing != nil {
		state.progress.UpdatedPages++
	} else {
		state.progress.NewPages++
	}
	state.mu.Unlock()
	if existing != nil {
		metrics.CrawlPagesTotal.WithLabelValues("updated").Inc()
	} else {
		metrics.CrawlPagesTotal.WithLabelValues("new").Inc()
	}
	return nil
}

func (s *IngestService) prepareChunks(ctx context.Context, page *entity.Page) ([]entity.Chunk, error) {
	pieces := s.deps.Chunker.Split(page)
	if len(pieces) == 0 {
		return nil, nil
	}
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := s.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	chunks := make([]entity.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = entity.Chunk{
			TenantID:  page.TenantID,
			Position:  i,
			Text:      p.Text,
			Embedding: vectors[i],
			Tokens:    p.Tokens,
			Type:      p.Type,
		}
	}
	return chunks, nil
}

func (s *IngestService) rank(ctx context.Context, jobID string, pages []*entity.Page) {
	byURL := PageRanks(pages)
	ranks := make(map[int64]float64, len(pages))
	for _, p := range pages {
		if p.ID != 0 {
			ranks[p.ID] = byURL[p.URL]
		}
	}
	if err := s.deps.Pages.UpdatePageRank(ctx, ranks); err != nil {
		s.logger.Warn("failed to store page ranks", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *IngestService) report(ctx context.Context, job *entity.CrawlJob) {
	count, err := s.deps.Pages.CountByTenant(ctx, job.TenantID)
	if err != nil {
		s.logger.Warn("failed to count tenant pages", zap.String("tenant_id", job.TenantID), zap.Error(err))
	}
	report := entity.CrawlReport{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		Stats:        job.Stats,
		ContentCount: count,
	}
	if job.CompletedAt != nil {
		report.CompletedAt = *job.CompletedAt
	}
	if err := s.deps.Tenants.ReportCrawlStats(ctx, job.TenantID, report); err != nil {
		s.logger.Warn("failed to report crawl stats", zap.String("tenant_id", job.TenantID), zap.Error(err))
	}
}

func (s *IngestService) save(ctx context.Context, job *entity.CrawlJob) {
	if err := s.deps.Jobs.Update(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Warn("failed to update crawl job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *IngestService) jobLog(ctx context.Context, jobID, level, message string) {
	if s.deps.Logs == nil {
		return
	}
	if err := s.deps.Logs.Log(context.WithoutCancel(ctx), jobID, level, message); err != nil {
		s.logger.Warn("log sink write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// mergeSettings overlays the non-zero fields of a domain's settings.
func mergeSettings(base entity.CrawlSettings, override *entity.CrawlSettings) entity.CrawlSettings {
	if override == nil {
		return base
	}
	out := base
	if override.MaxPages > 0 {
		out.MaxPages = override.MaxPages
	}
	if override.CrawlDelayMS > 0 {
		out.CrawlDelayMS = override.CrawlDelayMS
	}
	if len(override.AllowedPaths) > 0 {
		out.AllowedPaths = override.AllowedPaths
	}
	if len(override.ExcludedPaths) > 0 {
		out.ExcludedPaths = override.ExcludedPaths
	}
	if override.UserAgent != "" {
		out.UserAgent = override.UserAgent
	}
	if override.Concurrency > 0 {
		out.Concurrency = override.Concurrency
	}
	if override.RespectRobots != nil {
		respect := *override.RespectRobots
		out.RespectRobots = &respect
	}
	return out
}
