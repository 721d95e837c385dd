package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

// Tenants is an in-memory TenantRepository.
type Tenants struct {
	mu      sync.RWMutex
	tenants map[string]entity.Tenant
}

func NewTenants() *Tenants {
	return &Tenants{tenants: make(map[string]entity.Tenant)}
}

func (r *Tenants) Get(_ context.Context, tenantID string) (*entity.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *Tenants) Upsert(_ context.Context, t *entity.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	if cp.Status == "" {
		cp.Status = entity.TenantActive
	}
	if prev, ok := r.tenants[t.ID]; ok {
		cp.LastCrawl, cp.ContentCount = prev.LastCrawl, prev.ContentCount
		if prev.CrawlSchedule == cp.CrawlSchedule {
			cp.NextScheduledCrawl = prev.NextScheduledCrawl
		}
	}
	r.tenants[t.ID] = cp
	return nil
}

func (r *Tenants) ReportCrawlStats(_ context.Context, tenantID string, report entity.CrawlReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return repository.ErrNotFound
	}
	completed := report.CompletedAt
	t.LastCrawl = &completed
	t.ContentCount = report.ContentCount
	r.tenants[tenantID] = t
	return nil
}

func (r *Tenants) ListScheduled(_ context.Context) ([]*entity.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entity.Tenant
	for _, t := range r.tenants {
		if t.CrawlSchedule != "" && t.Active() {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Tenants) SetNextCrawl(_ context.Context, tenantID string, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return repository.ErrNotFound
	}
	t.NextScheduledCrawl = &next
	r.tenants[tenantID] = t
	return nil
}

// Jobs is an in-memory CrawlJobRepository.
type Jobs struct {
	mu   sync.RWMutex
	jobs map[string]entity.CrawlJob
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]entity.CrawlJob)}
}

func (r *Jobs) Create(_ context.Context, job *entity.CrawlJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *Jobs) Update(_ context.Context, job *entity.CrawlJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return repository.ErrNotFound
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *Jobs) Get(_ context.Context, jobID string) (*entity.CrawlJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := cloneJob(&job)
	return &cp, nil
}

// cloneJob copies the slices so a running job can keep appending.
func cloneJob(job *entity.CrawlJob) entity.CrawlJob {
	cp := *job
	cp.Domains = append([]string(nil), job.Domains...)
	cp.Errors = append([]entity.CrawlError(nil), job.Errors...)
	return cp
}

// QueryLog keeps answered questions in memory.
type QueryLog struct {
	mu      sync.Mutex
	entries []entity.QueryLog
}

func NewQueryLog() *QueryLog { return &QueryLog{} }

func (q *QueryLog) Record(_ context.Context, entry *entity.QueryLog) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, *entry)
	return nil
}

// Entries returns a copy of the recorded questions.
func (q *QueryLog) Entries() []entity.QueryLog {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]entity.QueryLog(nil), q.entries...)
}
