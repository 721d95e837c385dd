package repository

import (
	"context"
	"time"

	"github.com/user/rag-service/internal/entity"
)

// TenantRepository defines the narrow tenant registry the pipeline uses.
type TenantRepository interface {
	// Get returns a tenant. Returns ErrNotFound when absent.
	Get(ctx context.Context, tenantID string) (*entity.Tenant, error)
	// Upsert creates or replaces a tenant definition.
	Upsert(ctx context.Context, tenant *entity.Tenant) error
	// ReportCrawlStats records the outcome of a finished crawl.
	ReportCrawlStats(ctx context.Context, tenantID string, report entity.CrawlReport) error
	// ListScheduled returns active tenants with a crawl schedule.
	ListScheduled(ctx context.Context) ([]*entity.Tenant, error)
	// SetNextCrawl stores when the tenant should next be crawled.
	SetNextCrawl(ctx context.Context, tenantID string, next time.Time) error
}
