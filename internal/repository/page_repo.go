package repository

import (
	"context"

	"github.com/user/rag-service/internal/entity"
)

// PageRepository defines the interface for storing crawled pages.
type PageRepository interface {
	// FindByURL retrieves the page a tenant owns at url. Returns ErrNotFound when absent.
	FindByURL(ctx context.Context, tenantID, url string) (*entity.Page, error)
	// Upsert inserts or replaces the page for (tenant, url) and returns its id.
	Upsert(ctx context.Context, page *entity.Page) (int64, error)
	// UpdatePageRank sets the importance score of a set of pages.
	UpdatePageRank(ctx context.Context, ranks map[int64]float64) error
	// CountByTenant returns how many pages a tenant has indexed.
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}
