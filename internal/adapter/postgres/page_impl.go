package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

// PageRepoImpl provides a concrete implementation for the PageRepository interface using PostgreSQL.
type PageRepoImpl struct {
	db *pgxpool.Pool
}

// NewPageRepo creates a new instance of PageRepoImpl.
func NewPageRepo(db *pgxpool.Pool) *PageRepoImpl {
	return &PageRepoImpl{db: db}
}

// Upsert stores or replaces the page for (tenant, url) and returns its id.
func (r *PageRepoImpl) Upsert(ctx context.Context, page *entity.Page) (int64, error) {
	imagesJSON, err := json.Marshal(page.Images)
	if err != nil {
		return 0, err
	}
	metaJSON, err := json.Marshal(page.Metadata)
	if err != nil {
		return 0, err
	}
	domain, path := page.Domain, page.Path
	if u, perr := url.Parse(page.URL); perr == nil {
		if domain == "" {
			domain = u.Hostname()
		}
		if path == "" {
			path = u.Path
		}
	}
	headings := page.Headings
	if headings == nil {
		headings = []string{}
	}
	links := page.Links
	if links == nil {
		links = []string{}
	}
	contentType := page.ContentType
	if contentType == "" {
		contentType = entity.ContentPage
	}

	query := `
		INSERT INTO pages (tenant_id, url, domain, path, title, description, content, content_type,
			headings, links, images, metadata, hash, page_rank, bytes, crawled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (tenant_id, url) DO UPDATE SET
			domain = EXCLUDED.domain,
			path = EXCLUDED.path,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			content_type = EXCLUDED.content_type,
			headings = EXCLUDED.headings,
			links = EXCLUDED.links,
			images = EXCLUDED.images,
			metadata = EXCLUDED.metadata,
			hash = EXCLUDED.hash,
			bytes = EXCLUDED.bytes,
			crawled_at = EXCLUDED.crawled_at,
			updated_at = NOW()
		RETURNING id;
	`
	var id int64
	err = r.db.QueryRow(ctx, query,
		page.TenantID,
		page.URL,
		domain,
		path,
		page.Title,
		page.Description,
		page.Content,
		string(contentType),
		headings,
		links,
		imagesJSON,
		metaJSON,
		page.Hash,
		pageRankOrDefault(page.PageRank),
		page.Bytes,
		page.CrawledAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert page %s: %w", page.URL, err)
	}
	return id, nil
}

// FindByURL retrieves the page a tenant owns at url.
func (r *PageRepoImpl) FindByURL(ctx context.Context, tenantID, rawURL string) (*entity.Page, error) {
	query := `
		SELECT id, tenant_id, url, domain, path, title, description, content, content_type,
			headings, links, images, metadata, hash, page_rank, bytes, crawled_at, updated_at
		FROM pages
		WHERE tenant_id = $1 AND url = $2;
	`
	row := r.db.QueryRow(ctx, query, tenantID, rawURL)

	var page entity.Page
	var contentType string
	var imagesJSON, metaJSON []byte
	err := row.Scan(
		&page.ID,
		&page.TenantID,
		&page.URL,
		&page.Domain,
		&page.Path,
		&page.Title,
		&page.Description,
		&page.Content,
		&contentType,
		&page.Headings,
		&page.Links,
		&imagesJSON,
		&metaJSON,
		&page.Hash,
		&page.PageRank,
		&page.Bytes,
		&page.CrawledAt,
		&page.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	page.ContentType = entity.ContentType(contentType)

	if err := json.Unmarshal(imagesJSON, &page.Images); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metaJSON, &page.Metadata); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdatePageRank sets page_rank for every page in ranks in one batch.
func (r *PageRepoImpl) UpdatePageRank(ctx context.Context, ranks map[int64]float64) error {
	if len(ranks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, rank := range ranks {
		batch.Queue(`UPDATE pages SET page_rank = $2 WHERE id = $1`, id, rank)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

// CountByTenant returns how many pages a tenant has indexed.
func (r *PageRepoImpl) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM pages WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func pageRankOrDefault(rank float64) float64 {
	if rank <= 0 {
		return 1
	}
	return rank
}
