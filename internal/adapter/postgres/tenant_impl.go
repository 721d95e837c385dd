package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

// TenantRepoImpl keeps the tenant registry in the tenants table.
type TenantRepoImpl struct {
	db *pgxpool.Pool
}

func NewTenantRepo(db *pgxpool.Pool) *TenantRepoImpl {
	return &TenantRepoImpl{db: db}
}

const tenantColumns = `id, name, display_name, domains, crawl_settings, no_data_response, status,
	crawl_schedule, next_scheduled_crawl, last_crawl, content_count`

func (r *TenantRepoImpl) Get(ctx context.Context, tenantID string) (*entity.Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID)
	t, err := scanTenant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return t, err
}

func (r *TenantRepoImpl) Upsert(ctx context.Context, t *entity.Tenant) error {
	domains := t.Domains
	if domains == nil {
		domains = []entity.TenantDomain{}
	}
	domainsJSON, err := json.Marshal(domains)
	if err != nil {
		return err
	}
	settingsJSON, err := json.Marshal(t.CrawlSettings)
	if err != nil {
		return err
	}
	status := t.Status
	if status == "" {
		status = entity.TenantActive
	}
	query := `
		INSERT INTO tenants (id, name, display_name, domains, crawl_settings, no_data_response, status, crawl_schedule)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			display_name = EXCLUDED.display_name,
			domains = EXCLUDED.domains,
			crawl_settings = EXCLUDED.crawl_settings,
			no_data_response = EXCLUDED.no_data_response,
			status = EXCLUDED.status,
			crawl_schedule = EXCLUDED.crawl_schedule,
			next_scheduled_crawl = CASE
				WHEN tenants.crawl_schedule = EXCLUDED.crawl_schedule THEN tenants.next_scheduled_crawl
				ELSE NULL END,
			updated_at = NOW();
	`
	_, err = r.db.Exec(ctx, query, t.ID, t.Name, t.DisplayName, domainsJSON, settingsJSON,
		t.NoDataResponse, status, t.CrawlSchedule)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

// ReportCrawlStats stores the last crawl outcome and the indexed page count.
func (r *TenantRepoImpl) ReportCrawlStats(ctx context.Context, tenantID string, report entity.CrawlReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE tenants
		SET last_crawl = $2, last_crawl_report = $3, content_count = $4, updated_at = NOW()
		WHERE id = $1`,
		tenantID, report.CompletedAt, reportJSON, report.ContentCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *TenantRepoImpl) ListScheduled(ctx context.Context) ([]*entity.Tenant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE status = 'active' AND crawl_schedule <> ''
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*entity.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *TenantRepoImpl) SetNextCrawl(ctx context.Context, tenantID string, next time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE tenants SET next_scheduled_crawl = $2 WHERE id = $1`, tenantID, next)
	return err
}

func scanTenant(row pgx.Row) (*entity.Tenant, error) {
	var t entity.Tenant
	var domainsJSON, settingsJSON []byte
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.DisplayName,
		&domainsJSON,
		&settingsJSON,
		&t.NoDataResponse,
		&t.Status,
		&t.CrawlSchedule,
		&t.NextScheduledCrawl,
		&t.LastCrawl,
		&t.ContentCount,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(domainsJSON, &t.Domains); err != nil {
		return nil, fmt.Errorf("decode domains of %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(settingsJSON, &t.CrawlSettings); err != nil {
		return nil, fmt.Errorf("decode crawl settings of %s: %w", t.ID, err)
	}
	return &t, nil
}
