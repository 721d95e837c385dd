package entity

import "time"

const TenantActive = "active"

// TenantDomain is one site owned by a tenant.
type TenantDomain struct {
	URL           string         `json:"url" yaml:"url"`
	Type          string         `json:"type,omitempty" yaml:"type"`
	SpecificPages []string       `json:"specific_pages,omitempty" yaml:"specific_pages"`
	Settings      *CrawlSettings `json:"settings,omitempty" yaml:"settings"`
}

// Tenant is the subset of a broker account the pipeline reads.
type Tenant struct {
	ID                 string         `json:"id" yaml:"id"`
	Name               string         `json:"name" yaml:"name"`
	DisplayName        string         `json:"display_name" yaml:"display_name"`
	Domains            []TenantDomain `json:"domains" yaml:"domains"`
	CrawlSettings      CrawlSettings  `json:"crawl_settings" yaml:"crawl_settings"`
	NoDataResponse     string         `json:"no_data_response,omitempty" yaml:"no_data_response"`
	Status             string         `json:"status" yaml:"status"`
	CrawlSchedule      string         `json:"crawl_schedule,omitempty" yaml:"crawl_schedule"`
	NextScheduledCrawl *time.Time     `json:"next_scheduled_crawl,omitempty" yaml:"-"`
	LastCrawl          *time.Time     `json:"last_crawl,omitempty" yaml:"-"`
	ContentCount       int            `json:"content_count" yaml:"-"`
}

// Active reports whether the tenant may be crawled and queried.
func (t *Tenant) Active() bool {
	return t.Status == "" || t.Status == TenantActive
}
