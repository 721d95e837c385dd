package entity

import "time"

// CrawlStatus is the lifecycle state of a crawl job.
type CrawlStatus string

const (
	CrawlPending   CrawlStatus = "pending"
	CrawlRunning   CrawlStatus = "running"
	CrawlCompleted CrawlStatus = "completed"
	CrawlFailed    CrawlStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlCompleted || s == CrawlFailed
}

// CrawlSettings controls how a single domain is walked. Zero values fall back
// to the crawler defaults. A nil RespectRobots means robots.txt is obeyed.
type CrawlSettings struct {
	MaxPages      int      `json:"max_pages" yaml:"max_pages"`
	CrawlDelayMS  int      `json:"crawl_delay_ms" yaml:"crawl_delay_ms"`
	RespectRobots *bool    `json:"respect_robots,omitempty" yaml:"respect_robots"`
	AllowedPaths  []string `json:"allowed_paths,omitempty" yaml:"allowed_paths"`
	ExcludedPaths []string `json:"excluded_paths,omitempty" yaml:"excluded_paths"`
	UserAgent     string   `json:"user_agent,omitempty" yaml:"user_agent"`
	Concurrency   int      `json:"concurrency,omitempty" yaml:"concurrency"`
}

// CrawlDelay is the politeness pause after each fetch.
func (s CrawlSettings) CrawlDelay() time.Duration {
	return time.Duration(s.CrawlDelayMS) * time.Millisecond
}

// ObeysRobots reports whether robots.txt applies, using def when unset.
func (s CrawlSettings) ObeysRobots(def bool) bool {
	if s.RespectRobots == nil {
		return def
	}
	return *s.RespectRobots
}

// CrawlProgress holds the page counters of a job.
type CrawlProgress struct {
	TotalPages     int `json:"total_pages"`
	CrawledPages   int `json:"crawled_pages"`
	FailedPages    int `json:"failed_pages"`
	NewPages       int `json:"new_pages"`
	UpdatedPages   int `json:"updated_pages"`
	UnchangedPages int `json:"unchanged_pages"`
}

// CrawlStats are derived figures reported when a job finishes.
type CrawlStats struct {
	BytesDownloaded   int64         `json:"bytes_downloaded"`
	EmbeddingsCreated int           `json:"embeddings_created"`
	AveragePageTime   time.Duration `json:"average_page_time"`
}

// CrawlError records a single URL that could not be fetched or processed.
type CrawlError struct {
	URL       string    `json:"url"`
	Message   string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// CrawlJob mirrors the `crawl_jobs` table.
type CrawlJob struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id"`
	Domains     []string      `json:"domains"`
	Status      CrawlStatus   `json:"status"`
	Progress    CrawlProgress `json:"progress"`
	Errors      []CrawlError  `json:"errors"`
	Stats       CrawlStats    `json:"stats"`
	FailReason  string        `json:"fail_reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// CrawlReport is the summary handed back to the tenant registry.
type CrawlReport struct {
	JobID        string        `json:"job_id"`
	Status       CrawlStatus   `json:"status"`
	Progress     CrawlProgress `json:"progress"`
	Stats        CrawlStats    `json:"stats"`
	CompletedAt  time.Time     `json:"completed_at"`
	ContentCount int           `json:"content_count"`
}
