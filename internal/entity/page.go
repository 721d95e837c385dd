package entity

import "time"

// ContentType is the coarse classification of a page.
type ContentType string

const (
	ContentHomepage ContentType = "homepage"
	ContentArticle  ContentType = "article"
	ContentProduct  ContentType = "product"
	ContentSupport  ContentType = "support"
	ContentAbout    ContentType = "about"
	ContentContact  ContentType = "contact"
	ContentPage     ContentType = "page"
)

// ImageInfo represents an image found on a page.
type ImageInfo struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// PageMetadata is the secondary information extracted from a page head.
type PageMetadata struct {
	Author      string   `json:"author,omitempty"`
	PublishDate string   `json:"publish_date,omitempty"`
	Language    string   `json:"language,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Page mirrors the `pages` table. One row per (tenant, url).
type Page struct {
	ID          int64
	TenantID    string
	URL         string
	Domain      string
	Path        string
	Title       string
	Description string
	Content     string
	ContentType ContentType
	Headings    []string
	Links       []string
	Images      []ImageInfo // Stored as JSONB
	Metadata    PageMetadata
	Hash        string
	PageRank    float64
	Bytes       int64
	CrawledAt   time.Time
	UpdatedAt   time.Time
}
