package repository

import (
	"context"

	"github.com/user/rag-service/internal/entity"
)

// PageFetcher defines the mechanism that downloads and extracts one page.
type PageFetcher interface {
	// Fetch downloads rawURL and extracts a page. Links are limited to the seed's domain.
	Fetch(ctx context.Context, rawURL, seedURL, userAgent string) (*entity.Page, error)
}

// RobotsRules answers whether a URL may be fetched.
type RobotsRules interface {
	Allowed(rawURL string) bool
}

// RobotsPolicy loads the robots rules of a site.
type RobotsPolicy interface {
	// Load fetches robots.txt for baseURL. Callers treat an error as "no restrictions".
	Load(ctx context.Context, baseURL, userAgent string) (RobotsRules, error)
}
