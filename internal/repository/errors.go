package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrCacheUnavailable is returned by caches that are not connected.
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrFetchTimeout     = errors.New("fetch timed out")
	ErrBadStatus        = errors.New("unexpected http status")
	ErrNotHTML          = errors.New("response is not html")
	ErrExtractionFailed = errors.New("content extraction failed")
)
