package repository

import "context"

// FrontierRepository defines a per-job FIFO of URLs still to be crawled.
type FrontierRepository interface {
	// Push appends URLs that were never queued for the job before and returns how many were added.
	Push(ctx context.Context, jobID string, urls ...string) (int, error)
	// Pop removes and returns up to n URLs from the front of the queue.
	Pop(ctx context.Context, jobID string, n int) ([]string, error)
	// Size returns the current number of queued URLs.
	Size(ctx context.Context, jobID string) (int64, error)
	// Clear drops the queue and its seen set.
	Clear(ctx context.Context, jobID string) error
}

// VisitedRepository defines the per-job set of URLs already fetched.
type VisitedRepository interface {
	// MarkVisited adds url to the job's visited set. It returns false when it was already there.
	MarkVisited(ctx context.Context, jobID, url string) (bool, error)
	// IsVisited checks whether url was fetched in the job.
	IsVisited(ctx context.Context, jobID, url string) (bool, error)
	// Count returns the number of visited URLs.
	Count(ctx context.Context, jobID string) (int64, error)
	// Clear drops the visited set.
	Clear(ctx context.Context, jobID string) error
}
