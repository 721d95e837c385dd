package repository

import (
	"context"
	"time"

	"github.com/user/rag-service/internal/entity"
)

// LogEntry is one progress line of a crawl job.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	JobID     string    `json:"jobId"`
}

// LogSink receives crawl job progress.
type LogSink interface {
	Log(ctx context.Context, jobID, level, message string) error
}

// LogReader is implemented by sinks that can replay and follow entries.
type LogReader interface {
	// Recent returns up to n of the latest entries, oldest first.
	Recent(ctx context.Context, jobID string, n int) ([]LogEntry, error)
	// Follow delivers new entries until ctx is done.
	Follow(ctx context.Context, jobID string) (<-chan LogEntry, error)
}

// QueryLogRepository records answered questions.
type QueryLogRepository interface {
	Record(ctx context.Context, entry *entity.QueryLog) error
}
