package memory

import (
	"context"
	"sync"
	"time"

	"github.com/user/rag-service/internal/repository"
)

const maxLogEntries = 500

// LogSink keeps the latest entries per job and fans new ones out to followers.
type LogSink struct {
	mu        sync.Mutex
	entries   map[string][]repository.LogEntry
	followers map[string]map[chan repository.LogEntry]struct{}
	now       func() time.Time
}

func NewLogSink() *LogSink {
	return &LogSink{
		entries:   make(map[string][]repository.LogEntry),
		followers: make(map[string]map[chan repository.LogEntry]struct{}),
		now:       time.Now,
	}
}

// Log never blocks on a slow follower; entries it cannot take are dropped.
func (s *LogSink) Log(_ context.Context, jobID, level, message string) error {
	entry := repository.LogEntry{Timestamp: s.now().UTC(), Level: level, Message: message, JobID: jobID}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.entries[jobID], entry)
	if len(list) > maxLogEntries {
		list = list[len(list)-maxLogEntries:]
	}
	s.entries[jobID] = list
	for ch := range s.followers[jobID] {
		select {
		case ch <- entry:
		default:
		}
	}
	return nil
}

func (s *LogSink) Recent(_ context.Context, jobID string, n int) ([]repository.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[jobID]
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return append([]repository.LogEntry(nil), list...), nil
}

func (s *LogSink) Follow(ctx context.Context, jobID string) (<-chan repository.LogEntry, error) {
	ch := make(chan repository.LogEntry, 64)
	s.mu.Lock()
	if s.followers[jobID] == nil {
		s.followers[jobID] = make(map[chan repository.LogEntry]struct{})
	}
	s.followers[jobID][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.followers[jobID], ch)
		if len(s.followers[jobID]) == 0 {
			delete(s.followers, jobID)
		}
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}
