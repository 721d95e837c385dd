package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/repository"
)

const (
	logKeyPrefix  = "crawl:logs:"
	maxLogEntries = 500
	logTTL        = 7 * 24 * time.Hour
)

// LogSinkImpl keeps the latest crawl log entries of each job in a capped list
// and publishes them for live followers.
type LogSinkImpl struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewLogSink(client *redis.Client, logger *zap.Logger) *LogSinkImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSinkImpl{client: client, logger: logger, now: time.Now}
}

func listKey(jobID string) string    { return logKeyPrefix + jobID }
func channelKey(jobID string) string { return logKeyPrefix + jobID + ":live" }

// Log appends an entry, trims the list to the last 500 and publishes it.
func (s *LogSinkImpl) Log(ctx context.Context, jobID, level, message string) error {
	entry := repository.LogEntry{
		Timestamp: s.now().UTC(),
		Level:     level,
		Message:   message,
		JobID:     jobID,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := listKey(jobID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, maxLogEntries-1)
		pipe.Expire(ctx, key, logTTL)
		return nil
	})
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channelKey(jobID), payload).Err()
}

// Recent returns up to n of the latest entries, oldest first.
func (s *LogSinkImpl) Recent(ctx context.Context, jobID string, n int) ([]repository.LogEntry, error) {
	if n <= 0 || n > maxLogEntries {
		n = maxLogEntries
	}
	raw, err := s.client.LRange(ctx, listKey(jobID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]repository.LogEntry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e repository.LogEntry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			s.logger.Warn("skipping malformed log entry", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Follow subscribes to the job's live channel. The returned channel closes
// when ctx is done.
func (s *LogSinkImpl) Follow(ctx context.Context, jobID string) (<-chan repository.LogEntry, error) {
	sub := s.client.Subscribe(ctx, channelKey(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan repository.LogEntry)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e repository.LogEntry
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
