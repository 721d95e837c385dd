package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/repository"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LogSink publishes crawl job log entries to a topic, keyed by job id so one
// job's entries land on one partition in order.
type LogSink struct {
	writer messageWriter
	logger *zap.Logger
	now    func() time.Time
}

var _ repository.LogSink = (*LogSink)(nil)

// NewLogSink creates an asynchronous writer for topic.
func NewLogSink(brokers []string, topic string, logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		Compression:            kafka.Snappy,
		BatchSize:              100,
		BatchTimeout:           100 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to publish crawl log entries", zap.Int("count", len(msgs)), zap.Error(err))
			}
		},
	}
	return newLogSink(w, logger)
}

func newLogSink(w messageWriter, logger *zap.Logger) *LogSink {
	return &LogSink{writer: w, logger: logger, now: time.Now}
}

func (s *LogSink) Log(ctx context.Context, jobID, level, message string) error {
	payload, err := json.Marshal(repository.LogEntry{
		Timestamp: s.now().UTC(),
		Level:     level,
		Message:   message,
		JobID:     jobID,
	})
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(jobID), Value: payload}); err != nil {
		return fmt.Errorf("publish log entry: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (s *LogSink) Close() error {
	return s.writer.Close()
}
