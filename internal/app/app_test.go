package app

import (
	"context"
	"testing"

	"github.com/user/rag-service/pkg/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		StoreDriver:    "memory",
		LLMProvider:    "openai",
		OpenAIAPIKey:   "test",
		OpenAIBaseURL:  "http://127.0.0.1:1",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		LogSink:        "redis",
		KafkaTopic:     "crawl-logs",
	}
}

func TestNewWithMemoryDriver(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Ingest == nil || a.Chat == nil || a.Scheduler == nil || a.Retriever == nil {
		t.Fatalf("expected every service to be built")
	}
	if a.LogReader == nil {
		t.Fatalf("expected an in-process log reader without redis")
	}
	if len(a.Checks) != 0 {
		t.Fatalf("expected no health checks for the memory driver, got %d", len(a.Checks))
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown store", func(c *config.Config) { c.StoreDriver = "sqlite" }},
		{"unknown sink", func(c *config.Config) { c.LogSink = "stdout" }},
		{"kafka without brokers", func(c *config.Config) { c.LogSink = "kafka" }},
		{"unknown provider", func(c *config.Config) { c.LLMProvider = "bard" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)
			if _, err := New(context.Background(), cfg, nil); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestKafkaSinkHasNoReader(t *testing.T) {
	cfg := memoryConfig()
	cfg.LogSink = "kafka"
	cfg.KafkaBrokers = "localhost:9092, localhost:9093"
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if a.LogReader != nil {
		t.Fatalf("expected no log reader for the kafka sink")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a:1, ,b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Fatalf("unexpected list %v", got)
	}
}
