package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.ServerPort)
	}
	if cfg.CrawlConcurrency != 3 || cfg.CrawlMaxPages != 100 || !cfg.CrawlRespectRobots {
		t.Fatalf("unexpected crawl defaults: %+v", cfg)
	}
	if cfg.HybridVectorWeight != 0.7 || cfg.HybridTextWeight != 0.3 {
		t.Fatalf("unexpected hybrid weights %v/%v", cfg.HybridVectorWeight, cfg.HybridTextWeight)
	}
	if cfg.EmbedCacheTTL() != 24*time.Hour {
		t.Fatalf("expected 24h embedding ttl, got %v", cfg.EmbedCacheTTL())
	}
	if cfg.CrawlDelay() != time.Second {
		t.Fatalf("expected 1s crawl delay, got %v", cfg.CrawlDelay())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CRAWL_CONCURRENCY", "5")
	t.Setenv("REDIS_ADDR", "cache:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.ServerPort)
	}
	if cfg.CrawlConcurrency != 5 {
		t.Fatalf("expected concurrency 5, got %d", cfg.CrawlConcurrency)
	}
	if cfg.RedisAddr != "cache:6379" {
		t.Fatalf("expected redis addr from env, got %q", cfg.RedisAddr)
	}
}
