// Package app wires adapters and use cases from configuration. Both the API
// server and ragctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/adapter/httpfetch"
	"github.com/user/rag-service/internal/adapter/kafka"
	"github.com/user/rag-service/internal/adapter/llm"
	"github.com/user/rag-service/internal/adapter/memory"
	"github.com/user/rag-service/internal/adapter/postgres"
	redisadapter "github.com/user/rag-service/internal/adapter/redis"
	"github.com/user/rag-service/internal/delivery/http/handler"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/internal/usecase"
	"github.com/user/rag-service/pkg/config"
)

// App is the assembled service.
type App struct {
	Tenants   repository.TenantRepository
	Ingest    *usecase.IngestService
	Retriever *usecase.Retriever
	RAG       *usecase.RAGService
	Chat      *usecase.ChatService
	Sessions  *usecase.SessionManager
	Scheduler *usecase.Scheduler
	// LogReader is nil when the configured sink cannot replay entries.
	LogReader repository.LogReader
	Checks    map[string]handler.HealthCheck

	closers []func() error
	logger  *zap.Logger
}

type stores struct {
	tenants  repository.TenantRepository
	jobs     repository.CrawlJobRepository
	pages    repository.PageRepository
	chunks   repository.ChunkRepository
	queryLog repository.QueryLogRepository
}

// New connects to the configured stores and builds every use case. Jobs
// submitted through Ingest live until lifetime is cancelled.
func New(lifetime context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Checks: map[string]handler.HealthCheck{}, logger: logger}

	st, err := a.openStores(lifetime, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisadapter.NewClient(lifetime, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("Redis connection established", zap.String("addr", cfg.RedisAddr))
	}

	var (
		cache    repository.CacheRepository
		frontier repository.FrontierRepository
		visited  repository.VisitedRepository
	)
	switch {
	case rdb != nil:
		cache = redisadapter.NewCacheRepo(rdb)
		frontier = redisadapter.NewFrontierRepo(rdb)
		visited = redisadapter.NewVisitedRepo(rdb)
	case cfg.StoreDriver == "memory":
		cache = memory.NewCache()
		frontier, visited = memory.NewFrontier(), memory.NewVisited()
	default:
		logger.Warn("REDIS_ADDR not set, caching and sessions are disabled")
		frontier, visited = memory.NewFrontier(), memory.NewVisited()
	}

	logs, err := a.openLogSink(cfg, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}

	model, err := llm.New(llmConfig(cfg), logger.Named("llm"))
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder := usecase.NewEmbedder(model, cache, usecase.EmbedderConfig{
		BatchSize:  cfg.EmbedBatchSize,
		MaxRetries: cfg.EmbedMaxRetries,
		RetryDelay: cfg.EmbedRetryDelay(),
		CacheTTL:   cfg.EmbedCacheTTL(),
	}, logger.Named("embedder"))

	a.Retriever = usecase.NewRetriever(st.chunks, embedder, cache, usecase.RetrieverConfig{
		Limit:        cfg.SearchLimit,
		MinScore:     cfg.SearchMinScore,
		VectorWeight: cfg.HybridVectorWeight,
		TextWeight:   cfg.HybridTextWeight,
		CacheTTL:     cfg.SearchCacheTTL(),
	}, logger.Named("retriever"))

	a.RAG = usecase.NewRAGService(a.Retriever, model, st.tenants, cache, st.queryLog, usecase.RAGConfig{
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		MaxContextChars: cfg.RAGMaxContextChars,
		CacheTTL:        cfg.AnswerCacheTTL(),
	}, logger.Named("rag"))

	a.Sessions = usecase.NewSessionManager(cache, cfg.SessionTTL(), logger.Named("sessions"))
	a.Chat = usecase.NewChatService(a.Sessions, a.RAG, logger.Named("chat"))

	fetcher := httpfetch.NewFetcher(cfg.CrawlTimeout(), logger.Named("fetcher"))
	crawler := usecase.NewCrawlerUseCase(
		fetcher,
		httpfetch.NewRobotsPolicy(cfg.CrawlTimeout()),
		frontier,
		visited,
		logs,
		usecase.CrawlerConfig{
			UserAgent:    cfg.CrawlUserAgent,
			Concurrency:  cfg.CrawlConcurrency,
			Delay:        cfg.CrawlDelay(),
			MaxPages:     cfg.CrawlMaxPages,
			IgnoreRobots: !cfg.CrawlRespectRobots,
		},
		logger.Named("crawler"),
	)

	a.Tenants = st.tenants
	a.Ingest = usecase.NewIngestService(lifetime, usecase.IngestDeps{
		Tenants:     st.tenants,
		Jobs:        st.jobs,
		Pages:       st.pages,
		Chunks:      st.chunks,
		Crawler:     crawler,
		Chunker:     usecase.NewChunker(usecase.ChunkerConfig{MaxTokens: cfg.ChunkMaxTokens, MinTokens: cfg.ChunkMinTokens, Overlap: cfg.ChunkOverlap}),
		Embedder:    embedder,
		Invalidator: a.Retriever,
		Logs:        logs,
	}, logger.Named("ingest"))

	a.Scheduler = usecase.NewScheduler(st.tenants, a.Ingest, cfg.SchedulerInterval(), logger.Named("scheduler"))
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		docs, err := memory.NewDocumentStore()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, docs.Close)
		a.logger.Info("Using in-memory document store")
		return &stores{
			tenants:  memory.NewTenants(),
			jobs:     memory.NewJobs(),
			pages:    docs,
			chunks:   docs,
			queryLog: memory.NewQueryLog(),
		}, nil
	case "", "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closePool(pool))
		a.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		a.logger.Info("PostgreSQL connection pool established")
		return &stores{
			tenants:  postgres.NewTenantRepo(pool),
			jobs:     postgres.NewCrawlJobRepo(pool),
			pages:    postgres.NewPageRepo(pool),
			chunks:   postgres.NewChunkRepo(pool),
			queryLog: postgres.NewQueryLogRepo(pool),
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// openLogSink returns nil for LOG_SINK=none. A redis sink without a Redis
// connection falls back to an in-process one.
func (a *App) openLogSink(cfg *config.Config, rdb *goredis.Client) (repository.LogSink, error) {
	switch cfg.LogSink {
	case "none":
		return nil, nil
	case "kafka":
		brokers := splitList(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New("LOG_SINK=kafka requires KAFKA_BROKERS")
		}
		sink := kafka.NewLogSink(brokers, cfg.KafkaTopic, a.logger.Named("kafka"))
		a.closers = append(a.closers, sink.Close)
		return sink, nil
	case "", "redis":
		if rdb != nil {
			sink := redisadapter.NewLogSink(rdb, a.logger.Named("job-log"))
			a.LogReader = sink
			return sink, nil
		}
		sink := memory.NewLogSink()
		a.LogReader = sink
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown LOG_SINK %q", cfg.LogSink)
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func llmConfig(cfg *config.Config) llm.Config {
	c := llm.Config{
		Provider:       cfg.LLMProvider,
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Dimensions:     cfg.EmbeddingDimensions,
	}
	if cfg.LLMProvider == "ollama" {
		c.BaseURL = cfg.OllamaURL
	}
	return c
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
