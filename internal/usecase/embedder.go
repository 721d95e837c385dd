package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/metrics"
	"github.com/user/rag-service/pkg/retry"
	"github.com/user/rag-service/pkg/utils"
)

const embeddingKeyPrefix = "embedding:"

// EmbedderConfig controls batching, retries and caching of embedding calls.
type EmbedderConfig struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	CacheTTL   time.Duration
	// MaxInputChars truncates each input before it is sent.
	MaxInputChars int
}

func (c EmbedderConfig) withDefaults() EmbedderConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = 8192
	}
	return c
}

// Embedder wraps an EmbeddingProvider with a content-addressed cache and
// batched, retried calls.
type Embedder struct {
	provider repository.EmbeddingProvider
	cache    repository.CacheRepository
	cfg      EmbedderConfig
	logger   *zap.Logger
}

// NewEmbedder creates an Embedder. cache may be nil.
func NewEmbedder(provider repository.EmbeddingProvider, cache repository.CacheRepository, cfg EmbedderConfig, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{provider: provider, cache: cache, cfg: cfg.withDefaults(), logger: logger}
}

// Embed returns the vector of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order. Cached inputs and
// duplicates never reach the provider.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("input %d: %w", i, ErrEmptyInput)
		}
	}

	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var misses []string

	for i, t := range texts {
		if idx, ok := pending[t]; ok {
			pending[t] = append(idx, i)
			continue
		}
		if vec, ok := e.lookup(ctx, t); ok {
			out[i] = vec
			metrics.EmbeddingCache.WithLabelValues("hit").Inc()
			continue
		}
		metrics.EmbeddingCache.WithLabelValues("miss").Inc()
		pending[t] = []int{i}
		misses = append(misses, t)
	}

	for start := 0; start < len(misses); start += e.cfg.BatchSize {
		batch := misses[start:min(start+e.cfg.BatchSize, len(misses))]
		vectors, err := e.callProvider(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, t := range batch {
			for _, i := range pending[t] {
				out[i] = vectors[j]
			}
			e.store(ctx, t, vectors[j])
		}
	}
	return out, nil
}

func (e *Embedder) callProvider(ctx context.Context, batch []string) ([][]float32, error) {
	inputs := make([]string, len(batch))
	for i, t := range batch {
		inputs[i] = truncateRunes(t, e.cfg.MaxInputChars)
	}

	var vectors [][]float32
	policy := retry.Policy{
		MaxAttempts: e.cfg.MaxRetries,
		BaseDelay:   e.cfg.RetryDelay,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			e.logger.Warn("embedding batch failed, retrying",
				zap.Int("attempt", attempt), zap.Int("batch_size", len(inputs)),
				zap.Duration("backoff", delay), zap.Error(err))
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		v, err := e.provider.Embed(ctx, inputs)
		if err != nil {
			return err
		}
		if len(v) != len(inputs) {
			return fmt.Errorf("provider returned %d vectors for %d inputs", len(v), len(inputs))
		}
		vectors = v
		return nil
	})
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("embedding batch of %d: %w", len(inputs), err)
	}
	metrics.EmbeddingRequests.WithLabelValues("success").Inc()
	return vectors, nil
}

func (e *Embedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, ok, err := e.cache.Get(ctx, embeddingKey(text))
	if err != nil {
		e.logger.Debug("embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (e *Embedder) store(ctx context.Context, text string, vec []float32) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, embeddingKey(text), raw, e.cfg.CacheTTL); err != nil {
		e.logger.Debug("embedding cache write failed", zap.Error(err))
	}
}

// embeddingKey depends only on the text, so entries are shared across tenants.
func embeddingKey(text string) string {
	return embeddingKeyPrefix + utils.HashString(text)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// AverageEmbedding returns the L2-normalized mean of vectors. Vectors of a
// different length than the first are skipped.
func AverageEmbedding(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}

	var norm float64
	for i := range sum {
		sum[i] /= float64(n)
		norm += sum[i] * sum[i]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	for i, x := range sum {
		if norm > 0 {
			x /= norm
		}
		out[i] = float32(x)
	}
	return out
}
