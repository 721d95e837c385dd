package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/metrics"
	"github.com/user/rag-service/pkg/utils"
)

// QueryEmbedder is the part of Embedder the retriever needs.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetrieverConfig holds search defaults.
type RetrieverConfig struct {
	Limit        int
	MinScore     float64
	VectorWeight float64
	TextWeight   float64
	CacheTTL     time.Duration
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.3
	}
	if c.VectorWeight == 0 && c.TextWeight == 0 {
		c.VectorWeight, c.TextWeight = 0.7, 0.3
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	return c
}

// Retriever ranks a tenant's chunks against a query.
type Retriever struct {
	chunks   repository.ChunkRepository
	embedder QueryEmbedder
	cache    repository.CacheRepository
	cfg      RetrieverConfig
	logger   *zap.Logger
}

// NewRetriever creates a Retriever. cache may be nil.
func NewRetriever(chunks repository.ChunkRepository, embedder QueryEmbedder, cache repository.CacheRepository, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{chunks: chunks, embedder: embedder, cache: cache, cfg: cfg.withDefaults(), logger: logger}
}

// Search returns at most opts.Limit results with distinct URLs. The vector
// path falls back to keyword search when it errors or finds nothing.
func (r *Retriever) Search(ctx context.Context, query, tenantID string, opts entity.SearchOptions) ([]entity.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	opts = r.resolve(opts)
	if opts.ExpandQuery {
		query = ExpandQuery(query)
	}

	key := searchCacheKey(tenantID, query, opts)
	if !opts.SkipCache {
		if cached, ok := r.cached(ctx, key); ok {
			return cached, nil
		}
	}

	var results []entity.SearchResult
	if opts.Mode == entity.ModeHybrid {
		results = r.hybrid(ctx, query, tenantID, opts)
	} else {
		results = r.vectorWithFallback(ctx, query, tenantID, opts)
	}

	source := "none"
	if len(results) > 0 {
		source = string(results[0].Source)
		if !opts.SkipCache {
			r.store(ctx, key, results)
		}
	}
	metrics.SearchRequests.WithLabelValues(string(opts.Mode), source).Inc()
	return results, nil
}

func (r *Retriever) resolve(opts entity.SearchOptions) entity.SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = r.cfg.Limit
	}
	if opts.MinScore <= 0 {
		opts.MinScore = r.cfg.MinScore
	}
	if opts.Mode == "" {
		opts.Mode = entity.ModeVector
	}
	return opts
}

func (r *Retriever) vectorWithFallback(ctx context.Context, query, tenantID string, opts entity.SearchOptions) []entity.SearchResult {
	results, err := r.VectorSearch(ctx, query, tenantID, opts.Limit, opts.MinScore)
	if err != nil {
		r.logger.Warn("vector search failed, using keyword fallback",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if err != nil || len(results) == 0 {
		fallback, ferr := r.KeywordSearch(ctx, query, tenantID, opts.Limit)
		if ferr != nil {
			r.logger.Warn("keyword fallback failed", zap.String("tenant_id", tenantID), zap.Error(ferr))
			return nil
		}
		return fallback
	}
	return results
}

// VectorSearch embeds the query, over-fetches candidates and keeps the best
// chunk per URL.
func (r *Retriever) VectorSearch(ctx context.Context, query, tenantID string, limit int, minScore float64) ([]entity.SearchResult, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := r.chunks.VectorSearch(ctx, tenantID, vec, limit*3, minScore)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Score >= minScore {
			c.Source = entity.SourceVector
			kept = append(kept, c)
		}
	}
	return PostProcess(kept, limit), nil
}

// PostProcess keeps the highest scoring result per URL, orders by score with
// page rank breaking near ties, truncates to limit and assigns ranks.
func PostProcess(results []entity.SearchResult, limit int) []entity.SearchResult {
	unique := dedupeByURL(results)
	sort.SliceStable(unique, func(i, j int) bool {
		diff := unique[i].Score - unique[j].Score
		if math.Abs(diff) > 0.01 {
			return diff > 0
		}
		return unique[i].PageRank > unique[j].PageRank
	})
	return rank(unique, limit)
}

var keywordStopWords = map[string]bool{
	"the": true, "about": true, "tell": true, "what": true, "how": true, "does": true,
	"can": true, "you": true, "your": true, "this": true, "that": true, "with": true,
	"from": true, "have": true, "for": true, "and": true, "are": true,
}

// ExtractKeywords lowercases the query, splits it on non-alphanumerics and drops
// stop words and tokens shorter than three characters.
func ExtractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) <= 2 || keywordStopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// KeywordSearch scores text-search candidates by keyword coverage, with
// bonuses for phrase adjacency, title hits and URL hits.
func (r *Retriever) KeywordSearch(ctx context.Context, query, tenantID string, limit int) ([]entity.SearchResult, error) {
	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}
	candidates, err := r.chunks.TextSearch(ctx, tenantID, keywords, limit*3)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	normalized := strings.Join(strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")

	scored := make([]entity.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		c.Score, c.MatchCount = ScoreKeywords(keywords, normalized, c)
		if c.MatchCount == 0 && c.Score == 0 {
			continue
		}
		c.Source = entity.SourceText
		if c.PageRank == 0 {
			c.PageRank = 1
		}
		scored = append(scored, c)
	}

	unique := dedupeByURL(scored)
	sort.SliceStable(unique, func(i, j int) bool {
		diff := unique[i].Score - unique[j].Score
		if math.Abs(diff) > 0.1 {
			return diff > 0
		}
		return unique[i].MatchCount > unique[j].MatchCount
	})
	return rank(unique, limit), nil
}

// ScoreKeywords returns min(1, coverage*0.5 + bonuses) and the number of
// keywords found in the chunk text. normalizedQuery is the lowercased query
// with punctuation collapsed to single spaces.
func ScoreKeywords(keywords []string, normalizedQuery string, c entity.SearchResult) (float64, int) {
	text := strings.ToLower(c.Text)
	url := strings.ToLower(c.URL)
	title := strings.ToLower(c.Title)

	matches := 0
	bonus := 0.0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
			if strings.Contains(normalizedQuery, kw+" ") || strings.Contains(normalizedQuery, " "+kw) {
				bonus += 0.1
			}
		}
		if strings.Contains(url, kw) {
			bonus += 0.3
		}
		if strings.Contains(title, kw) {
			bonus += 0.05
		}
	}
	score := float64(matches)/float64(len(keywords))*0.5 + bonus
	return math.Min(1, score), matches
}

func (r *Retriever) hybrid(ctx context.Context, query, tenantID string, opts entity.SearchOptions) []entity.SearchResult {
	var vectorResults, textResults []entity.SearchResult

	var g errgroup.Group
	g.Go(func() error {
		res, err := r.VectorSearch(ctx, query, tenantID, opts.Limit, opts.MinScore)
		if err != nil {
			r.logger.Warn("hybrid: vector leg failed", zap.String("tenant_id", tenantID), zap.Error(err))
			return nil
		}
		vectorResults = res
		return nil
	})
	g.Go(func() error {
		res, err := r.KeywordSearch(ctx, query, tenantID, opts.Limit)
		if err != nil {
			r.logger.Warn("hybrid: keyword leg failed", zap.String("tenant_id", tenantID), zap.Error(err))
			return nil
		}
		textResults = res
		return nil
	})
	_ = g.Wait()

	return CombineResults(vectorResults, textResults, r.cfg.VectorWeight, r.cfg.TextWeight, opts.Limit)
}

// CombineResults merges two result lists by URL with weighted score fusion. A
// result found by both strategies is tagged hybrid.
func CombineResults(vector, text []entity.SearchResult, vectorWeight, textWeight float64, limit int) []entity.SearchResult {
	byURL := make(map[string]int)
	var combined []entity.SearchResult

	for _, v := range vector {
		v.Score *= vectorWeight
		v.Source = entity.SourceVector
		byURL[v.URL] = len(combined)
		combined = append(combined, v)
	}
	for _, t := range text {
		if i, ok := byURL[t.URL]; ok {
			combined[i].Score += t.Score * textWeight
			combined[i].Source = entity.SourceHybrid
			combined[i].MatchCount = t.MatchCount
			continue
		}
		t.Score *= textWeight
		t.Source = entity.SourceText
		byURL[t.URL] = len(combined)
		combined = append(combined, t)
	}

	sortByScore(combined)
	return rank(combined, limit)
}

// ExpandQuery appends related terms for a few well-known topics.
func ExpandQuery(query string) string {
	lower := strings.ToLower(query)
	for _, e := range queryExpansions {
		if strings.Contains(lower, e.term) {
			return query + " " + e.related
		}
	}
	return query
}

var queryExpansions = []struct{ term, related string }{
	{"password reset", "password reset recover forgot change"},
	{"pricing", "pricing cost price fee payment subscription"},
	{"features", "features capabilities functionality benefits"},
	{"support", "support help assistance contact customer service"},
	{"documentation", "documentation docs guide manual tutorial"},
}

// Invalidate drops cached searches and answers for a tenant.
func (r *Retriever) Invalidate(ctx context.Context, tenantID string) {
	if r.cache == nil {
		return
	}
	for _, prefix := range []string{"search:", "answer:"} {
		n, err := r.cache.DeletePattern(ctx, prefix+tenantID+":*")
		if err != nil {
			r.logger.Warn("cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		r.logger.Debug("cache invalidated", zap.String("tenant_id", tenantID), zap.String("prefix", prefix), zap.Int("keys", n))
	}
}

func dedupeByURL(results []entity.SearchResult) []entity.SearchResult {
	best := make(map[string]int, len(results))
	var out []entity.SearchResult
	for _, res := range results {
		if i, ok := best[res.URL]; ok {
			if res.Score > out[i].Score {
				out[i] = res
			}
			continue
		}
		best[res.URL] = len(out)
		out = append(out, res)
	}
	return out
}

func sortByScore(results []entity.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func rank(results []entity.SearchResult, limit int) []entity.SearchResult {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func searchCacheKey(tenantID, query string, opts entity.SearchOptions) string {
	sig := fmt.Sprintf("%s|%s|%d|%.3f", query, opts.Mode, opts.Limit, opts.MinScore)
	return "search:" + tenantID + ":" + utils.HashString(sig)
}

func (r *Retriever) cached(ctx context.Context, key string) ([]entity.SearchResult, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var results []entity.SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (r *Retriever) store(ctx context.Context, key string, results []entity.SearchResult) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, raw, r.cfg.CacheTTL); err != nil {
		r.logger.Debug("search cache write failed", zap.Error(err))
	}
}
