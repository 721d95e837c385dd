package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/metrics"
	"github.com/user/rag-service/pkg/retry"
	"github.com/user/rag-service/pkg/utils"
)

const (
	defaultNoDataResponse = "I couldn't find relevant information to answer your question. Please try rephrasing or ask about something else."
	defaultDisplayName    = "our company"
	streamFailureMessage  = "I encountered an error while processing your question. Please try again."
	maxSources            = 3
	snippetLength         = 200
)

var noAnswerPhrases = []string{
	"does not contain any information",
	"cannot provide an answer",
	"cannot answer",
	"don't have information",
	"no information",
	"not found in the context",
	"context does not contain",
	"provided context does not",
}

// Searcher is the retrieval step of the answer pipeline.
type Searcher interface {
	Search(ctx context.Context, query, tenantID string, opts entity.SearchOptions) ([]entity.SearchResult, error)
}

// RAGConfig holds answer synthesis settings.
type RAGConfig struct {
	Temperature     float64
	MaxTokens       int
	MaxContextChars int
	TopK            int
	MinScore        float64
	CacheTTL        time.Duration
	CompleteRetries int
	RetryDelay      time.Duration
}

func (c RAGConfig) withDefaults() RAGConfig {
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = 3000
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.3
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.CompleteRetries <= 0 {
		c.CompleteRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// AnswerOptions tunes a single question.
type AnswerOptions struct {
	Limit    int
	MinScore float64
	Mode     entity.SearchMode
	// ConversationContext is prepended to the question sent to the model.
	// Retrieval always uses the bare query.
	ConversationContext string
	SessionID           string
	SkipCache           bool
}

// AnswerStream is a streaming answer. Sources are known before the first
// token. Events ends with exactly one done or error event unless the caller
// cancels the context.
type AnswerStream struct {
	Sources []entity.Source
	Events  <-chan entity.StreamEvent
}

// CitedAnswer is an answer whose text refers to numbered sources.
type CitedAnswer struct {
	Answer    string          `json:"answer"`
	Citations []entity.Source `json:"citations"`
}

// RAGService answers questions from a tenant's indexed content.
type RAGService struct {
	search   Searcher
	llm      repository.CompletionProvider
	tenants  repository.TenantRepository
	cache    repository.CacheRepository
	queryLog repository.QueryLogRepository
	cfg      RAGConfig
	logger   *zap.Logger
}

// NewRAGService creates a RAGService. cache and queryLog may be nil.
func NewRAGService(
	search Searcher,
	llm repository.CompletionProvider,
	tenants repository.TenantRepository,
	cache repository.CacheRepository,
	queryLog repository.QueryLogRepository,
	cfg RAGConfig,
	logger *zap.Logger,
) *RAGService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGService{
		search:   search,
		llm:      llm,
		tenants:  tenants,
		cache:    cache,
		queryLog: queryLog,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// answerPlan is everything decided before the model is called.
type answerPlan struct {
	tenant   *entity.Tenant
	results  []entity.SearchResult
	messages []entity.Message
	context  string
	noData   string
}

// admit validates the request and resolves an active tenant.
func (s *RAGService) admit(ctx context.Context, query, tenantID string) (*entity.Tenant, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	return s.tenant(ctx, tenantID)
}

func (s *RAGService) searchOptions(opts AnswerOptions) entity.SearchOptions {
	so := entity.SearchOptions{
		Limit:     opts.Limit,
		MinScore:  opts.MinScore,
		Mode:      opts.Mode,
		SkipCache: opts.SkipCache,
	}
	if so.Limit <= 0 {
		so.Limit = s.cfg.TopK
	}
	if so.MinScore <= 0 {
		so.MinScore = s.cfg.MinScore
	}
	return so
}

func (s *RAGService) prepare(ctx context.Context, query, tenantID string, opts AnswerOptions) (*answerPlan, error) {
	tenant, err := s.admit(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	return s.buildPlan(ctx, tenant, query, tenantID, opts)
}

func (s *RAGService) buildPlan(ctx context.Context, tenant *entity.Tenant, query, tenantID string, opts AnswerOptions) (*answerPlan, error) {
	results, err := s.search.Search(ctx, query, tenantID, s.searchOptions(opts))
	if err != nil {
		return nil, err
	}

	plan := &answerPlan{tenant: tenant, results: results, noData: noDataResponse(tenant)}
	if len(results) == 0 {
		return plan, nil
	}
	plan.context = BuildContext(results, s.cfg.MaxContextChars)
	question := query
	if opts.ConversationContext != "" {
		question = opts.ConversationContext + fmt.Sprintf("Current question: %q", query)
	}
	plan.messages = []entity.Message{
		{Role: entity.RoleSystem, Content: systemPrompt(displayName(tenant), false)},
		{Role: entity.RoleUser, Content: userPrompt(plan.context, question)},
	}
	return plan, nil
}

// Answer runs retrieval and a blocking completion. When nothing is
// retrieved the tenant's no-data message is returned without calling the
// model.
func (s *RAGService) Answer(ctx context.Context, query, tenantID string, opts AnswerOptions) (*entity.AnswerResponse, error) {
	start := time.Now()
	tenant, err := s.admit(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}

	cacheKey := ""
	if opts.ConversationContext == "" && !opts.SkipCache {
		cacheKey = answerCacheKey(tenantID, query, s.searchOptions(opts))
		if cached, ok := s.cachedAnswer(ctx, cacheKey); ok {
			cached.ResponseTime = time.Since(start)
			cached.SessionID = opts.SessionID
			return cached, nil
		}
	}

	plan, err := s.buildPlan(ctx, tenant, query, tenantID, opts)
	if err != nil {
		return nil, err
	}
	if len(plan.results) == 0 {
		resp := &entity.AnswerResponse{
			Answer:       plan.noData,
			Sources:      []entity.Source{},
			Confidence:   entity.ConfidenceLow,
			ResponseTime: time.Since(start),
			SessionID:    opts.SessionID,
		}
		s.finish(ctx, tenantID, query, resp)
		return resp, nil
	}

	var answer string
	err = retry.Do(ctx, retry.Policy{MaxAttempts: s.cfg.CompleteRetries, BaseDelay: s.cfg.RetryDelay}, func(ctx context.Context) error {
		var cerr error
		answer, cerr = s.llm.Complete(ctx, plan.messages, s.completionOptions())
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	if IsNoAnswer(answer) && plan.tenant.NoDataResponse != "" {
		answer = plan.tenant.NoDataResponse
	}

	resp := &entity.AnswerResponse{
		Answer:       answer,
		Sources:      BuildSources(plan.results, query),
		Confidence:   Confidence(plan.results),
		ResponseTime: time.Since(start),
		TokensUsed:   estimateCompletionTokens(plan.context + answer),
		SessionID:    opts.SessionID,
	}
	if cacheKey != "" {
		s.storeAnswer(ctx, cacheKey, resp)
	}
	s.finish(ctx, tenantID, query, resp)
	return resp, nil
}

// StreamAnswer is Answer with the completion forwarded token by token.
// Cancelling ctx stops forwarding and aborts the completion request.
func (s *RAGService) StreamAnswer(ctx context.Context, query, tenantID string, opts AnswerOptions) (*AnswerStream, error) {
	start := time.Now()
	plan, err := s.prepare(ctx, query, tenantID, opts)
	if err != nil {
		return nil, err
	}

	events := make(chan entity.StreamEvent)
	if len(plan.results) == 0 {
		resp := &entity.AnswerResponse{
			Answer:     plan.noData,
			Sources:    []entity.Source{},
			Confidence: entity.ConfidenceLow,
			SessionID:  opts.SessionID,
		}
		go func() {
			defer close(events)
			if !send(ctx, events, entity.StreamEvent{Type: entity.EventToken, Content: plan.noData}) {
				return
			}
			resp.ResponseTime = time.Since(start)
			s.finish(ctx, tenantID, query, resp)
			send(ctx, events, entity.StreamEvent{Type: entity.EventDone, Done: resp})
		}()
		return &AnswerStream{Sources: resp.Sources, Events: events}, nil
	}

	sources := BuildSources(plan.results, query)
	go func() {
		defer close(events)
		var answer strings.Builder
		err := s.llm.Stream(ctx, plan.messages, s.completionOptions(), func(token string) error {
			answer.WriteString(token)
			if !send(ctx, events, entity.StreamEvent{Type: entity.EventToken, Content: token}) {
				return ctx.Err()
			}
			return nil
		})
		if ctx.Err() != nil {
			s.logger.Debug("answer stream cancelled", zap.String("tenant_id", tenantID))
			return
		}
		if err != nil {
			s.logger.Error("answer stream failed", zap.String("tenant_id", tenantID), zap.Error(err))
			send(ctx, events, entity.StreamEvent{Type: entity.EventError, Error: streamFailureMessage})
			return
		}
		resp := &entity.AnswerResponse{
			Answer:       answer.String(),
			Sources:      sources,
			Confidence:   Confidence(plan.results),
			ResponseTime: time.Since(start),
			TokensUsed:   estimateCompletionTokens(plan.context + answer.String()),
			SessionID:    opts.SessionID,
		}
		s.finish(ctx, tenantID, query, resp)
		send(ctx, events, entity.StreamEvent{Type: entity.EventDone, Done: resp})
	}()
	return &AnswerStream{Sources: sources, Events: events}, nil
}

// AnswerWithCitations numbers every retrieved source and asks the model to
// cite them inline as [n].
func (s *RAGService) AnswerWithCitations(ctx context.Context, query, tenantID string, opts AnswerOptions) (*CitedAnswer, error) {
	opts.ConversationContext = ""
	plan, err := s.prepare(ctx, query, tenantID, opts)
	if err != nil {
		return nil, err
	}
	if len(plan.results) == 0 {
		return &CitedAnswer{Answer: plan.noData, Citations: []entity.Source{}}, nil
	}

	var b strings.Builder
	citations := make([]entity.Source, 0, len(plan.results))
	for i, r := range plan.results {
		entry := fmt.Sprintf("[%d] %s\n%s\n\n", i+1, titleOrUntitled(r.Title), r.Text)
		if b.Len() > 0 && b.Len()+len(entry) > s.cfg.MaxContextChars {
			break
		}
		b.WriteString(entry)
		citations = append(citations, entity.Source{Index: i + 1, URL: r.URL, Title: r.Title, Score: r.Score})
	}
	messages := []entity.Message{
		{Role: entity.RoleSystem, Content: systemPrompt(displayName(plan.tenant), true)},
		{Role: entity.RoleUser, Content: userPrompt(strings.TrimSpace(b.String()), query)},
	}
	answer, err := s.llm.Complete(ctx, messages, s.completionOptions())
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	return &CitedAnswer{Answer: answer, Citations: citations}, nil
}

func (s *RAGService) completionOptions() repository.CompletionOptions {
	return repository.CompletionOptions{Temperature: s.cfg.Temperature, MaxTokens: s.cfg.MaxTokens}
}

func (s *RAGService) tenant(ctx context.Context, tenantID string) (*entity.Tenant, error) {
	if s.tenants == nil {
		return &entity.Tenant{ID: tenantID}, nil
	}
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("tenant lookup failed, using defaults", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return &entity.Tenant{ID: tenantID}, nil
	}
	if !t.Active() {
		return nil, ErrTenantInactive
	}
	return t, nil
}

func (s *RAGService) finish(ctx context.Context, tenantID, query string, resp *entity.AnswerResponse) {
	metrics.AnswersTotal.WithLabelValues(string(resp.Confidence)).Inc()
	if s.queryLog == nil {
		return
	}
	entry := &entity.QueryLog{
		TenantID:     tenantID,
		SessionID:    resp.SessionID,
		Query:        query,
		Answer:       resp.Answer,
		Sources:      resp.Sources,
		Confidence:   resp.Confidence,
		ResponseTime: resp.ResponseTime,
		TokensUsed:   resp.TokensUsed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.queryLog.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to record query", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// answerCacheKey keeps the "answer:<tenant>:" prefix that invalidation
// sweeps; the retrieval options are part of the hash.
func answerCacheKey(tenantID, query string, opts entity.SearchOptions) string {
	return "answer:" + tenantID + ":" + utils.HashString(fmt.Sprintf("%s|%s|%d|%g", query, opts.Mode, opts.Limit, opts.MinScore))
}

func (s *RAGService) cachedAnswer(ctx context.Context, key string) (*entity.AnswerResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var resp entity.AnswerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (s *RAGService) storeAnswer(ctx context.Context, key string, resp *entity.AnswerResponse) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cfg.CacheTTL); err != nil {
		s.logger.Debug("answer cache write failed", zap.Error(err))
	}
}

func send(ctx context.Context, ch chan<- entity.StreamEvent, ev entity.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func noDataResponse(t *entity.Tenant) string {
	if t != nil && t.NoDataResponse != "" {
		return t.NoDataResponse
	}
	return defaultNoDataResponse
}

func displayName(t *entity.Tenant) string {
	if t == nil {
		return defaultDisplayName
	}
	if t.DisplayName != "" {
		return t.DisplayName
	}
	if t.Name != "" {
		return t.Name
	}
	return defaultDisplayName
}

func systemPrompt(name string, citations bool) string {
	lines := []string{
		fmt.Sprintf("You are an expert customer support assistant for %s and its services.", name),
		"Answer questions directly and naturally as if you're having a conversation.",
		"Use the information provided to give accurate, helpful answers.",
		`Do NOT mention "the context" or "according to the context" in your responses.`,
		`Do NOT say things like "the provided context includes" or "based on the context".`,
		"Simply answer the question directly using the information available.",
	}
	if citations {
		lines = append(lines,
			"When answering, cite sources using [1], [2], etc. format.",
			"Always cite the source when using information from it.")
	}
	lines = append(lines,
		"If you cannot answer based on the available information, politely say you don't have that specific information.",
		"Be professional, friendly, and conversational in tone.")
	return strings.Join(lines, "\n")
}

func userPrompt(contextText, question string) string {
	return "Here's some information that might help:\n\n" + contextText + "\n\nUser Question: " + question
}

// BuildContext concatenates results, one per URL, until maxChars is reached.
// An oversized first entry is truncated rather than dropped.
func BuildContext(results []entity.SearchResult, maxChars int) string {
	var b strings.Builder
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.URL] {
			continue
		}
		entry := fmt.Sprintf("Source: %s (%s)\n%s\n\n", titleOrUntitled(r.Title), r.URL, r.Text)
		if b.Len()+len(entry) > maxChars {
			if b.Len() == 0 {
				b.WriteString(truncateRunes(entry, maxChars))
			}
			break
		}
		b.WriteString(entry)
		seen[r.URL] = true
	}
	return strings.TrimSpace(b.String())
}

func titleOrUntitled(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}

// IsNoAnswer reports whether a model answer admits it could not answer.
func IsNoAnswer(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range noAnswerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Confidence labels a result set. High needs top > 0.85 and mean > 0.75,
// medium needs top > 0.75 and mean > 0.65.
func Confidence(results []entity.SearchResult) entity.Confidence {
	if len(results) == 0 {
		return entity.ConfidenceLow
	}
	top := results[0].Score
	sum := 0.0
	for _, r := range results {
		sum += r.Score
		top = math.Max(top, r.Score)
	}
	mean := sum / float64(len(results))
	switch {
	case top > 0.85 && mean > 0.75:
		return entity.ConfidenceHigh
	case top > 0.75 && mean > 0.65:
		return entity.ConfidenceMedium
	default:
		return entity.ConfidenceLow
	}
}

// BuildSources cites the top results with a query-centred snippet each.
func BuildSources(results []entity.SearchResult, query string) []entity.Source {
	n := min(len(results), maxSources)
	sources := make([]entity.Source, 0, n)
	for _, r := range results[:n] {
		sources = append(sources, entity.Source{
			URL:     r.URL,
			Title:   r.Title,
			Score:   r.Score,
			Snippet: Snippet(r.Text, query, snippetLength),
		})
	}
	return sources
}

// Snippet picks the window of maxLen runes containing the most query words,
// moves its start to a nearby sentence boundary and marks truncation with
// ellipses.
func Snippet(text, query string, maxLen int) string {
	if text == "" {
		return ""
	}
	runes := []rune(text)
	lower := []rune(strings.ToLower(text))
	if len(lower) != len(runes) {
		lower = runes
	}
	words := strings.Fields(strings.ToLower(query))

	bestStart, bestScore := 0, 0
	for i := 0; i+maxLen < len(runes); i++ {
		window := string(lower[i : i+maxLen])
		score := 0
		for _, w := range words {
			if strings.Contains(window, w) {
				score++
			}
		}
		if score > bestScore {
			bestScore, bestStart = score, i
		}
	}

	end := min(bestStart+maxLen, len(runes))
	snippet := string(runes[bestStart:end])
	if idx := strings.Index(snippet, ". "); idx > 0 && utf8.RuneCountInString(snippet[:idx]) < 50 {
		snippet = snippet[idx+2:]
	}
	if bestStart > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return strings.TrimSpace(snippet)
}

func estimateCompletionTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
