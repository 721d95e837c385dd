package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/metrics"
	"github.com/user/rag-service/pkg/utils"
)

// ErrTargetUnreachable is returned when not a single page of a site could be
// fetched.
var ErrTargetUnreachable = errors.New("crawl target unreachable")

// CrawlerConfig holds the fallbacks for unset crawl settings.
type CrawlerConfig struct {
	UserAgent   string
	Concurrency int
	Delay       time.Duration
	MaxPages    int
	// IgnoreRobots turns robots.txt off for settings that leave it unset.
	IgnoreRobots bool
}

func (c CrawlerConfig) withDefaults() CrawlerConfig {
	if c.UserAgent == "" {
		c.UserAgent = "RAG-Bot/1.0 (Compatible; AI Content Indexer)"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	return c
}

// CrawlRequest describes one site walk.
type CrawlRequest struct {
	JobID    string
	TenantID string
	Seed     string
	// Pages, when set, are fetched instead of following links from Seed.
	Pages    []string
	Settings entity.CrawlSettings
}

// CrawlResult is what a walk produced.
type CrawlResult struct {
	Pages   []*entity.Page
	Errors  []entity.CrawlError
	Visited int
	Bytes   int64
}

// PageHandler is called for every fetched page. An error is recorded against
// the page and the crawl continues.
type PageHandler func(ctx context.Context, page *entity.Page) error

// Crawler defines the breadth-first site walker.
type Crawler interface {
	Crawl(ctx context.Context, req CrawlRequest, onPage PageHandler) (*CrawlResult, error)
}

type crawlerUseCase struct {
	fetcher  repository.PageFetcher
	robots   repository.RobotsPolicy
	frontier repository.FrontierRepository
	visited  repository.VisitedRepository
	logs     repository.LogSink
	cfg      CrawlerConfig
	logger   *zap.Logger
}

// NewCrawlerUseCase creates a new instance of the crawler use case. robots
// and logs may be nil.
func NewCrawlerUseCase(
	fetcher repository.PageFetcher,
	robots repository.RobotsPolicy,
	frontier repository.FrontierRepository,
	visited repository.VisitedRepository,
	logs repository.LogSink,
	cfg CrawlerConfig,
	logger *zap.Logger,
) Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &crawlerUseCase{
		fetcher:  fetcher,
		robots:   robots,
		frontier: frontier,
		visited:  visited,
		logs:     logs,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// walk is the mutable state of one Crawl call.
type walk struct {
	mu     sync.Mutex
	result CrawlResult
}

func (w *walk) fail(rawURL string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.result.Errors = append(w.result.Errors, entity.CrawlError{URL: rawURL, Message: err.Error(), Timestamp: time.Now().UTC()})
}

func (w *walk) done(page *entity.Page) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.result.Pages = append(w.result.Pages, page)
	w.result.Bytes += page.Bytes
}

// Crawl drains the frontier in waves of at most Concurrency fetches until it
// is empty or MaxPages URLs were visited.
func (uc *crawlerUseCase) Crawl(ctx context.Context, req CrawlRequest, onPage PageHandler) (*CrawlResult, error) {
	settings := uc.resolve(req.Settings)
	seed, err := utils.NormalizeURL(utils.EnsureScheme(req.Seed))
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", req.Seed, err)
	}
	jobKey := req.JobID + ":" + utils.HashURL(seed)
	defer uc.cleanup(jobKey)
	defer metrics.FrontierSize.DeleteLabelValues(req.JobID)

	start := []string{seed}
	follow := len(req.Pages) == 0
	if !follow {
		start = start[:0]
		base, _ := url.Parse(seed)
		for _, p := range req.Pages {
			if abs, err := utils.ResolveURL(base, p); err == nil {
				start = append(start, abs)
			}
		}
	}
	if _, err := uc.frontier.Push(ctx, jobKey, start...); err != nil {
		return nil, fmt.Errorf("seed frontier: %w", err)
	}

	rules := uc.loadRobots(ctx, req.JobID, seed, settings)
	uc.jobLog(ctx, req.JobID, "info", fmt.Sprintf("Starting crawl of %s (max %d pages)", seed, settings.MaxPages))

	w := &walk{}
	for {
		if err := ctx.Err(); err != nil {
			return &w.result, err
		}
		visited, err := uc.visited.Count(ctx, jobKey)
		if err != nil {
			return &w.result, fmt.Errorf("count visited: %w", err)
		}
		room := settings.MaxPages - int(visited)
		if room <= 0 {
			break
		}
		batch, err := uc.frontier.Pop(ctx, jobKey, min(settings.Concurrency, room))
		if err != nil {
			return &w.result, fmt.Errorf("pop frontier: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(settings.Concurrency)
		for _, target := range batch {
			target := target
			g.Go(func() error {
				uc.visit(ctx, req, jobKey, seed, target, settings, rules, follow, onPage, w)
				return nil
			})
		}
		_ = g.Wait()

		if size, err := uc.frontier.Size(ctx, jobKey); err == nil {
			metrics.FrontierSize.WithLabelValues(req.JobID).Set(float64(size))
		}
	}

	if n, err := uc.visited.Count(ctx, jobKey); err == nil {
		w.result.Visited = int(n)
	}
	uc.jobLog(ctx, req.JobID, "info", fmt.Sprintf("Crawl of %s finished: %d pages, %d errors",
		seed, len(w.result.Pages), len(w.result.Errors)))

	if len(w.result.Pages) == 0 && len(w.result.Errors) > 0 {
		return &w.result, fmt.Errorf("%w: %s: %s", ErrTargetUnreachable, seed, w.result.Errors[0].Message)
	}
	return &w.result, nil
}

func (uc *crawlerUseCase) visit(
	ctx context.Context,
	req CrawlRequest,
	jobKey, seed, target string,
	settings entity.CrawlSettings,
	rules repository.RobotsRules,
	follow bool,
	onPage PageHandler,
	w *walk,
) {
	if rules != nil && !rules.Allowed(target) {
		uc.logger.Debug("blocked by robots.txt", zap.String("url", target))
		metrics.CrawlPagesTotal.WithLabelValues("skipped").Inc()
		return
	}
	if !utils.PathAllowed(target, settings.AllowedPaths, settings.ExcludedPaths) {
		metrics.CrawlPagesTotal.WithLabelValues("skipped").Inc()
		return
	}
	fresh, err := uc.visited.MarkVisited(ctx, jobKey, target)
	if err != nil {
		w.fail(target, fmt.Errorf("mark visited: %w", err))
		return
	}
	if !fresh {
		return
	}

	started := time.Now()
	page, err := uc.fetcher.Fetch(ctx, target, seed, settings.UserAgent)
	host := "unknown"
	if u, perr := url.Parse(target); perr == nil {
		host = u.Hostname()
	}
	metrics.CrawlDuration.WithLabelValues(host).Observe(time.Since(started).Seconds())

	if err != nil {
		uc.logger.Warn("failed to crawl", zap.String("url", target), zap.String("job_id", req.JobID), zap.Error(err))
		metrics.CrawlPagesTotal.WithLabelValues("failed").Inc()
		uc.jobLog(ctx, req.JobID, "error", fmt.Sprintf("Failed to crawl %s: %v", target, err))
		w.fail(target, err)
		uc.pause(ctx, settings.CrawlDelay())
		return
	}
	metrics.CrawlPagesTotal.WithLabelValues("crawled").Inc()
	page.TenantID = req.TenantID

	if follow {
		var links []string
		for _, l := range page.Links {
			if utils.IsSameDomain(l, seed) {
				links = append(links, l)
			}
		}
		if len(links) > 0 {
			if _, err := uc.frontier.Push(ctx, jobKey, links...); err != nil {
				uc.logger.Warn("failed to enqueue links", zap.String("url", target), zap.Error(err))
			}
		}
	}

	if onPage != nil {
		if err := onPage(ctx, page); err != nil {
			uc.jobLog(ctx, req.JobID, "error", fmt.Sprintf("Failed to process %s: %v", target, err))
			w.fail(target, err)
			uc.pause(ctx, settings.CrawlDelay())
			return
		}
	}
	w.done(page)
	uc.jobLog(ctx, req.JobID, "info", "Crawled "+target)
	uc.pause(ctx, settings.CrawlDelay())
}

func (uc *crawlerUseCase) resolve(s entity.CrawlSettings) entity.CrawlSettings {
	if s.MaxPages <= 0 {
		s.MaxPages = uc.cfg.MaxPages
	}
	if s.Concurrency <= 0 {
		s.Concurrency = uc.cfg.Concurrency
	}
	if s.CrawlDelayMS <= 0 {
		s.CrawlDelayMS = int(uc.cfg.Delay / time.Millisecond)
	}
	if s.RespectRobots == nil {
		respect := !uc.cfg.IgnoreRobots
		s.RespectRobots = &respect
	}
	if s.UserAgent == "" {
		s.UserAgent = uc.cfg.UserAgent
	}
	return s
}

func (uc *crawlerUseCase) loadRobots(ctx context.Context, jobID, seed string, s entity.CrawlSettings) repository.RobotsRules {
	if !s.ObeysRobots(true) || uc.robots == nil {
		return nil
	}
	rules, err := uc.robots.Load(ctx, seed, s.UserAgent)
	if err != nil {
		uc.logger.Warn("robots.txt unavailable, crawling unrestricted", zap.String("url", seed), zap.Error(err))
		uc.jobLog(ctx, jobID, "warn", "robots.txt unavailable for "+seed)
		return nil
	}
	return rules
}

func (uc *crawlerUseCase) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (uc *crawlerUseCase) cleanup(jobKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := uc.frontier.Clear(ctx, jobKey); err != nil {
		uc.logger.Warn("failed to clear frontier", zap.String("job_key", jobKey), zap.Error(err))
	}
	if err := uc.visited.Clear(ctx, jobKey); err != nil {
		uc.logger.Warn("failed to clear visited set", zap.String("job_key", jobKey), zap.Error(err))
	}
}

func (uc *crawlerUseCase) jobLog(ctx context.Context, jobID, level, message string) {
	if uc.logs == nil || jobID == "" {
		return
	}
	if err := uc.logs.Log(context.WithoutCancel(ctx), jobID, level, message); err != nil {
		uc.logger.Warn("log sink write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
