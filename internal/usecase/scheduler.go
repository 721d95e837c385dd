package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/internal/repository"
)

// JobSubmitter starts crawl jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, tenantID string, req CrawlJobRequest) (*entity.CrawlJob, error)
}

// Scheduler starts recrawls for tenants whose cron schedule is due.
type Scheduler struct {
	tenants  repository.TenantRepository
	jobs     JobSubmitter
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewScheduler(tenants repository.TenantRepository, jobs JobSubmitter, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{tenants: tenants, jobs: jobs, interval: interval, logger: logger, now: time.Now}
}

// Start checks schedules every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick submits a job for every due tenant and advances its next run. It
// returns the submitted jobs.
func (s *Scheduler) Tick(ctx context.Context) ([]*entity.CrawlJob, error) {
	tenants, err := s.tenants.ListScheduled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tenants: %w", err)
	}
	now := s.now().UTC()
	var started []*entity.CrawlJob
	for _, t := range tenants {
		expr, err := cronexpr.Parse(t.CrawlSchedule)
		if err != nil {
			s.logger.Warn("invalid crawl schedule", zap.String("tenant_id", t.ID), zap.String("schedule", t.CrawlSchedule), zap.Error(err))
			continue
		}
		next := expr.Next(now)

		// A tenant seen for the first time is only scheduled, not crawled.
		if t.NextScheduledCrawl == nil {
			s.setNext(ctx, t.ID, next)
			continue
		}
		if t.NextScheduledCrawl.After(now) {
			continue
		}

		job, err := s.jobs.Submit(ctx, t.ID, CrawlJobRequest{})
		if err != nil {
			s.logger.Warn("scheduled crawl not started", zap.String("tenant_id", t.ID), zap.Error(err))
		} else {
			s.logger.Info("scheduled crawl started", zap.String("tenant_id", t.ID), zap.String("job_id", job.ID))
			started = append(started, job)
		}
		s.setNext(ctx, t.ID, next)
	}
	return started, nil
}

func (s *Scheduler) setNext(ctx context.Context, tenantID string, next time.Time) {
	if next.IsZero() {
		return
	}
	if err := s.tenants.SetNextCrawl(ctx, tenantID, next); err != nil {
		s.logger.Warn("failed to store next crawl", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
