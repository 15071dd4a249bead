package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
)

// JobScheduler queues the periodic trigger jobs.
type JobScheduler interface {
	ScheduleProcessQueue(ctx context.Context) error
	ScheduleCatalogRebuild(ctx context.Context) error
}

// CacheChecker reports catalog freshness without rebuilding inline.
type CacheChecker interface {
	Enabled() bool
	EnsureValid(ctx context.Context, rebuild bool) (bool, error)
}

// Scheduler fires the recurring queue run and the catalog freshness check.
type Scheduler struct {
	jobs         JobScheduler
	cache        CacheChecker
	processEvery time.Duration
	cacheEvery   time.Duration
	log          *zap.Logger
}

func NewScheduler(jobs JobScheduler, cache CacheChecker, cfg config.SyncConfig, log *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:         jobs,
		cache:        cache,
		processEvery: cfg.ProcessInterval(),
		cacheEvery:   cfg.CacheCheckEvery,
		log:          log.Named("scheduler"),
	}
}

// Serve runs until the context ends. It satisfies suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	process := time.NewTicker(s.processEvery)
	defer process.Stop()
	check := time.NewTicker(s.cacheEvery)
	defer check.Stop()

	s.CheckCache(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-process.C:
			if err := s.jobs.ScheduleProcessQueue(ctx); err != nil {
				s.log.Warn("schedule queue run failed", zap.Error(err))
			}
		case <-check.C:
			s.CheckCache(ctx)
		}
	}
}

// CheckCache drops expired snapshots and schedules a rebuild when caching is
// on and the catalog is not valid.
func (s *Scheduler) CheckCache(ctx context.Context) {
	if !s.cache.Enabled() {
		return
	}
	valid, err := s.cache.EnsureValid(ctx, false)
	if err != nil {
		s.log.Warn("catalog check failed", zap.Error(err))
		return
	}
	if valid {
		return
	}
	if err := s.jobs.ScheduleCatalogRebuild(ctx); err != nil {
		s.log.Warn("schedule catalog rebuild failed", zap.Error(err))
		return
	}
	s.log.Info("catalog stale, rebuild scheduled")
}
