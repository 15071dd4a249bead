package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
)

type countingJobs struct {
	processRuns atomic.Int32
	rebuilds    atomic.Int32
}

func (c *countingJobs) ScheduleProcessQueue(context.Context) error {
	c.processRuns.Add(1)
	return nil
}

func (c *countingJobs) ScheduleCatalogRebuild(context.Context) error {
	c.rebuilds.Add(1)
	return nil
}

type stubCache struct {
	enabled bool
	valid   bool
	err     error
	checks  atomic.Int32
}

func (s *stubCache) Enabled() bool { return s.enabled }

func (s *stubCache) EnsureValid(_ context.Context, rebuild bool) (bool, error) {
	s.checks.Add(1)
	if rebuild {
		return false, errors.New("scheduler must not rebuild inline")
	}
	return s.valid, s.err
}

func TestCheckCache(t *testing.T) {
	tests := []struct {
		name     string
		cache    *stubCache
		rebuilds int32
	}{
		{"disabled", &stubCache{enabled: false}, 0},
		{"valid", &stubCache{enabled: true, valid: true}, 0},
		{"stale", &stubCache{enabled: true, valid: false}, 1},
		{"check error", &stubCache{enabled: true, err: errors.New("s3 down")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &countingJobs{}
			s := NewScheduler(jobs, tt.cache, config.SyncConfig{OrdersRecurrence: "hourly", CacheCheckEvery: time.Minute}, zap.NewNop())
			s.CheckCache(context.Background())
			assert.Equal(t, tt.rebuilds, jobs.rebuilds.Load())
		})
	}
}

func TestSchedulerServe(t *testing.T) {
	jobs := &countingJobs{}
	cache := &stubCache{enabled: true, valid: false}
	s := NewScheduler(jobs, cache, config.SyncConfig{OrdersRecurrence: "hourly", CacheCheckEvery: time.Minute}, zap.NewNop())
	s.processEvery = 5 * time.Millisecond
	s.cacheEvery = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return jobs.processRuns.Load() >= 2 && jobs.rebuilds.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSchedulerIntervalsFromConfig(t *testing.T) {
	s := NewScheduler(&countingJobs{}, &stubCache{}, config.SyncConfig{OrdersRecurrence: "twicedaily", CacheCheckEvery: 15 * time.Minute}, zap.NewNop())
	assert.Equal(t, 12*time.Hour, s.processEvery)
	assert.Equal(t, 15*time.Minute, s.cacheEvery)

	s = NewScheduler(&countingJobs{}, &stubCache{}, config.SyncConfig{OrdersRecurrence: "directly", CacheCheckEvery: time.Minute}, zap.NewNop())
	assert.Equal(t, time.Hour, s.processEvery)
}
