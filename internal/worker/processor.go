package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"zoho-order-sync/internal/catalog"
	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/pipeline"
	"zoho-order-sync/internal/queue"
	"zoho-order-sync/internal/telemetry"
)

// TriggerQueue is the leasing side of the Redis trigger queue.
type TriggerQueue interface {
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	Ack(ctx context.Context, jobID string) error
	ReadyDepth(ctx context.Context) (int64, error)
}

// Handler executes one trigger job. orderID is zero for jobs without one.
type Handler func(ctx context.Context, orderID int64) error

// SyncRunner is the sync entry point the handlers call.
type SyncRunner interface {
	ProcessQueue(ctx context.Context) (pipeline.Summary, error)
	PushPending(ctx context.Context, orderID int64) (pipeline.Result, bool, error)
}

// CatalogRebuilder refreshes the catalog snapshots.
type CatalogRebuilder interface {
	Rebuild(ctx context.Context) error
}

// Processor drives the worker execution loop.
type Processor struct {
	cfg      config.WorkerConfig
	queue    TriggerQueue
	handlers map[queue.JobKind]Handler
	log      *zap.Logger
}

func NewProcessor(cfg config.WorkerConfig, q TriggerQueue, log *zap.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[queue.JobKind]Handler),
		log:      log.Named("processor"),
	}
}

// RegisterHandler binds a handler to a job kind.
func (p *Processor) RegisterHandler(kind queue.JobKind, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	p.handlers[kind] = handler
}

// RegisterSyncHandlers binds the three trigger kinds to the sync components.
func (p *Processor) RegisterSyncHandlers(runner SyncRunner, rebuilder CatalogRebuilder) {
	p.RegisterHandler(queue.KindPushOrder, func(ctx context.Context, orderID int64) error {
		res, pushed, err := runner.PushPending(ctx, orderID)
		if err != nil {
			return err
		}
		if pushed && !res.OK() {
			return fmt.Errorf("push order %d: %s", orderID, res.Message)
		}
		return nil
	})
	p.RegisterHandler(queue.KindProcessQueue, func(ctx context.Context, _ int64) error {
		_, err := runner.ProcessQueue(ctx)
		return err
	})
	p.RegisterHandler(queue.KindRebuildCatalog, func(ctx context.Context, _ int64) error {
		err := rebuilder.Rebuild(ctx)
		if errors.Is(err, catalog.ErrRebuildInProgress) {
			p.log.Info("catalog rebuild already running")
			return nil
		}
		return err
	})
}

// Serve runs the loop until the context ends. It satisfies suture.Service.
func (p *Processor) Serve(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		handled, err := p.RunOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			failures++
			wait = backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, failures)
			p.log.Warn("trigger queue unavailable", zap.Error(err), zap.Duration("retry_in", wait))
		case !handled:
			failures = 0
			wait = p.cfg.PollInterval
		default:
			failures = 0
		}
		if wait == 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce promotes due jobs, reclaims expired leases, then handles at most
// one ready job. It reports whether a job was handled. Errors come only from
// the trigger queue; handler failures are logged and the job is acked.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	now := time.Now()
	if _, err := p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize)); err != nil {
		return false, fmt.Errorf("promote scheduled: %w", err)
	}
	if reclaimed, err := p.queue.RequeueExpired(ctx, now, 100); err != nil {
		return false, fmt.Errorf("requeue expired: %w", err)
	} else if len(reclaimed) > 0 {
		telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
		p.log.Warn("reclaimed expired leases", zap.Strings("jobs", reclaimed))
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.TriggerDepthGauge.Set(float64(depth))
	}

	jobID, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if jobID == "" {
		return false, nil
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	kind, orderID, err := queue.ParseJob(jobID)
	if err != nil {
		p.log.Error("dropping unknown job", zap.String("job", jobID), zap.Error(err))
		telemetry.TriggerJobs.WithLabelValues("unknown", "error").Inc()
		p.ack(ctx, jobID)
		return true, nil
	}

	err = p.runJob(ctx, jobID, kind, orderID)
	result := "ok"
	if err != nil {
		result = "error"
		p.log.Warn("job failed", zap.String("job", jobID), zap.Error(err))
	}
	telemetry.TriggerJobs.WithLabelValues(string(kind), result).Inc()
	p.ack(ctx, jobID)
	return true, nil
}

// runJob executes the handler while keeping its lease alive.
func (p *Processor) runJob(ctx context.Context, jobID string, kind queue.JobKind, orderID int64) error {
	handler, ok := p.handlers[kind]
	if !ok {
		return fmt.Errorf("no handler registered for %q", kind)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.keepLease(jobCtx, jobID)
	}()
	defer func() {
		cancel()
		<-done
	}()

	return handler(jobCtx, orderID)
}

func (p *Processor) keepLease(ctx context.Context, jobID string) {
	every := p.cfg.VisibilityTimeout / 2
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, jobID, p.cfg.VisibilityTimeout); err != nil {
				p.log.Warn("extend lease failed", zap.String("job", jobID), zap.Error(err))
			}
		}
	}
}

func (p *Processor) ack(ctx context.Context, jobID string) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		p.log.Warn("ack failed", zap.String("job", jobID), zap.Error(err))
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
