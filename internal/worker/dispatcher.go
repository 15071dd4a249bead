package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/queue"
	"zoho-order-sync/internal/telemetry"
)

// Mode decides whether a placed order is pushed right away or left for the
// periodic queue run.
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeDeferred  Mode = "deferred"
)

// ParseMode accepts "immediate" or "deferred". An empty string yields "" so
// callers fall back to the configured default.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeImmediate, ModeDeferred:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}

// ModeFromConfig maps the configured recurrence to a default mode.
func ModeFromConfig(cfg config.SyncConfig) Mode {
	if cfg.Immediate() {
		return ModeImmediate
	}
	return ModeDeferred
}

// OrderQueue is the durable sync queue.
type OrderQueue interface {
	Enqueue(ctx context.Context, orderID int64) (bool, error)
}

// Triggers is the Redis trigger queue as the dispatcher feeds it.
type Triggers interface {
	Enqueue(ctx context.Context, jobID string, runAt time.Time) error
	Schedule(ctx context.Context, jobID string, runAt time.Time) error
}

// Dispatcher turns domain events into sync queue entries and trigger jobs.
type Dispatcher struct {
	orders   OrderQueue
	triggers Triggers
	delay    time.Duration
	mode     Mode
	now      func() time.Time
	log      *zap.Logger
}

func NewDispatcher(orders OrderQueue, triggers Triggers, cfg config.SyncConfig, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		orders:   orders,
		triggers: triggers,
		delay:    cfg.ImmediateDelay,
		mode:     ModeFromConfig(cfg),
		now:      time.Now,
		log:      log.Named("dispatcher"),
	}
}

// DefaultMode is the mode used when a caller passes "".
func (d *Dispatcher) DefaultMode() Mode {
	return d.mode
}

// OrderPlaced records the order in the sync queue. In immediate mode a push
// is scheduled after the configured delay; a second event for the same order
// keeps the first schedule.
func (d *Dispatcher) OrderPlaced(ctx context.Context, orderID int64, mode Mode) error {
	if orderID <= 0 {
		return fmt.Errorf("order placed: invalid order id %d", orderID)
	}
	if mode == "" {
		mode = d.mode
	}

	created, err := d.orders.Enqueue(ctx, orderID)
	if err != nil {
		return fmt.Errorf("order placed: %w", err)
	}
	if created {
		telemetry.OrdersEnqueued.Inc()
	}
	d.log.Debug("order placed",
		zap.Int64("order_id", orderID),
		zap.String("mode", string(mode)),
		zap.Bool("created", created))

	if mode != ModeImmediate {
		return nil
	}
	if err := d.triggers.Schedule(ctx, queue.PushOrderJob(orderID), d.now().Add(d.delay)); err != nil {
		return fmt.Errorf("schedule push for order %d: %w", orderID, err)
	}
	return nil
}

// ScheduleCatalogRebuild asks a worker to refresh both catalog snapshots.
func (d *Dispatcher) ScheduleCatalogRebuild(ctx context.Context) error {
	return d.triggers.Enqueue(ctx, queue.RebuildCatalogJob, time.Time{})
}

// ScheduleProcessQueue asks a worker to attempt every pending order.
func (d *Dispatcher) ScheduleProcessQueue(ctx context.Context) error {
	return d.triggers.Enqueue(ctx, queue.ProcessQueueJob, time.Time{})
}
