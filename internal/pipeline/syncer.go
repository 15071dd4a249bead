package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"zoho-order-sync/internal/models"
	"zoho-order-sync/internal/telemetry"
)

// WorkQueue is the sync queue as the syncer drives it.
type WorkQueue interface {
	Queue
	Enqueue(ctx context.Context, orderID int64) (bool, error)
	Get(ctx context.Context, orderID int64) (models.QueueEntry, error)
	ListPending(ctx context.Context, maxTries int) ([]int64, error)
	CountPending(ctx context.Context, maxTries int) (int64, error)
}

// Processor runs one push attempt.
type Processor interface {
	Process(ctx context.Context, orderID int64) Result
}

// Summary counts the outcomes of one queue run.
type Summary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Syncer is the entry point the triggers call.
type Syncer struct {
	queue    WorkQueue
	pusher   Processor
	maxTries int
	log      *zap.Logger
}

func NewSyncer(queue WorkQueue, pusher Processor, maxTries int, log *zap.Logger) *Syncer {
	return &Syncer{queue: queue, pusher: pusher, maxTries: maxTries, log: log.Named("syncer")}
}

// ProcessQueue attempts every pending order once. Individual failures are
// recorded on the queue and counted, not returned.
func (s *Syncer) ProcessQueue(ctx context.Context) (Summary, error) {
	ids, err := s.queue.ListPending(ctx, s.maxTries)
	if err != nil {
		return Summary{}, fmt.Errorf("process queue: %w", err)
	}

	var sum Summary
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res := s.pusher.Process(ctx, id)
		sum.Attempted++
		if res.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}

	if n, err := s.queue.CountPending(ctx, s.maxTries); err == nil {
		telemetry.QueuePendingGauge.Set(float64(n))
	}
	s.log.Info("queue processed",
		zap.Int("attempted", sum.Attempted),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// PushOrder enqueues the order if needed and attempts it right away.
func (s *Syncer) PushOrder(ctx context.Context, orderID int64) (Result, error) {
	if err := s.enqueue(ctx, orderID); err != nil {
		return Result{}, err
	}
	return s.pusher.Process(ctx, orderID), nil
}

// PushPending is PushOrder for triggers that may be delivered more than once:
// an order that already synced or ran out of tries is reported, not pushed.
func (s *Syncer) PushPending(ctx context.Context, orderID int64) (Result, bool, error) {
	if err := s.enqueue(ctx, orderID); err != nil {
		return Result{}, false, err
	}
	entry, err := s.queue.Get(ctx, orderID)
	if err != nil {
		return Result{}, false, err
	}
	if entry.Status == models.StatusSuccess || entry.Exhausted(s.maxTries) {
		s.log.Debug("order not pending", zap.Int64("order_id", orderID),
			zap.String("status", string(entry.Status)), zap.Int("tries", entry.Tries))
		return Result{OrderID: orderID, Status: entry.Status, Kind: KindNone, Message: entry.Message}, false, nil
	}
	return s.pusher.Process(ctx, orderID), true, nil
}

func (s *Syncer) enqueue(ctx context.Context, orderID int64) error {
	created, err := s.queue.Enqueue(ctx, orderID)
	if err != nil {
		return err
	}
	if created {
		telemetry.OrdersEnqueued.Inc()
	}
	return nil
}
