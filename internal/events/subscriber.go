// Package events turns storefront order events published on NATS into sync
// queue entries.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/worker"
)

// OrderSink receives placed orders.
type OrderSink interface {
	OrderPlaced(ctx context.Context, orderID int64, mode worker.Mode) error
}

// OrderEvent is the payload published when an order is created.
type OrderEvent struct {
	OrderID int64  `json:"order_id" validate:"gt=0"`
	Mode    string `json:"mode,omitempty" validate:"omitempty,oneof=immediate deferred"`
}

type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Subscriber consumes order events with a queue group so each event reaches
// one worker.
type Subscriber struct {
	url      string
	subject  string
	group    string
	sink     OrderSink
	validate *validator.Validate
	log      *zap.Logger
}

func NewSubscriber(cfg config.NATSConfig, sink OrderSink, log *zap.Logger) *Subscriber {
	return &Subscriber{
		url:      cfg.URL,
		subject:  cfg.Subject,
		group:    cfg.QueueGroup,
		sink:     sink,
		validate: validator.New(),
		log:      log.Named("events"),
	}
}

// Serve connects, subscribes and blocks until the context ends. It satisfies
// suture.Service.
func (s *Subscriber) Serve(ctx context.Context) error {
	nc, err := nats.Connect(s.url,
		nats.Name("zoho-order-sync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.log.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.QueueSubscribe(s.subject, s.group, func(msg *nats.Msg) {
		err := s.Handle(ctx, msg.Data)
		if err != nil {
			s.log.Warn("order event rejected", zap.String("subject", msg.Subject), zap.Error(err))
		}
		if msg.Reply != "" {
			r := reply{OK: err == nil}
			if err != nil {
				r.Error = err.Error()
			}
			data, _ := json.Marshal(r)
			_ = msg.Respond(data)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.log.Info("listening for order events", zap.String("subject", s.subject), zap.String("group", s.group))

	<-ctx.Done()
	_ = sub.Drain()
	return ctx.Err()
}

// Handle decodes one event and hands the order to the sink.
func (s *Subscriber) Handle(ctx context.Context, data []byte) error {
	var ev OrderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	if err := s.validate.Struct(ev); err != nil {
		return fmt.Errorf("invalid order event: %w", err)
	}
	return s.sink.OrderPlaced(ctx, ev.OrderID, worker.Mode(ev.Mode))
}
