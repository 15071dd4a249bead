// Package supervisor runs the long-lived sync services under a suture tree so
// a crashed loop is restarted with backoff instead of taking the process down.
package supervisor

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig mirrors suture's defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: sync (trigger processing, scheduling, event intake)
// and serving (HTTP). A crash loop in one does not restart the other.
type Tree struct {
	root    *suture.Supervisor
	sync    *suture.Supervisor
	serving *suture.Supervisor
}

func NewTree(log *zap.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := func(hook suture.EventHook) suture.Spec {
		return suture.Spec{
			EventHook:        hook,
			FailureThreshold: cfg.FailureThreshold,
			FailureDecay:     cfg.FailureDecay,
			FailureBackoff:   cfg.FailureBackoff,
			Timeout:          cfg.ShutdownTimeout,
		}
	}

	root := suture.New("zoho-order-sync", spec(EventHook(log.Named("supervisor"))))
	syncLayer := suture.New("sync", spec(nil))
	serving := suture.New("serving", spec(nil))
	root.Add(syncLayer)
	root.Add(serving)

	return &Tree{root: root, sync: syncLayer, serving: serving}
}

// AddSync adds a service to the sync layer.
func (t *Tree) AddSync(name string, svc suture.Service) suture.ServiceToken {
	return t.sync.Add(Named(name, svc))
}

// AddServing adds a service to the serving layer.
func (t *Tree) AddServing(name string, svc suture.Service) suture.ServiceToken {
	return t.serving.Add(Named(name, svc))
}

// Serve blocks until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree and returns its exit channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// EventHook logs supervisor events through zap.
func EventHook(log *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := []zap.Field{zap.Any("details", e.Map())}
		switch e.(type) {
		case suture.EventServicePanic, suture.EventStopTimeout:
			log.Error(e.String(), fields...)
		case suture.EventServiceTerminate, suture.EventBackoff:
			log.Warn(e.String(), fields...)
		default:
			log.Info(e.String(), fields...)
		}
	}
}

type namedService struct {
	suture.Service
	name string
}

func (n namedService) String() string { return n.name }

// Named gives a service the name suture logs it under.
func Named(name string, svc suture.Service) suture.Service {
	return namedService{Service: svc, name: name}
}
