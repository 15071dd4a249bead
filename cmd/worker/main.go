package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"zoho-order-sync/internal/catalog"
	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/events"
	"zoho-order-sync/internal/logging"
	"zoho-order-sync/internal/notify"
	"zoho-order-sync/internal/pipeline"
	"zoho-order-sync/internal/queue"
	"zoho-order-sync/internal/store"
	"zoho-order-sync/internal/storefront"
	"zoho-order-sync/internal/supervisor"
	"zoho-order-sync/internal/telemetry"
	workerproc "zoho-order-sync/internal/worker"
	"zoho-order-sync/internal/zoho"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open sync queue", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	rdb := queue.NewClient(cfg.Redis)
	defer rdb.Close()
	triggers := queue.NewRedisQueue(rdb, cfg.Sync.SiteID, cfg.Worker.VisibilityTimeout)

	remote := zoho.New(cfg.Zoho, nil, logger)
	cache, err := catalog.FromConfig(ctx, cfg, remote, rdb, logger)
	if err != nil {
		logger.Fatal("init catalog cache", zap.Error(err))
	}

	dispatcher := workerproc.NewDispatcher(st, triggers, cfg.Sync, logger)
	pusher := pipeline.NewPusher(
		st,
		remote,
		cache,
		dispatcher,
		storefront.NewWooCommerce(cfg.Storefront, nil, logger),
		notify.New(cfg.Notify, logger),
		pipeline.SettingsFromConfig(cfg),
		logger,
	)
	syncer := pipeline.NewSyncer(st, pusher, cfg.Sync.MaxTries, logger)

	processor := workerproc.NewProcessor(cfg.Worker, triggers, logger)
	processor.RegisterSyncHandlers(syncer, cache)

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddSync("processor", processor)
	tree.AddSync("scheduler", workerproc.NewScheduler(dispatcher, cache, cfg.Sync, logger))
	if cfg.NATS.URL != "" {
		tree.AddSync("order-events", events.NewSubscriber(cfg.NATS, dispatcher, logger))
	}
	if cfg.App.MetricsAddr != "" {
		metrics := &http.Server{Addr: cfg.App.MetricsAddr, Handler: telemetry.Handler()}
		tree.AddServing("metrics", supervisor.NewHTTPService(metrics, 0))
	}

	hostname, _ := os.Hostname()
	logger.Info("worker started",
		zap.String("host", hostname),
		zap.String("recurrence", cfg.Sync.OrdersRecurrence),
		zap.String("cache_ttl", cfg.Sync.CacheTTL),
		zap.Duration("visibility", cfg.Worker.VisibilityTimeout))
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", zap.Error(err))
	}
}
