package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zoho-order-sync/internal/api"
	"zoho-order-sync/internal/catalog"
	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/logging"
	"zoho-order-sync/internal/queue"
	"zoho-order-sync/internal/ratelimit"
	"zoho-order-sync/internal/store"
	"zoho-order-sync/internal/supervisor"
	"zoho-order-sync/internal/worker"
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

	// The API only reads snapshots and tax lookups; rebuilds run on workers.
	cache, err := catalog.FromConfig(ctx, cfg, zoho.New(cfg.Zoho, nil, logger), rdb, logger)
	if err != nil {
		logger.Fatal("init catalog cache", zap.Error(err))
	}

	server := api.New(
		cfg,
		worker.NewDispatcher(st, triggers, cfg.Sync, logger),
		st,
		cache,
		ratelimit.FromConfig(rdb, cfg.RateLimit),
		logger,
	)
	httpServer := &http.Server{
		Addr:              ":" + cfg.App.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddServing("http", supervisor.NewHTTPService(httpServer, 5*time.Second))

	logger.Info("api listening", zap.String("port", cfg.App.HTTPPort))
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("api stopped", zap.Error(err))
	}
}
