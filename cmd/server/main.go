// Command server runs the venue ranking service: the scored ranking engine
// and memoization cache over Redis, the HTTP API, the optional Kafka
// review-event consumer, and the optional PostgreSQL statistics snapshotter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bizrank/bizrank/internal/api"
	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/ingest"
	"github.com/bizrank/bizrank/internal/invalidation"
	"github.com/bizrank/bizrank/internal/ranking"
	"github.com/bizrank/bizrank/internal/snapshot"
	"github.com/bizrank/bizrank/pkg/config"
	"github.com/bizrank/bizrank/pkg/health"
	"github.com/bizrank/bizrank/pkg/kafka"
	"github.com/bizrank/bizrank/pkg/logger"
	"github.com/bizrank/bizrank/pkg/metrics"
	"github.com/bizrank/bizrank/pkg/postgres"
	pkgredis "github.com/bizrank/bizrank/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ranking service", "port", cfg.Server.Port)

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("redis unavailable", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	resultCache := cache.New(redisClient, cfg.Cache.Prefix, m)
	coordinator := invalidation.New(resultCache)
	engine := ranking.NewEngine(redisClient, resultCache, coordinator, m, cfg.Ranking, cfg.Cache.DefaultTTL)

	checker := health.NewChecker()
	checker.Register("redis", health.PingCheck(redisClient.Ping))

	var snapshotStore *snapshot.Store
	if cfg.Snapshot.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("postgres unavailable with snapshots enabled", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		snapshotStore = snapshot.NewStore(pg.DB)
		if err := snapshotStore.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare snapshot schema", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.PingCheck(pg.Ping))

		snapshotter := snapshot.New(engine, resultCache, snapshotStore, cfg.Snapshot.Interval, m)
		go snapshotter.Run(ctx)
		slog.Info("snapshotter enabled", "interval", cfg.Snapshot.Interval)
	}

	if cfg.Kafka.Enabled {
		processor := ingest.NewProcessor(engine)
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.ReviewTopic, processor.Handler())
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("review consumer stopped", "error", err)
			}
		}()
		slog.Info("review consumer enabled", "topic", cfg.Kafka.ReviewTopic)
	}

	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	handler := api.New(engine, resultCache, snapshotStore)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, checker, m, cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("ranking service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ranking service stopped")
}
