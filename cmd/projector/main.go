package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-food-orders/internal/config"
	kafkax "github.com/ariefcatur/go-food-orders/internal/kafka"
	"github.com/ariefcatur/go-food-orders/internal/logx"
	"github.com/ariefcatur/go-food-orders/internal/orders"
	"github.com/ariefcatur/go-food-orders/internal/projection"
	"github.com/ariefcatur/go-food-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.LogLevel, !cfg.Production())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis wajib: tanpa cache tidak ada yang diproyeksikan
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	svc := &projection.Service{
		Dedup:  &redisx.Deduper{RDB: rdb, Scope: "projector"},
		Cache:  &redisx.StatusCache{RDB: rdb},
		Logger: logger.Named("projector"),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.TopicOrderLifecycle, cfg.ProjectorWorkers, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("projector consumer started",
			zap.String("group", cfg.ProjectorGroup),
			zap.String("topic", orders.TopicOrderLifecycle),
			zap.Int("workers", cfg.ProjectorWorkers))
		return cons.Start(gctx, svc.HandleLifecycle)
	})
	if err := g.Wait(); err != nil {
		logger.Error("consumer exit", zap.Error(err))
	}
	logger.Info("projector stopped")
}
