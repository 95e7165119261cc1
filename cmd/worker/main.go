package main

import (
	"context"
	"github.com/ariefcatur/go-card-shop/internal/config"
	"github.com/ariefcatur/go-card-shop/internal/discount"
	kafkax "github.com/ariefcatur/go-card-shop/internal/kafka"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/ariefcatur/go-card-shop/internal/postgres"
	"github.com/ariefcatur/go-card-shop/internal/redisx"
	"github.com/ariefcatur/go-card-shop/internal/worker"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-worker"
	config.SetupLogger(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	dedup, err := worker.NewMemoDeduper(redisx.Deduper{RDB: rdb, Service: service}, 4096)
	if err != nil {
		log.Fatal().Err(err).Msg("dedup")
	}
	svc := &worker.Service{
		Discounts: discount.NewLedger(orders.NewPGStore(db)),
		Dedup:     dedup,
		Cache:     redisx.StatusCache{RDB: rdb},
	}

	// satu consumer per topic, semua dalam satu group
	g, gctx := errgroup.WithContext(ctx)
	for topic, h := range svc.Handlers() {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, topic, cfg.WorkerThreads)
		g.Go(func() error {
			log.Info().Str("group", cfg.WorkerGroup).Str("topic", topic).Int("workers", cfg.WorkerThreads).Msg("consumer started")
			return cons.Start(gctx, h)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("consumer exit")
		return
	}
	log.Info().Msg("worker stopped")
}
