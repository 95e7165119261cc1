package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-card-shop/internal/checkout"
	"github.com/ariefcatur/go-card-shop/internal/compensation"
	"github.com/ariefcatur/go-card-shop/internal/config"
	"github.com/ariefcatur/go-card-shop/internal/discount"
	"github.com/ariefcatur/go-card-shop/internal/epay"
	"github.com/ariefcatur/go-card-shop/internal/httpx"
	kafkax "github.com/ariefcatur/go-card-shop/internal/kafka"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/ariefcatur/go-card-shop/internal/payment"
	"github.com/ariefcatur/go-card-shop/internal/postgres"
	"github.com/ariefcatur/go-card-shop/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	config.SetupLogger(cfg.ServiceName, cfg.LogLevel)
	if cfg.MerchantKey == "" {
		log.Warn().Msg("MERCHANT_KEY kosong, semua notify ditolak sebagai signature invalid")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	store := orders.NewPGStore(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, satu per topic
	producers := make(map[string]*kafkax.Producer, len(orders.Topics))
	publishers := make(map[string]kafkax.Publisher, len(orders.Topics))
	for _, topic := range orders.Topics {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024)
		p.Start(ctx)
		producers[topic] = p
		publishers[topic] = p
	}
	sink := &kafkax.EventSink{Producers: publishers, Service: cfg.ServiceName}

	// Domain
	marker := redisx.PendingMarker{RDB: rdb}
	comp := compensation.New(store, sink)
	ledger := discount.NewLedger(store)
	svc := &checkout.Service{
		Store:     store,
		Discounts: ledger,
		Sweeper:   comp,
		Pay: epay.Client{
			MerchantID: cfg.MerchantID,
			Key:        cfg.MerchantKey,
			PayURL:     cfg.PayURL,
			BaseURL:    cfg.BaseURL,
		},
		Events: sink,
		Marker: marker,
	}
	rec := &payment.Reconciler{Store: store, Key: cfg.MerchantKey, Events: sink, Marker: marker}

	// HTTP
	router := httpx.NewRouter(cfg.RequestTimeout)
	(&httpx.OrdersHandler{Checkout: svc, Discounts: ledger, Cache: redisx.StatusCache{RDB: rdb}, Pending: marker}).Register(router)
	(&httpx.NotifyHandler{Reconciler: rec}).Register(router)
	(&httpx.AdminHandler{Checkout: svc, Compensator: comp, Token: cfg.AdminToken}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close() // tutup inbox -> flush & close writer
	}
	for _, p := range producers {
		p.WaitClosed()
	}
}
