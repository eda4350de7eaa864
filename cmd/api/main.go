package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront/internal/config"
	"github.com/ariefcatur/go-storefront/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/logging"
	"github.com/ariefcatur/go-storefront/internal/metrics"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/ariefcatur/go-storefront/internal/session"
	"github.com/ariefcatur/go-storefront/internal/shop"
	"github.com/ariefcatur/go-storefront/internal/stripex"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}
	db, err := postgres.ConnectWithRetry(ctx, cfg.PostgresDSN, 10, 2*time.Second, log)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	repo := &shop.Repo{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, shop.TopicOrderPaid, 1024, log)
	prod.Start(ctx)

	m := metrics.New(prometheus.DefaultRegisterer)
	proc := stripex.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	router := httpx.NewRouter(log, m, repo)
	router.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
	sf := &httpx.Storefront{
		Accounts: &shop.AccountService{Accounts: repo, Log: log},
		Catalog:  repo,
		Ledger:   repo,
		Checkout: &shop.Checkout{
			Catalog:    repo,
			Ledger:     repo,
			Processor:  proc,
			Currency:   cfg.Currency,
			SuccessURL: cfg.SuccessURL(),
			CancelURL:  cfg.CancelURL(),
			Log:        log,
			Metrics:    m,
		},
		Reconciler: &shop.Reconciler{
			Processor: proc,
			Ledger:    repo,
			Dedup:     &redisx.Dedup{RDB: rdb, Scope: "webhook"},
			Events:    prod,
			Service:   cfg.ServiceName,
			Log:       log,
			Metrics:   m,
		},
		Sessions: &session.Manager{
			Store:  &session.RedisStore{RDB: rdb},
			TTL:    cfg.SessionTTL,
			Secure: cfg.CookieSecure,
			Log:    log,
		},
		Log: log,
	}
	sf.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush queued events
	prod.WaitClosed()
	cancel()
}
