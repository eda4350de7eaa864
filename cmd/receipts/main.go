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
	"github.com/ariefcatur/go-storefront/internal/receipts"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/ariefcatur/go-storefront/internal/shop"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := logging.New(cfg.ServiceName+"-receipts", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.ConnectWithRetry(ctx, cfg.PostgresDSN, 10, 2*time.Second, log)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	repo := &shop.Repo{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	admin := httpx.NewRouter(log, nil, repo)
	admin.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
	adminSrv := &http.Server{Addr: cfg.ReceiptsAdminAddr, Handler: admin, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("admin listening", zap.String("addr", cfg.ReceiptsAdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin listen", zap.Error(err))
		}
	}()

	svc := &receipts.Service{
		Catalog:  repo,
		Accounts: repo,
		Dedup:    &redisx.Dedup{RDB: rdb, Scope: "receipts"},
		Sender:   receipts.LogSender{Log: log},
		Log:      log,
		Metrics:  m,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReceiptsGroup, shop.TopicOrderPaid, cfg.ReceiptsWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("receipts consumer started",
			zap.String("group", cfg.ReceiptsGroup),
			zap.String("topic", shop.TopicOrderPaid),
			zap.Int("workers", cfg.ReceiptsWorkers))
		if err := cons.Start(ctx, svc.HandleOrderPaid); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = adminSrv.Shutdown(ctx2)
}
