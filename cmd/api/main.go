package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/esim-orders/internal/catalog"
	"github.com/ariefcatur/esim-orders/internal/checkout"
	"github.com/ariefcatur/esim-orders/internal/config"
	"github.com/ariefcatur/esim-orders/internal/esimaccess"
	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/httpx"
	kafkax "github.com/ariefcatur/esim-orders/internal/kafka"
	"github.com/ariefcatur/esim-orders/internal/notify"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/postgres"
	"github.com/ariefcatur/esim-orders/internal/promo"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/redisx"
	"github.com/ariefcatur/esim-orders/internal/wallet"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Error("db migrate", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName, 1024, logger)
	prod.Start(ctx)

	// Notifications go to RabbitMQ when it is reachable, otherwise to the log.
	var notifier notify.Notifier = notify.Log{Logger: logger}
	if rp, err := notify.NewRabbitPublisher(cfg.RabbitURL, cfg.NotifyExchange); err != nil {
		logger.Warn("rabbitmq unavailable, notifications will only be logged", "err", err)
	} else {
		defer rp.Close()
		notifier = &notify.Broker{Publisher: rp, Logger: logger}
	}

	var gw checkout.Gateway = gateway.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey)
	if cfg.SimulatePayments {
		logger.Warn("payment gateway simulated, checkouts redirect straight to the callback")
		gw = gateway.Simulator{}
	}
	if cfg.GatewaySigningKey == "" && !cfg.WebhookSignatureOptional {
		logger.Warn("G2PAY_SIGNING_KEY is empty, every webhook will be rejected")
	}

	vendor := esimaccess.New(cfg.ESimAPIURL, cfg.ESimAccessCode, cfg.ESimSecretKey)
	cat := &catalog.Catalog{Vendor: vendor, Redis: rdb, TTL: cfg.CatalogTTL, Logger: logger}

	orderRepo := &orders.Repo{DB: db}
	walletRepo := &wallet.Repo{DB: db}
	statusCache := &redisx.StatusCache{RDB: rdb, TTL: redisx.TTLStatusCache}

	workflow := &provisioning.Workflow{
		Vendor:      vendor,
		Packages:    cat,
		Orders:      orderRepo,
		Locker:      &redisx.Locker{RDB: rdb},
		Events:      prod,
		Cache:       statusCache,
		EmitPending: true,
		Interval:    cfg.ProvisionPollInterval,
		MaxAttempts: cfg.ProvisionMaxAttempts,
		Logger:      logger,
	}

	coord := &checkout.Coordinator{
		Orders:            orderRepo,
		Wallet:            walletRepo,
		Promos:            &promo.Validator{Store: &promo.Repo{DB: db}},
		Catalog:           cat,
		Gateway:           gw,
		Provisioner:       workflow,
		Events:            prod,
		Notifier:          notifier,
		Cache:             statusCache,
		Logger:            logger,
		BaseURL:           cfg.BaseURL,
		Currency:          cfg.Currency,
		Simulate:          cfg.SimulatePayments,
		SigningKey:        cfg.GatewaySigningKey,
		SignatureOptional: cfg.WebhookSignatureOptional,
	}

	// Router & handlers
	router := httpx.NewRouter()
	auth := httpx.Auth(cfg.JWTSecret)
	limiter := httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	protect := func(next http.Handler) http.Handler { return auth(limiter.Middleware(next)) }

	(&httpx.CheckoutHandler{Coord: coord, BaseURL: cfg.BaseURL, Logger: logger}).Register(router, protect)
	(&httpx.WalletHandler{Coord: coord, Wallet: walletRepo, BaseURL: cfg.BaseURL, Logger: logger}).Register(router, protect)
	(&httpx.OrdersHandler{Orders: orderRepo, Cache: statusCache, Logger: logger}).Register(router, auth)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      httpx.RequestTimeout + 5*time.Second,
	}

	// graceful shutdown
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "simulate", cfg.SimulatePayments)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	// a confirmation may be mid-poll, give it the whole provisioning budget
	ctx2, cancel2 := context.WithTimeout(context.Background(), httpx.RequestTimeout)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
