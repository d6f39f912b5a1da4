package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/esim-orders/internal/catalog"
	"github.com/ariefcatur/esim-orders/internal/config"
	"github.com/ariefcatur/esim-orders/internal/esimaccess"
	kafkax "github.com/ariefcatur/esim-orders/internal/kafka"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/postgres"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("db", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// completed events still go out; pending ones are not re-emitted, the sweep retries instead
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName+"-provisioner", 256, logger)
	prod.Start(context.Background()) // stopped by Close once the workers are done

	vendor := esimaccess.New(cfg.ESimAPIURL, cfg.ESimAccessCode, cfg.ESimSecretKey)
	repo := &orders.Repo{DB: db}
	statusCache := &redisx.StatusCache{RDB: rdb, TTL: redisx.TTLStatusCache}

	redriver := &provisioning.Redriver{
		Provisioner: &provisioning.Workflow{
			Vendor:      vendor,
			Packages:    &catalog.Catalog{Vendor: vendor, Redis: rdb, TTL: cfg.CatalogTTL, Logger: logger},
			Orders:      repo,
			Locker:      &redisx.Locker{RDB: rdb},
			Events:      prod,
			Cache:       statusCache,
			Interval:    cfg.ProvisionPollInterval,
			MaxAttempts: cfg.ProvisionMaxAttempts,
			Logger:      logger,
		},
		Orders: repo,
		MarkOnce: func(ctx context.Context, key string) (bool, error) {
			return redisx.MarkOnce(ctx, rdb, key, redisx.TTLDedup)
		},
		ServiceName: cfg.ServiceName + "-provisioner",
		Logger:      logger,
		MinAge:      cfg.SweepMinAge,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProvisionerGroup, orders.TopicProvisioningPending, cfg.ProvisionerWorkers, logger)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("provisioner consumer started", "group", cfg.ProvisionerGroup,
			"topic", orders.TopicProvisioningPending, "workers", cfg.ProvisionerWorkers)
		if err := cons.Start(ctx, redriver.HandlePending); err != nil {
			logger.Error("consumer exit", "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		redriver.RunSweeper(ctx, cfg.SweepInterval)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down provisioner...")
	cancel()
	wg.Wait() // nobody emits after this
	prod.Close()
	prod.WaitClosed()
}
