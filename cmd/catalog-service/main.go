package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Jamesmallon1/event-driven-shop/internal/catalog"
	"github.com/Jamesmallon1/event-driven-shop/internal/config"
	"github.com/Jamesmallon1/event-driven-shop/internal/db"
	"github.com/Jamesmallon1/event-driven-shop/internal/events"
	httpapi "github.com/Jamesmallon1/event-driven-shop/internal/http"
	"github.com/Jamesmallon1/event-driven-shop/internal/obs"
)

func main() {
	cfg, err := config.LoadCatalog()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.LogMode, "catalog-service")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunCatalogMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	repo := catalog.NewRepository(pool, cfg.ConsumerGroup)

	// --- Cache ---
	var cache *catalog.Cache
	if cfg.RedisAddr != "" {
		cache = catalog.NewCache(cfg.RedisAddr)
		defer cache.Close()
	}
	var snapshots httpapi.SnapshotCache
	var invalidator events.CacheInvalidator
	if cache != nil {
		snapshots = cache
		invalidator = cache
	}

	// --- Bus ---
	bus, err := newBus(cfg, logger)
	if err != nil {
		logger.Fatal("connect bus", zap.Error(err))
	}
	defer bus.Close()

	consumer := events.NewConsumer(bus, cfg.ConsumerGroup, logger)
	consumer.Register(cfg.Bus.Topic, events.OrderPlacedHandler(repo, invalidator, logger, events.ConsumeEnvelopedEnabled()))
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("start consumer", zap.Error(err))
	}

	// --- dedup retention ---
	go func() {
		ticker := time.NewTicker(cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := repo.PruneApplied(ctx, cfg.DedupRetention)
				if err != nil {
					logger.Warn("prune applied orders", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("pruned applied orders", zap.Int64("removed", removed))
				}
			}
		}
	}()

	// --- HTTP ---
	router := httpapi.NewCatalogRouter(httpapi.NewCatalogHandler(repo, snapshots, logger))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("fatal error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	cancel()

	logger.Info("shutdown complete")
}

func newBus(cfg config.Catalog, logger *zap.Logger) (events.Bus, error) {
	switch cfg.Bus.Kind {
	case config.BusKafka:
		return events.NewKafkaBus(cfg.Bus.KafkaBrokers, events.KafkaOptions{BatchSize: cfg.BatchSize}, logger), nil
	default:
		return events.NewRabbitBus(cfg.Bus.AMQPURL, events.RabbitOptions{BatchSize: cfg.BatchSize}, logger)
	}
}
