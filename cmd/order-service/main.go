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
	"github.com/Jamesmallon1/event-driven-shop/internal/order"
	"github.com/Jamesmallon1/event-driven-shop/internal/outbox"
)

func main() {
	cfg, err := config.LoadOrder()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.LogMode, "order-service")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- DB ---
	sqlDB, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer sqlDB.Close()

	if cfg.RunMigrations {
		if err := db.RunOrderMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	// --- Bus ---
	bus, err := newBus(cfg.Bus, logger)
	if err != nil {
		logger.Fatal("connect bus", zap.Error(err))
	}
	defer bus.Close()

	// --- Wiring ---
	orderRepo := order.NewRepository(sqlDB)
	outboxRepo := outbox.NewRepository(sqlDB)
	seq := events.NewSequenceRepository(sqlDB)
	pub := events.NewPublisher(bus, seq, events.PublisherOptions{
		Topic:            cfg.Bus.Topic,
		PublishEnveloped: events.PublishEnvelopedEnabled(),
	})
	stock := catalog.NewClient(cfg.CatalogBaseURL)

	intake := order.NewIntake(orderRepo, outboxRepo, stock, pub, logger, order.IntakeOptions{
		PublishTimeout:    cfg.PublishTimeout,
		PublishMaxRetries: cfg.PublishMaxRetries,
	})

	relay := outbox.NewRelay(outboxRepo, bus, orderRepo, logger, outbox.RelayOptions{
		Interval:    cfg.RelayInterval,
		MaxAttempts: cfg.RelayMaxAttempts,
	})
	go func() { _ = relay.Run(ctx) }()

	// --- HTTP ---
	router := httpapi.NewOrderRouter(httpapi.NewOrderHandler(intake, orderRepo))

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

func newBus(cfg config.Bus, logger *zap.Logger) (events.Bus, error) {
	switch cfg.Kind {
	case config.BusKafka:
		return events.NewKafkaBus(cfg.KafkaBrokers, events.KafkaOptions{}, logger), nil
	default:
		return events.NewRabbitBus(cfg.AMQPURL, events.RabbitOptions{}, logger)
	}
}
