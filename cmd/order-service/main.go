package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/app"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/httpapi"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/orchestrator"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/saga"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "order-service: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load(config.ServiceOrder)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Env, cfg.Service)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers app.Closers
	defer func() {
		if cerr := closers.Close(); cerr != nil {
			log.Error("close resources", zap.Error(cerr))
		}
	}()

	// --- DB ---
	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, db.OrderSchema, log); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
	}
	sqlDB, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	closers.Add(sqlDB.Close)

	// --- AMQP ---
	conn, err := events.Dial(ctx, cfg.RabbitMQURL, cfg.RetryPolicy(), log)
	if err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}
	closers.Add(conn.Close)

	pub := events.NewPublisher(conn, events.PublisherOptions{Producer: cfg.Service, Retry: cfg.RetryPolicy()}, log)
	closers.Add(pub.Close)

	orch := orchestrator.New(
		order.NewRepository(sqlDB),
		saga.NewRepository(sqlDB),
		db.NewTransactor(sqlDB),
		pub,
		log.Named("orchestrator"),
		orchestrator.WithPublishTimeout(cfg.PublishTimeout),
	)

	consumer := events.NewConsumer(conn, cfg.Service, log)
	consumer.Subscribe(orch.Subscriptions()...)

	// --- HTTP ---
	ln, err := app.Listen(cfg.HTTPAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewOrderRouter(httpapi.NewOrderHandler(orch, log), log),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return app.Serve(ctx, log, srv, ln, cfg.ShutdownTimeout, consumer)
}
