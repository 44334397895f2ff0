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
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/httpapi"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inventory-service: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load(config.ServiceInventory)
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
		if err := db.RunMigrations(cfg.DatabaseDSN, db.InventorySchema, log); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	closers.Add(func() error {
		pool.Close()
		return nil
	})

	svc := inventory.NewService(inventory.NewPostgresRepository(pool), dedup.NewRepository(pool), log.Named("inventory"))

	// --- AMQP ---
	conn, err := events.Dial(ctx, cfg.RabbitMQURL, cfg.RetryPolicy(), log)
	if err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}
	closers.Add(conn.Close)

	pub := events.NewPublisher(conn, events.PublisherOptions{Producer: cfg.Service, Retry: cfg.RetryPolicy()}, log)
	closers.Add(pub.Close)

	consumer := events.NewConsumer(conn, cfg.Service, log)
	consumer.Subscribe(inventory.NewParticipant(svc, pub).Subscriptions()...)

	// --- HTTP ---
	ln, err := app.Listen(cfg.HTTPAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewInventoryRouter(httpapi.NewInventoryHandler(svc, log), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return app.Serve(ctx, log, srv, ln, cfg.ShutdownTimeout, consumer)
}
