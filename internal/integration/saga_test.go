//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/orchestrator"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/saga"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/testutil"
)

// seeded by the inventory migrations
const (
	keyboard = "11111111-1111-1111-1111-111111111111"
	monitor  = "33333333-3333-3333-3333-333333333333"
)

var consumed = map[string][]events.Topic{
	"order-service":     {events.TopicInventoryValidated, events.TopicInventoryReserved, events.TopicPaymentProcessed},
	"inventory-service": {events.TopicValidateInventory, events.TopicReserveInventory, events.TopicReleaseInventory},
	"payment-service":   {events.TopicProcessPayment},
}

type system struct {
	orch  *orchestrator.Orchestrator
	stock *inventory.Service
}

// startSystem runs the three services in-process against one database and one
// broker. Payments above declineAbove are declined.
func startSystem(ctx context.Context, t *testing.T, declineAbove decimal.Decimal) *system {
	t.Helper()
	log := zaptest.NewLogger(t)

	dsn := testutil.StartPostgres(ctx, t)
	amqpURL := testutil.StartRabbitMQ(ctx, t)

	require.NoError(t, db.RunMigrations(dsn, db.OrderSchema, log))
	require.NoError(t, db.RunMigrations(dsn, db.InventorySchema, log))

	sqlDB, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	retry := events.RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	conn, err := events.Dial(ctx, amqpURL, retry, log)
	require.NoError(t, err)

	publisher := func(service string) *events.RabbitPublisher {
		return events.NewPublisher(conn, events.PublisherOptions{Producer: service, Retry: retry}, log.Named(service))
	}
	orderPub, inventoryPub, paymentPub := publisher("order-service"), publisher("inventory-service"), publisher("payment-service")

	orch := orchestrator.New(
		order.NewRepository(sqlDB),
		saga.NewRepository(sqlDB),
		db.NewTransactor(sqlDB),
		orderPub,
		log.Named("orchestrator"),
	)
	stock := inventory.NewService(inventory.NewPostgresRepository(pool), dedup.NewRepository(pool), log.Named("inventory"))
	sim := payment.NewSimulator(payment.Options{DeclineAbove: declineAbove}, log.Named("payment"))

	orderConsumer := events.NewConsumer(conn, "order-service", log)
	orderConsumer.Subscribe(orch.Subscriptions()...)
	inventoryConsumer := events.NewConsumer(conn, "inventory-service", log)
	inventoryConsumer.Subscribe(inventory.NewParticipant(stock, inventoryPub).Subscriptions()...)
	paymentConsumer := events.NewConsumer(conn, "payment-service", log)
	paymentConsumer.Subscribe(payment.NewParticipant(sim, paymentPub).Subscriptions()...)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for _, c := range []*events.Consumer{orderConsumer, inventoryConsumer, paymentConsumer} {
		c := c
		g.Go(func() error { return c.Run(gctx) })
	}

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
		for _, p := range []*events.RabbitPublisher{orderPub, inventoryPub, paymentPub} {
			_ = p.Close()
		}
		_ = conn.Close()
	})

	// commands published before a queue is bound would be dropped by the exchange
	waitForQueues(ctx, t, conn)

	return &system{orch: orch, stock: stock}
}

func waitForQueues(ctx context.Context, t *testing.T, conn *events.Connection) {
	t.Helper()
	require.Eventually(t, func() bool {
		ch, err := conn.Channel()
		if err != nil {
			return false
		}
		defer ch.Close()
		for service, topics := range consumed {
			for _, topic := range topics {
				if _, err := ch.QueueDeclarePassive(events.QueueName(service, topic), true, false, false, false, nil); err != nil {
					return false
				}
			}
		}
		return true
	}, 30*time.Second, 200*time.Millisecond)
}

func waitForSaga(ctx context.Context, t *testing.T, sys *system, orderID string, done func(*saga.Saga) bool) *saga.Saga {
	t.Helper()
	var last *saga.Saga
	require.Eventually(t, func() bool {
		s, err := sys.orch.GetSaga(ctx, orderID)
		if err != nil {
			return false
		}
		last = s
		return done(s)
	}, 30*time.Second, 100*time.Millisecond)
	return last
}

func items(productID string, qty int, price string) []order.Item {
	return []order.Item{{ProductID: productID, ProductName: "item", Quantity: qty, Price: decimal.RequireFromString(price)}}
}

func TestSaga_HappyPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	sys := startSystem(ctx, t, decimal.Zero)

	orderID, err := sys.orch.StartSaga(ctx, "user-1", items(keyboard, 2, "79.90"))
	require.NoError(t, err)

	s := waitForSaga(ctx, t, sys, orderID, func(s *saga.Saga) bool { return s.Status == saga.StatusCompleted })
	assert.Equal(t, saga.StepCompleted, s.CurrentStep)
	assert.NotNil(t, s.CompletedAt)

	completed := 0
	for _, e := range s.History {
		if e.Outcome == saga.OutcomeCompleted {
			completed++
		}
	}
	assert.Equal(t, 3, completed)

	o, err := sys.orch.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("159.80")))

	item, err := sys.stock.Get(ctx, keyboard)
	require.NoError(t, err)
	assert.Equal(t, 23, item.Available)
}

func TestSaga_InsufficientStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	sys := startSystem(ctx, t, decimal.Zero)

	orderID, err := sys.orch.StartSaga(ctx, "user-2", items(monitor, 6, "299"))
	require.NoError(t, err)

	s := waitForSaga(ctx, t, sys, orderID, func(s *saga.Saga) bool { return s.Status == saga.StatusFailed })
	assert.Equal(t, saga.StepCompensating, s.CurrentStep)
	assert.Contains(t, s.History[len(s.History)-1].Message, "Insufficient stock")

	o, err := sys.orch.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, o.Status)

	item, err := sys.stock.Get(ctx, monitor)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Available)
}

func TestSaga_PaymentDeclined(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	sys := startSystem(ctx, t, decimal.NewFromInt(100))

	orderID, err := sys.orch.StartSaga(ctx, "user-3", items(monitor, 1, "299"))
	require.NoError(t, err)

	s := waitForSaga(ctx, t, sys, orderID, func(s *saga.Saga) bool { return s.Status == saga.StatusCompensating })
	assert.Equal(t, saga.StepCompensating, s.CurrentStep)

	o, err := sys.orch.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, o.Status)

	// release is not implemented, so the reserved unit stays reserved
	item, err := sys.stock.Get(ctx, monitor)
	require.NoError(t, err)
	assert.Equal(t, 4, item.Available)

	require.NoError(t, sys.orch.ResolveCompensation(ctx, orderID))
	s, err = sys.orch.GetSaga(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, s.Status)
}
