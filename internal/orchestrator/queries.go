package orchestrator

import (
	"context"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/saga"
)

func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return o.orders.GetByID(ctx, orderID)
}

// ListOrdersByUser returns the user's orders, newest first.
func (o *Orchestrator) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	return o.orders.ListByUser(ctx, userID)
}

func (o *Orchestrator) GetSaga(ctx context.Context, orderID string) (*saga.Saga, error) {
	return o.sagas.GetByOrderID(ctx, orderID)
}

// Subscriptions are the participant replies the orchestrator consumes.
func (o *Orchestrator) Subscriptions() []events.Subscription {
	return []events.Subscription{
		events.On(o.OnInventoryValidated),
		events.On(o.OnInventoryReserved),
		events.On(o.OnPaymentProcessed),
	}
}
