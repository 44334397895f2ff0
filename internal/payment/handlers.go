package payment

import (
	"context"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
)

type Participant struct {
	sim *Simulator
	pub events.Publisher
}

func NewParticipant(sim *Simulator, pub events.Publisher) *Participant {
	return &Participant{sim: sim, pub: pub}
}

func (p *Participant) OnProcessPayment(ctx context.Context, cmd events.ProcessPayment) error {
	res, err := p.sim.Charge(ctx, cmd.OrderID, cmd.UserID, cmd.Amount)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, events.PaymentProcessed{
		OrderID: cmd.OrderID,
		Success: res.Success,
		Reason:  res.Reason,
	})
}

func (p *Participant) Subscriptions() []events.Subscription {
	return []events.Subscription{events.On(p.OnProcessPayment)}
}
