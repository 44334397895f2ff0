package inventory

import (
	"context"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
)

// Participant connects the Service to the saga's inventory commands.
type Participant struct {
	svc *Service
	pub events.Publisher
}

func NewParticipant(svc *Service, pub events.Publisher) *Participant {
	return &Participant{svc: svc, pub: pub}
}

func (p *Participant) OnValidateInventory(ctx context.Context, cmd events.ValidateInventory) error {
	v, err := p.svc.ValidateInventory(ctx, cmd.OrderID, toLines(cmd.Items))
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, events.InventoryValidated{
		OrderID: cmd.OrderID,
		IsValid: v.Valid,
		Reason:  v.Reason,
	})
}

func (p *Participant) OnReserveInventory(ctx context.Context, cmd events.ReserveInventory) error {
	r := p.svc.ReserveInventory(ctx, cmd.OrderID, toLines(cmd.Items))
	return p.pub.Publish(ctx, events.InventoryReserved{
		OrderID: cmd.OrderID,
		Success: r.Success,
		Reason:  r.Reason,
	})
}

func (p *Participant) OnReleaseInventory(ctx context.Context, cmd events.ReleaseInventory) error {
	p.svc.ReleaseInventory(ctx, cmd.OrderID)
	return nil
}

func (p *Participant) Subscriptions() []events.Subscription {
	return []events.Subscription{
		events.On(p.OnValidateInventory),
		events.On(p.OnReserveInventory),
		events.On(p.OnReleaseInventory),
	}
}

func toLines(items []events.Item) []Line {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}
