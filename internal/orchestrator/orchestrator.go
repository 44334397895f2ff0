package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/saga"
)

// Reasons reported on OrderFailed.
const (
	ReasonInsufficientInventory = "Insufficient inventory"
	ReasonReservationFailed     = "Failed to reserve inventory"
	ReasonPaymentFailed         = "Payment failed"
	ReasonDispatchFailed        = "Failed to request inventory validation"
)

const defaultPublishTimeout = 10 * time.Second

const (
	msgInventoryValidated    = "Inventory validated"
	msgInventoryReserved     = "Inventory reserved"
	msgPaymentProcessed      = "Payment processed"
	msgCompensationCompleted = "Compensation completed"
)

var ErrNotCompensating = errors.New("saga is not compensating")

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Orchestrator drives each order's saga. It keeps no per-saga state of its own;
// every handler loads, locks and saves the rows it needs.
type Orchestrator struct {
	orders order.Repository
	sagas  saga.Repository
	tx     Transactor
	pub    events.Publisher
	logger *zap.Logger

	publishTimeout time.Duration
}

type Option func(*Orchestrator)

// WithPublishTimeout caps each publish, retries included. Reactions publish
// while holding the saga row lock, so this also bounds how long the lock is held.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

func New(orders order.Repository, sagas saga.Repository, tx Transactor, pub events.Publisher, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		orders:         orders,
		sagas:          sagas,
		tx:             tx,
		pub:            pub,
		logger:         logger,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartSaga stores a new pending order with its saga and asks inventory to
// validate it. The rest of the saga runs asynchronously.
//
// The rows are committed before the command is published, as the reply can
// arrive before Publish returns. When the command cannot be sent the saga and
// order are marked failed and the publish error is returned.
func (o *Orchestrator) StartSaga(ctx context.Context, userID string, items []order.Item) (string, error) {
	ord, err := order.Create(userID, items)
	if err != nil {
		return "", err
	}
	s := saga.Start(ord.ID)

	err = o.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := o.orders.Add(ctx, ord); err != nil {
			return err
		}
		return o.sagas.Add(ctx, s)
	})
	if err != nil {
		return "", fmt.Errorf("start saga: %w", err)
	}

	err = o.publish(ctx, events.ValidateInventory{
		OrderID: ord.ID,
		Items:   commandItems(ord.Items),
	})
	if err != nil {
		if ferr := o.abandonStart(context.WithoutCancel(ctx), ord.ID, err); ferr != nil {
			o.logger.Error("could not mark unsent saga as failed",
				zap.String("order_id", ord.ID),
				zap.Error(ferr))
		}
		return "", fmt.Errorf("start saga: %w", err)
	}

	o.logger.Info("saga started",
		zap.String("order_id", ord.ID),
		zap.String("saga_id", s.ID),
		zap.String("user_id", userID),
		zap.Stringer("total", ord.TotalAmount))
	return ord.ID, nil
}

func (o *Orchestrator) OnInventoryValidated(ctx context.Context, ev events.InventoryValidated) error {
	return o.react(ctx, ev.OrderID, saga.StepValidateInventory, func(ctx context.Context, s *saga.Saga, ord *order.Order) error {
		if !ev.IsValid {
			if err := s.FailStep(saga.StepValidateInventory, reasonOr(ev.Reason, ReasonInsufficientInventory)); err != nil {
				return err
			}
			// nothing was reserved, so there is nothing to compensate
			return o.failOrder(ctx, s, ord, ReasonInsufficientInventory)
		}

		if err := s.CompleteStep(saga.StepValidateInventory, msgInventoryValidated); err != nil {
			return err
		}
		if err := o.sagas.Update(ctx, s); err != nil {
			return err
		}
		return o.publish(ctx, events.ReserveInventory{
			OrderID: ord.ID,
			Items:   commandItems(ord.Items),
		})
	})
}

func (o *Orchestrator) OnInventoryReserved(ctx context.Context, ev events.InventoryReserved) error {
	return o.react(ctx, ev.OrderID, saga.StepReserveInventory, func(ctx context.Context, s *saga.Saga, ord *order.Order) error {
		if !ev.Success {
			if err := s.FailStep(saga.StepReserveInventory, reasonOr(ev.Reason, ReasonReservationFailed)); err != nil {
				return err
			}
			// the reservation rolled back as a whole; the saga still passes
			// through compensating so the history shows it
			if err := s.StartCompensation(); err != nil {
				return err
			}
			return o.failOrder(ctx, s, ord, ReasonReservationFailed)
		}

		if err := s.CompleteStep(saga.StepReserveInventory, msgInventoryReserved); err != nil {
			return err
		}
		if err := o.sagas.Update(ctx, s); err != nil {
			return err
		}
		return o.publish(ctx, events.ProcessPayment{
			OrderID: ord.ID,
			UserID:  ord.UserID,
			Amount:  ord.TotalAmount,
		})
	})
}

func (o *Orchestrator) OnPaymentProcessed(ctx context.Context, ev events.PaymentProcessed) error {
	return o.react(ctx, ev.OrderID, saga.StepProcessPayment, func(ctx context.Context, s *saga.Saga, ord *order.Order) error {
		if !ev.Success {
			if err := s.FailStep(saga.StepProcessPayment, reasonOr(ev.Reason, ReasonPaymentFailed)); err != nil {
				return err
			}
			if err := s.StartCompensation(); err != nil {
				return err
			}
			if err := ord.MarkFailed(); err != nil {
				return err
			}
			if err := o.save(ctx, s, ord); err != nil {
				return err
			}
			if err := o.publish(ctx, events.ReleaseInventory{OrderID: ord.ID}); err != nil {
				return err
			}
			return o.publish(ctx, events.OrderFailed{
				OrderID:     ord.ID,
				UserID:      ord.UserID,
				Reason:      ReasonPaymentFailed,
				TotalAmount: ord.TotalAmount,
			})
		}

		if err := s.CompleteStep(saga.StepProcessPayment, msgPaymentProcessed); err != nil {
			return err
		}
		if err := ord.MarkConfirmed(); err != nil {
			return err
		}
		if err := o.save(ctx, s, ord); err != nil {
			return err
		}
		return o.publish(ctx, events.OrderCompleted{
			OrderID:     ord.ID,
			UserID:      ord.UserID,
			TotalAmount: ord.TotalAmount,
		})
	})
}

// ResolveCompensation closes a saga parked in compensating once an operator has
// dealt with whatever the compensating command could not undo.
func (o *Orchestrator) ResolveCompensation(ctx context.Context, orderID string) error {
	return o.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := o.sagas.GetByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if s.Status != saga.StatusCompensating {
			return fmt.Errorf("%w: order %s is %s", ErrNotCompensating, orderID, s.Status)
		}
		if err := s.CompleteCompensation(msgCompensationCompleted); err != nil {
			return err
		}
		if err := o.sagas.Update(ctx, s); err != nil {
			return err
		}
		o.logger.Info("compensation resolved", zap.String("order_id", orderID), zap.String("saga_id", s.ID))
		return nil
	})
}

type reaction func(ctx context.Context, s *saga.Saga, ord *order.Order) error

// react runs fn in one transaction with the saga row locked, but only when the
// saga is waiting on step. Missing rows and unexpected steps are duplicates or
// late deliveries and are acknowledged without changes.
func (o *Orchestrator) react(ctx context.Context, orderID string, step saga.Step, fn reaction) error {
	log := logger.FromContext(ctx, o.logger).With(
		zap.String("order_id", orderID),
		zap.String("step", string(step)))

	return o.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := o.sagas.GetByOrderIDForUpdate(ctx, orderID)
		if errors.Is(err, saga.ErrNotFound) {
			log.Warn("no saga for order, ignoring event")
			return nil
		}
		if err != nil {
			return err
		}

		if !s.Awaiting(step) {
			log.Info("saga not waiting on this step, ignoring event",
				zap.String("status", string(s.Status)),
				zap.String("current_step", string(s.CurrentStep)))
			return nil
		}

		ord, err := o.orders.GetByID(ctx, orderID)
		if errors.Is(err, order.ErrNotFound) {
			log.Warn("no order for saga, ignoring event")
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(ctx, s, ord); err != nil {
			return err
		}

		log.Info("saga advanced",
			zap.String("status", string(s.Status)),
			zap.String("current_step", string(s.CurrentStep)),
			zap.String("order_status", string(ord.Status)))
		return nil
	})
}

func (o *Orchestrator) failOrder(ctx context.Context, s *saga.Saga, ord *order.Order, reason string) error {
	if err := ord.MarkFailed(); err != nil {
		return err
	}
	if err := o.save(ctx, s, ord); err != nil {
		return err
	}
	return o.publish(ctx, events.OrderFailed{
		OrderID:     ord.ID,
		UserID:      ord.UserID,
		Reason:      reason,
		TotalAmount: ord.TotalAmount,
	})
}

// abandonStart fails a saga whose first command was never sent. A saga that
// already moved on, because the command got through after all, is left alone.
func (o *Orchestrator) abandonStart(ctx context.Context, orderID string, cause error) error {
	return o.react(ctx, orderID, saga.StepValidateInventory, func(ctx context.Context, s *saga.Saga, ord *order.Order) error {
		if err := s.FailStep(saga.StepValidateInventory, fmt.Sprintf("%s: %v", ReasonDispatchFailed, cause)); err != nil {
			return err
		}
		if err := ord.MarkFailed(); err != nil {
			return err
		}
		return o.save(ctx, s, ord)
	})
}

func (o *Orchestrator) publish(ctx context.Context, msg events.Message) error {
	ctx, cancel := context.WithTimeout(ctx, o.publishTimeout)
	defer cancel()
	return o.pub.Publish(ctx, msg)
}

func (o *Orchestrator) save(ctx context.Context, s *saga.Saga, ord *order.Order) error {
	if err := o.sagas.Update(ctx, s); err != nil {
		return err
	}
	return o.orders.Update(ctx, ord)
}

func commandItems(items []order.Item) []events.Item {
	out := make([]events.Item, 0, len(items))
	for _, it := range items {
		out = append(out, events.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
