package order

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

var now = func() time.Time { return time.Now().UTC() }

// Amounts are stored as NUMERIC(12,2): two decimal places, below 10^10.
const amountScale = 2

var maxAmount = decimal.New(1, 10)

type Item struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (i Item) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ProductID, validation.Required),
		validation.Field(&i.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&i.Price, validation.By(storableAmount)),
	)
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID          string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Create builds a pending order. The total is captured here and never recomputed.
func Create(userID string, items []Item) (*Order, error) {
	if err := validation.Validate(userID, validation.Required); err != nil {
		return nil, fmt.Errorf("%w: userId %v", ErrInvalidOrder, err)
	}
	if err := validation.Validate(items, validation.Required); err != nil {
		return nil, fmt.Errorf("%w: items %v", ErrInvalidOrder, err)
	}

	total := decimal.Zero
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidOrder, i, err)
		}
		total = total.Add(it.Subtotal())
	}
	if err := storableAmount(total); err != nil {
		return nil, fmt.Errorf("%w: total %v", ErrInvalidOrder, err)
	}

	ts := now()
	return &Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Items:       append([]Item(nil), items...),
		TotalAmount: total,
		Status:      StatusPending,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}, nil
}

// Restore rebuilds an order read from storage without re-running Create's checks.
func Restore(id, userID string, items []Item, total decimal.Decimal, status Status, createdAt, updatedAt time.Time) *Order {
	return &Order{
		ID:          id,
		UserID:      userID,
		Items:       items,
		TotalAmount: total,
		Status:      status,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

func (o *Order) MarkConfirmed() error {
	return o.transition(StatusConfirmed, StatusPending)
}

// MarkFailed is a no-op on an already failed order.
func (o *Order) MarkFailed() error {
	if o.Status == StatusFailed {
		return nil
	}
	return o.transition(StatusFailed, StatusPending)
}

// MarkCompleted and Cancel are not driven by the saga; they keep the status
// rules for completed and cancelled orders in one place.
func (o *Order) MarkCompleted() error {
	return o.transition(StatusCompleted, StatusConfirmed)
}

func (o *Order) Cancel() error {
	return o.transition(StatusCancelled, StatusPending, StatusConfirmed)
}

func (o *Order) transition(to Status, from ...Status) error {
	for _, s := range from {
		if o.Status == s {
			o.Status = to
			o.UpdatedAt = now()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
}

// storableAmount accepts amounts the orders table holds exactly.
func storableAmount(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal")
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	if !d.Equal(d.Round(amountScale)) {
		return fmt.Errorf("must have at most %d decimal places", amountScale)
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("must be less than %s", maxAmount)
	}
	return nil
}
