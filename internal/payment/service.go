package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
)

const ReasonSimulatedSuccess = "Payment simulated successfully"

type Options struct {
	// Delay simulates the round trip to a payment provider.
	Delay time.Duration
	// DeclineAbove declines any charge greater than it. Zero disables declines.
	DeclineAbove decimal.Decimal
}

func DefaultOptions() Options {
	return Options{Delay: 500 * time.Millisecond}
}

type Result struct {
	Success bool
	Reason  string
}

// Simulator stands in for a payment provider. It never talks to anything
// outside the process.
type Simulator struct {
	opts   Options
	logger *zap.Logger
}

func NewSimulator(opts Options, logger *zap.Logger) *Simulator {
	return &Simulator{opts: opts, logger: logger}
}

// Charge waits for the configured delay and then approves the amount, or
// declines it when it exceeds the limit. It only fails when ctx ends first.
func (s *Simulator) Charge(ctx context.Context, orderID, userID string, amount decimal.Decimal) (Result, error) {
	log := logger.FromContext(ctx, s.logger).With(
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.Stringer("amount", amount))

	if s.opts.Delay > 0 {
		t := time.NewTimer(s.opts.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}

	if s.opts.DeclineAbove.IsPositive() && amount.GreaterThan(s.opts.DeclineAbove) {
		reason := fmt.Sprintf("Payment declined: amount %s exceeds limit %s",
			amount.StringFixed(2), s.opts.DeclineAbove.StringFixed(2))
		log.Info("payment declined")
		return Result{Reason: reason}, nil
	}

	log.Info("payment approved")
	return Result{Success: true, Reason: ReasonSimulatedSuccess}, nil
}
