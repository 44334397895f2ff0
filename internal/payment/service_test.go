package payment

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
)

func TestSimulatorCharge(t *testing.T) {
	tests := map[string]struct {
		limit  string
		amount string
		want   Result
	}{
		"no limit approves": {
			limit:  "0",
			amount: "100000",
			want:   Result{Success: true, Reason: ReasonSimulatedSuccess},
		},
		"under limit": {
			limit:  "500",
			amount: "499.99",
			want:   Result{Success: true, Reason: ReasonSimulatedSuccess},
		},
		"at limit": {
			limit:  "500",
			amount: "500",
			want:   Result{Success: true, Reason: ReasonSimulatedSuccess},
		},
		"over limit": {
			limit:  "500",
			amount: "500.01",
			want:   Result{Reason: "Payment declined: amount 500.01 exceeds limit 500.00"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sim := NewSimulator(Options{DeclineAbove: decimal.RequireFromString(tc.limit)}, zap.NewNop())
			got, err := sim.Charge(context.Background(), "order-1", "user-1", decimal.RequireFromString(tc.amount))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSimulatorCharge_HonoursContext(t *testing.T) {
	sim := NewSimulator(Options{Delay: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.Charge(ctx, "order-1", "user-1", decimal.NewFromInt(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatorCharge_Delays(t *testing.T) {
	sim := NewSimulator(Options{Delay: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	_, err := sim.Charge(context.Background(), "order-1", "user-1", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

type fakePublisher struct {
	sent []events.Message
}

func (f *fakePublisher) Publish(ctx context.Context, msg events.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestParticipant_ProcessPayment(t *testing.T) {
	pub := &fakePublisher{}
	p := NewParticipant(NewSimulator(Options{DeclineAbove: decimal.NewFromInt(100)}, zap.NewNop()), pub)

	subs := p.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, events.TopicProcessPayment, subs[0].Topic)

	require.NoError(t, subs[0].Handle(context.Background(), []byte(`{"orderId":"o1","userId":"u1","amount":"20.00"}`)))
	require.NoError(t, subs[0].Handle(context.Background(), []byte(`{"orderId":"o2","userId":"u1","amount":"250"}`)))

	require.Len(t, pub.sent, 2)
	assert.Equal(t, events.PaymentProcessed{OrderID: "o1", Success: true, Reason: ReasonSimulatedSuccess}, pub.sent[0])
	declined := pub.sent[1].(events.PaymentProcessed)
	assert.Equal(t, "o2", declined.OrderID)
	assert.False(t, declined.Success)
}

func TestParticipant_CancelledChargePublishesNothing(t *testing.T) {
	pub := &fakePublisher{}
	p := NewParticipant(NewSimulator(Options{Delay: time.Hour}, zap.NewNop()), pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, p.OnProcessPayment(ctx, events.ProcessPayment{OrderID: "o1", Amount: decimal.NewFromInt(1)}))
	assert.Empty(t, pub.sent)
}
