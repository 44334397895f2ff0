package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownTopic     = errors.New("unknown topic")
	ErrMalformedMessage = errors.New("malformed message")
)

// Decode turns a delivery body into its contract type. It is the only place
// that maps topics to types; adding a message means adding a case here.
func Decode(topic Topic, body []byte) (Message, error) {
	switch topic {
	case TopicValidateInventory:
		return decode[ValidateInventory](body)
	case TopicInventoryValidated:
		return decode[InventoryValidated](body)
	case TopicReserveInventory:
		return decode[ReserveInventory](body)
	case TopicInventoryReserved:
		return decode[InventoryReserved](body)
	case TopicReleaseInventory:
		return decode[ReleaseInventory](body)
	case TopicProcessPayment:
		return decode[ProcessPayment](body)
	case TopicPaymentProcessed:
		return decode[PaymentProcessed](body)
	case TopicOrderCompleted:
		return decode[OrderCompleted](body)
	case TopicOrderFailed:
		return decode[OrderFailed](body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
}

func decode[T Message](body []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, msg.Topic(), err)
	}
	if msg.OrderRef() == "" {
		return nil, fmt.Errorf("%w: %s: missing orderId", ErrMalformedMessage, msg.Topic())
	}
	return msg, nil
}

// HandlerFunc processes one delivery body. A returned error rejects the message.
type HandlerFunc func(ctx context.Context, body []byte) error

// Subscription binds one queue to one handler.
type Subscription struct {
	Topic  Topic
	Handle HandlerFunc
}

// On subscribes fn to the topic of T. The body is decoded once at the boundary
// and fn only ever sees a T.
func On[T Message](fn func(ctx context.Context, msg T) error) Subscription {
	var zero T
	topic := zero.Topic()

	return Subscription{
		Topic: topic,
		Handle: func(ctx context.Context, body []byte) error {
			msg, err := Decode(topic, body)
			if err != nil {
				return err
			}
			typed, ok := msg.(T)
			if !ok {
				return fmt.Errorf("%w: %s decoded as %T", ErrMalformedMessage, topic, msg)
			}
			return fn(ctx, typed)
		},
	}
}
