package events

import amqp "github.com/rabbitmq/amqp091-go"

// Topic names double as routing keys on the events exchange.
type Topic string

const (
	TopicValidateInventory  Topic = "order.ValidateInventory"
	TopicInventoryValidated Topic = "catalog.InventoryValidated"
	TopicReserveInventory   Topic = "order.ReserveInventory"
	TopicInventoryReserved  Topic = "catalog.InventoryReserved"
	TopicReleaseInventory   Topic = "order.ReleaseInventory"
	TopicProcessPayment     Topic = "order.ProcessPayment"
	TopicPaymentProcessed   Topic = "payment.PaymentProcessed"
	TopicOrderCompleted     Topic = "order.OrderCompleted"
	TopicOrderFailed        Topic = "order.OrderFailed"
)

const EventsExchange = "saga.events"

// Topics lists every topic of the closed message set.
func Topics() []Topic {
	return []Topic{
		TopicValidateInventory,
		TopicInventoryValidated,
		TopicReserveInventory,
		TopicInventoryReserved,
		TopicReleaseInventory,
		TopicProcessPayment,
		TopicPaymentProcessed,
		TopicOrderCompleted,
		TopicOrderFailed,
	}
}

// QueueName is the durable queue a service consumes topic from.
func QueueName(service string, topic Topic) string {
	return service + "." + string(topic)
}

type exchangeDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}

func declareEventsExchange(ch exchangeDeclarer) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}
