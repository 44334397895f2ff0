package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
)

var errDeliveriesClosed = errors.New("deliveries channel closed")

type consumeChannel interface {
	exchangeDeclarer
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Consumer runs one delivery loop per subscription. Each loop owns its queue and
// channel and handles one message at a time.
type Consumer struct {
	open    func() (consumeChannel, error)
	service string
	logger  *zap.Logger
	// pause before resubscribing after a lost channel
	resubscribeDelay time.Duration
	// how long a message in flight at shutdown may keep running
	drainTimeout time.Duration

	subs []Subscription
}

func NewConsumer(conn *Connection, service string, logger *zap.Logger) *Consumer {
	return newConsumer(func() (consumeChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, service, logger)
}

func newConsumer(open func() (consumeChannel, error), service string, logger *zap.Logger) *Consumer {
	return &Consumer{
		open:             open,
		service:          service,
		logger:           logger,
		resubscribeDelay: 2 * time.Second,
		drainTimeout:     10 * time.Second,
	}
}

func (c *Consumer) Subscribe(subs ...Subscription) {
	c.subs = append(c.subs, subs...)
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.subs) == 0 {
		return errors.New("consumer has no subscriptions")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range c.subs {
		sub := sub
		g.Go(func() error {
			c.loop(ctx, sub)
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) loop(ctx context.Context, sub Subscription) {
	queue := QueueName(c.service, sub.Topic)
	log := c.logger.With(zap.String("queue", queue))

	for {
		err := c.consumeOnce(ctx, sub, queue, log)
		if ctx.Err() != nil {
			log.Info("consumer stopped")
			return
		}
		log.Warn("consumer interrupted, resubscribing", zap.Error(err))

		select {
		case <-ctx.Done():
			log.Info("consumer stopped")
			return
		case <-time.After(c.resubscribeDelay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, sub Subscription, queue string, log *zap.Logger) error {
	ch, err := c.open()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareEventsExchange(ch); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	if err := ch.QueueBind(queue, string(sub.Topic), EventsExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	// one unacknowledged message at a time keeps the queue sequential
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		c.service, // consumer tag
		false,     // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Info("consuming")
	return c.serve(ctx, sub, msgs, log)
}

func (c *Consumer) serve(ctx context.Context, sub Subscription, msgs <-chan amqp.Delivery, log *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(ctx, sub, msg, log)
		}
	}
}

// dispatch handles one delivery. Cancelling ctx stops the handler only after
// drainTimeout, and a message the handler could not finish because of that is
// requeued rather than dropped.
func (c *Consumer) dispatch(ctx context.Context, sub Subscription, msg amqp.Delivery, log *zap.Logger) {
	log = log.With(
		zap.String("message_id", msg.MessageId),
		zap.String("correlation_id", msg.CorrelationId))

	drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(c.drainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-drainCtx.Done():
		}
	})
	defer stop()

	err := sub.Handle(logger.WithLogger(drainCtx, log), msg.Body)
	switch {
	case err == nil:
		if err := msg.Ack(false); err != nil {
			log.Error("ack failed", zap.Error(err))
		}
	case ctx.Err() != nil:
		log.Warn("handler interrupted by shutdown, requeueing", zap.Error(err))
		if err := msg.Nack(false, true); err != nil {
			log.Error("nack failed", zap.Error(err))
		}
	default:
		// no requeue: a failing message would otherwise loop forever
		log.Error("handle message failed, dropping", zap.Error(err))
		if err := msg.Nack(false, false); err != nil {
			log.Error("nack failed", zap.Error(err))
		}
	}
}
