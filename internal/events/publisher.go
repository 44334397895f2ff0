package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var ErrPublishNacked = errors.New("publish not confirmed by broker")

// Publisher is how the rest of the system sends messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type publishChannel interface {
	exchangeDeclarer
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// PublisherOptions configure a RabbitPublisher. One Publish call can take up to
// Retry.MaxAttempts times Timeout plus the backoff between attempts; callers
// that publish inside a database transaction should bound it through ctx.
type PublisherOptions struct {
	Producer string
	Retry    RetryPolicy
	// per-attempt timeout, including waiting for the broker confirm
	Timeout time.Duration
}

type RabbitPublisher struct {
	open   func() (publishChannel, error)
	opts   PublisherOptions
	logger *zap.Logger

	mu sync.Mutex
	ch publishChannel
}

func NewPublisher(conn *Connection, opts PublisherOptions, logger *zap.Logger) *RabbitPublisher {
	return newPublisher(func() (publishChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, opts, logger)
}

func newPublisher(open func() (publishChannel, error), opts PublisherOptions, logger *zap.Logger) *RabbitPublisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	return &RabbitPublisher{open: open, opts: opts, logger: logger}
}

// Publish sends msg as a persistent JSON message routed by its topic. Transient
// failures are retried; the error returned after the last attempt must fail
// the caller's step.
func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Topic(), err)
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: msg.OrderRef(),
		Type:          string(msg.Topic()),
		AppId:         p.opts.Producer,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}

	log := p.logger.With(
		zap.String("topic", string(msg.Topic())),
		zap.String("order_id", msg.OrderRef()),
		zap.String("message_id", pub.MessageId))

	err = p.opts.Retry.Do(ctx, log, "publish", func() error {
		return p.publishOnce(ctx, msg.Topic(), pub)
	})
	if err != nil {
		log.Error("publish failed", zap.Error(err))
		return fmt.Errorf("publish %s: %w", msg.Topic(), err)
	}

	log.Debug("published")
	return nil
}

func (p *RabbitPublisher) publishOnce(ctx context.Context, topic Topic, pub amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, string(topic), false, false, pub)
	if err != nil {
		p.reset()
		return err
	}
	if dc == nil {
		return nil
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.reset()
		return err
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

// channel lazily opens a confirm-mode channel. Callers hold p.mu.
func (p *RabbitPublisher) channel() (publishChannel, error) {
	if p.ch != nil {
		return p.ch, nil
	}

	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *RabbitPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close publisher channel: %w", err)
	}
	return nil
}
