package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var ErrConnectionClosed = errors.New("amqp connection closed")

// Connection is the process-wide broker connection. It redials on its own when
// the broker drops it; callers only ever ask it for channels.
type Connection struct {
	url    string
	policy RetryPolicy
	logger *zap.Logger

	mu   sync.RWMutex
	conn *amqp.Connection

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to url, retrying per policy, and starts watching the connection.
func Dial(ctx context.Context, url string, policy RetryPolicy, logger *zap.Logger) (*Connection, error) {
	c := &Connection{
		url:    url,
		policy: policy,
		logger: logger,
		done:   make(chan struct{}),
	}

	conn, err := c.dial(ctx, policy)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.watch(conn)
	return c, nil
}

func (c *Connection) dial(ctx context.Context, policy RetryPolicy) (*amqp.Connection, error) {
	var conn *amqp.Connection
	err := policy.Do(ctx, c.logger, "amqp dial", func() error {
		var err error
		conn, err = amqp.DialConfig(c.url, amqp.Config{
			Dial:       amqp.DefaultDial(10 * time.Second),
			Properties: amqp.Table{"connection_name": "order-saga"},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func (c *Connection) watch(conn *amqp.Connection) {
	defer close(c.done)

	for {
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.ctx.Done():
			return
		case amqpErr, ok := <-closed:
			if !ok && c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("amqp connection lost, reconnecting", zap.Any("reason", amqpErr))
		}

		// keep redialling until Close; consumers and the publisher pick the new
		// connection up the next time they open a channel
		redial := c.policy
		redial.MaxAttempts = 0
		next, err := c.dial(c.ctx, redial)
		if err != nil {
			return
		}
		if c.ctx.Err() != nil {
			_ = next.Close()
			return
		}

		c.mu.Lock()
		c.conn = next
		c.mu.Unlock()
		conn = next
		c.logger.Info("amqp connection restored")
	}
}

// Channel opens a new channel on the current connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if c.ctx.Err() != nil {
		return nil, ErrConnectionClosed
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// Close stops reconnecting and closes the connection.
func (c *Connection) Close() error {
	c.cancel()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	err := conn.Close()
	<-c.done
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close amqp connection: %w", err)
	}
	return nil
}
