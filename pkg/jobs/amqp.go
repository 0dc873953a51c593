package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPConfig describes the broker topology shared by publisher and consumer.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
}

// AMQPPublisher publishes job references to a RabbitMQ exchange. Used when
// report generation runs in a separate worker process.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	key      string
}

// NewAMQPPublisher connects, declares the durable exchange, and returns a
// ready publisher.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: cfg.Exchange, key: cfg.RoutingKey}, nil
}

// Publish sends the message as persistent JSON.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, p.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Running reports whether the underlying connection is usable.
func (p *AMQPPublisher) Running() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// AMQPConsumer drains the report queue in a standalone worker process.
type AMQPConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	handler Handler
	logger  *zap.Logger
}

// NewAMQPConsumer connects and binds the durable work queue.
func NewAMQPConsumer(cfg AMQPConfig, handler Handler, logger *zap.Logger) (*AMQPConsumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPConsumer{conn: conn, channel: ch, queue: cfg.Queue, handler: handler, logger: logger}, nil
}

// Start consumes until the context is cancelled or the channel closes.
// Handler errors nack with requeue so another delivery attempt happens.
func (c *AMQPConsumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp channel closed")
			}
			var msg Message
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				c.logger.Sugar().Warnw("discarding malformed queue message", "error", err)
				_ = delivery.Nack(false, false)
				continue
			}
			if err := c.handler(ctx, msg); err != nil {
				c.logger.Sugar().Warnw("job handling failed", "job_id", msg.JobID, "error", err)
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close releases the channel and connection.
func (c *AMQPConsumer) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
