package mq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one message body. A nil return acks the message,
// an error nacks it for redelivery.
type MessageHandler func(ctx context.Context, body []byte) error

type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	logger     *slog.Logger
}

// NewConsumer declares queueName bound to exchange under routingKey and
// declares the matching dead letter queue.
func NewConsumer(url, exchange, queueName, routingKey string, prefetch int, logger *slog.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	fail := func(err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		return fail(fmt.Errorf("declaring exchange: %w", err))
	}
	if err := DeclareExchange(ch, DLQExchange); err != nil {
		return fail(fmt.Errorf("declaring dlq exchange: %w", err))
	}
	if _, err := DeclareDLQQueue(ch, queueName, routingKey); err != nil {
		return fail(err)
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fail(fmt.Errorf("setting qos: %w", err))
		}
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp091.Table{"x-dead-letter-exchange": DLQExchange},
	)
	if err != nil {
		return fail(fmt.Errorf("declaring queue: %w", err))
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return fail(fmt.Errorf("binding queue: %w", err))
	}

	logger.Info("consumer initialized",
		"routing_key", routingKey,
		"queue", queueName,
		"exchange", exchange,
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// DeclareDLQQueue declares the dead letter queue for queueName.
func DeclareDLQQueue(ch *amqp091.Channel, queueName, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(queueName+".dlq", true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("declaring dlq queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, DLQExchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("binding dlq queue: %w", err)
	}
	return q, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Start consumes until ctx is done or the channel closes. Every message is
// either acked or nacked, including when the handler panics.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.ConsumeWithContext(ctx,
		c.queue.Name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}

	c.logger.Info("consumer started", "queue", c.queue.Name, "routing_key", c.routingKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic recovered", "queue", c.queue.Name, "panic", r)
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("failed to nack message after panic", "error", err)
			}
		}
	}()

	if err := c.handler(ctx, msg.Body); err != nil {
		c.logger.Error("handler error",
			"queue", c.queue.Name,
			"routing_key", msg.RoutingKey,
			"error", err,
		)
		// A redelivered message that fails again goes to the dead letter exchange.
		if err := msg.Nack(false, !msg.Redelivered); err != nil {
			c.logger.Error("failed to nack message", "error", err)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
	}
}
