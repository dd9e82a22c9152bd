package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// CallbackExchange carries normalized provider callbacks.
	CallbackExchange = "notify.callbacks"
	// AlertExchange carries service bounce-rate alerts.
	AlertExchange = "notify.alerts"
	// DLQExchange receives callbacks that could not be applied.
	DLQExchange = "notify.callbacks.dlq"
)

// CallbackRoutingKey is the routing key callbacks from provider are published under.
func CallbackRoutingKey(provider string) string {
	return "callback." + provider
}

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares a durable topic exchange.
func DeclareExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
