package events

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// EventsExchange is the shared topic exchange all services publish to.
	EventsExchange = "shop.events"

	// OrdersTopic is the default routing key for OrderPlaced events.
	OrdersTopic = "orders"

	orderServiceName   = "order-service"
	catalogServiceName = "catalog-service"
)

func serviceQueue(group, topic string) string {
	return group + "." + topic
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
