package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventTypeOrderPlaced = "OrderPlaced"
	OrderPlacedVersion   = 1

	orderPlacedSchema = "shop.order-placed.v1"
)

// OrderPlacedPayload is the v1 payload carried inside the event envelope.
// Published by the order service after an order is accepted; the catalog
// service consumes it to decrement stock.
type OrderPlacedPayload struct {
	OrderID   string    `json:"orderId"`
	ItemID    int64     `json:"itemId"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// LegacyOrderPlaced is the bare pre-envelope shape still accepted on consume.
type LegacyOrderPlaced struct {
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId"`
	ItemID    int64     `json:"itemId"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent is the enveloped wire form.
type OrderPlacedEvent struct {
	EventEnvelope
	Payload OrderPlacedPayload `json:"payload"`
}

type parsedOrderPlaced struct {
	Envelope *EventEnvelope
	Payload  OrderPlacedPayload
}

// parseOrderPlaced accepts either the enveloped or the legacy bare shape.
func parseOrderPlaced(body []byte, consumeEnveloped bool) (parsedOrderPlaced, error) {
	if consumeEnveloped {
		env, err := parseEnvelope(body)
		if err == nil && env.EventName != "" {
			if err := env.Validate(EventTypeOrderPlaced, OrderPlacedVersion); err != nil {
				return parsedOrderPlaced{}, err
			}
			var payload OrderPlacedPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return parsedOrderPlaced{}, fmt.Errorf("decode payload: %w", err)
			}
			return parsedOrderPlaced{Envelope: &env, Payload: payload}, nil
		}
	}

	var legacy LegacyOrderPlaced
	if err := json.Unmarshal(body, &legacy); err != nil {
		return parsedOrderPlaced{}, fmt.Errorf("decode event: %w", err)
	}
	if legacy.EventType != "" && legacy.EventType != EventTypeOrderPlaced {
		return parsedOrderPlaced{}, fmt.Errorf("unexpected eventType %q", legacy.EventType)
	}
	return parsedOrderPlaced{Payload: OrderPlacedPayload{
		OrderID:   legacy.OrderID,
		ItemID:    legacy.ItemID,
		Quantity:  legacy.Quantity,
		Timestamp: legacy.Timestamp,
	}}, nil
}
