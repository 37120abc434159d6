package order

import "time"

// Request is the intake payload for a new order.
type Request struct {
	ItemID   int64  `json:"item_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Quantity int    `json:"quantity"`
}

type Order struct {
	ID        string    `json:"order_id"`
	ItemID    int64     `json:"item_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Quantity  int       `json:"quantity"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboxEvent is the publish intent stored alongside a new order in the
// same transaction.
type OutboxEvent struct {
	Topic        string
	PartitionKey string
	Payload      []byte
}
