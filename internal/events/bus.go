package events

import (
	"context"
	"errors"
)

// Message is a single event delivery from the bus.
type Message struct {
	Topic string
	Key   string
	Body  []byte
}

// HandlerFunc processes one delivery. Returning an error that wraps
// ErrMalformedEvent acknowledges the message and skips it; any other error
// leaves the message uncommitted so the bus redelivers it.
type HandlerFunc func(ctx context.Context, msg Message) error

// Bus abstracts the broker so transports can be swapped without touching
// producers or consumers. Publish returns only after the broker has durably
// acknowledged the write. Subscribe starts a background consumer for the
// group and returns once it is running; it stops when ctx is cancelled.
type Bus interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
	Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error
	Close() error
}

// ErrMalformedEvent marks deliveries that can never be applied. Consumers
// log and skip these instead of retrying forever.
var ErrMalformedEvent = errors.New("malformed event")

// ErrBusUnavailable marks publish failures caused by the broker being
// unreachable or refusing the write.
var ErrBusUnavailable = errors.New("event bus unavailable")
