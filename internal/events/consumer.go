package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Consumer binds topic handlers to a Bus under one consumer group.
type Consumer struct {
	bus      Bus
	group    string
	log      *zap.Logger
	handlers map[string]HandlerFunc
}

func NewConsumer(bus Bus, group string, logger *zap.Logger) *Consumer {
	return &Consumer{
		bus:      bus,
		group:    group,
		log:      logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register attaches a handler for a topic. Must be called before Start.
func (c *Consumer) Register(topic string, h HandlerFunc) {
	c.handlers[topic] = h
}

// Start subscribes every registered handler. Consumers run until ctx is
// cancelled; each finishes its current batch before stopping.
func (c *Consumer) Start(ctx context.Context) error {
	for topic, h := range c.handlers {
		if err := c.bus.Subscribe(ctx, topic, c.group, h); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		c.log.Info("consumer started",
			zap.String("topic", topic), zap.String("group", c.group))
	}
	return nil
}
