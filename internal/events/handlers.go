package events

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/Jamesmallon1/event-driven-shop/internal/catalog"
)

// CatalogApplier applies an OrderPlaced event to catalog stock exactly once.
type CatalogApplier interface {
	ApplyOrderPlaced(ctx context.Context, app catalog.OrderApplication) (catalog.ApplyOutcome, error)
}

// CacheInvalidator drops derived read state after stock changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// OrderPlacedHandler decrements catalog stock for each OrderPlaced event.
// Malformed bodies are reported as ErrMalformedEvent so the bus skips them;
// store errors propagate so the delivery is retried. Duplicates and stock
// inconsistencies are logged and acknowledged.
func OrderPlacedHandler(store CatalogApplier, cache CacheInvalidator, logger *zap.Logger, consumeEnveloped bool) HandlerFunc {
	return func(ctx context.Context, msg Message) error {
		parsed, err := parseOrderPlaced(msg.Body, consumeEnveloped)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		p := parsed.Payload
		if p.OrderID == "" || p.ItemID <= 0 || p.Quantity <= 0 {
			return fmt.Errorf("%w: orderId=%q itemId=%d quantity=%d",
				ErrMalformedEvent, p.OrderID, p.ItemID, p.Quantity)
		}

		app := catalog.OrderApplication{
			OrderID:  p.OrderID,
			ItemID:   p.ItemID,
			Quantity: p.Quantity,
		}
		if parsed.Envelope != nil {
			app.PartitionKey = parsed.Envelope.PartitionKey
			app.Sequence = parsed.Envelope.Sequence
		}
		if app.PartitionKey == "" {
			app.PartitionKey = strconv.FormatInt(p.ItemID, 10)
		}

		out, err := store.ApplyOrderPlaced(ctx, app)
		if err != nil {
			return fmt.Errorf("apply order %s: %w", p.OrderID, err)
		}

		if out.Duplicate {
			logger.Info("skipping duplicate order event",
				zap.String("order_id", p.OrderID))
			return nil
		}
		if out.UnknownItem {
			logger.Warn("order references unknown item",
				zap.String("order_id", p.OrderID), zap.Int64("item_id", p.ItemID))
			return nil
		}

		if out.Shortfall > 0 {
			logger.Warn("stock inconsistency, ordered more than available",
				zap.String("order_id", p.OrderID),
				zap.Int64("item_id", p.ItemID),
				zap.Int("shortfall", out.Shortfall))
		}
		if app.Sequence > 0 && out.PrevSequence >= 0 && app.Sequence > out.PrevSequence+1 {
			logger.Warn("sequence gap detected",
				zap.String("partition", app.PartitionKey),
				zap.Int64("sequence", app.Sequence),
				zap.Int64("last_sequence", out.PrevSequence))
		}

		logger.Info("applied order event",
			zap.String("order_id", p.OrderID),
			zap.Int64("item_id", p.ItemID),
			zap.Int("quantity", p.Quantity),
			zap.Int("remaining", out.Remaining))

		if cache != nil {
			if err := cache.Invalidate(ctx); err != nil {
				logger.Warn("invalidate catalog cache", zap.Error(err))
			}
		}
		return nil
	}
}
