package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus for tests. Published messages are kept in
// order per topic and every Subscribe replays the topic from the beginning,
// mirroring a fresh consumer group reading a log from offset zero. The group
// argument is ignored.
type MemoryBus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	topics map[string][]Message
	closed bool
}

func NewMemoryBus() *MemoryBus {
	b := &MemoryBus{topics: make(map[string][]Message)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBus) Publish(_ context.Context, topic, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusUnavailable
	}
	b.topics[topic] = append(b.topics[topic], Message{
		Topic: topic,
		Key:   key,
		Body:  append([]byte(nil), body...),
	})
	b.cond.Broadcast()
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, _ string, h HandlerFunc) error {
	go func() {
		<-ctx.Done()
		b.cond.Broadcast()
	}()

	go func() {
		cursor := 0
		for {
			b.mu.Lock()
			for cursor >= len(b.topics[topic]) && !b.closed && ctx.Err() == nil {
				b.cond.Wait()
			}
			if b.closed || ctx.Err() != nil {
				b.mu.Unlock()
				return
			}
			msg := b.topics[topic][cursor]
			b.mu.Unlock()

			if err := h(ctx, msg); err != nil && !errors.Is(err, ErrMalformedEvent) {
				// Redeliver the same message after a short pause, the way
				// a broker would after a nack.
				select {
				case <-time.After(10 * time.Millisecond):
				case <-ctx.Done():
					return
				}
				continue
			}
			cursor++
		}
	}()
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

// Published returns a copy of everything published to the topic so far.
func (b *MemoryBus) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}
