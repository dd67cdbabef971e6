package mock

import (
	"context"
	"sync"

	"github.com/acme/outbound-survey/internal/bus"
)

// Bus is an in-memory publisher/consumer for tests. Published messages with
// a deduplication id already seen are dropped, mirroring FIFO queue behavior.
type Bus struct {
	mu        sync.Mutex
	queue     []bus.Message
	seen      map[string]struct{}
	published []bus.Message
	acked     []bus.Message
	failPub   error
}

func New() *Bus {
	return &Bus{seen: make(map[string]struct{})}
}

// FailPublish makes every Publish return err until cleared with nil.
func (b *Bus) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPub = err
}

// Published returns every accepted publish, including deduplicated ones.
func (b *Bus) Published() []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Message, len(b.published))
	copy(out, b.published)
	return out
}

// Acked returns acknowledged messages.
func (b *Bus) Acked() []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Message, len(b.acked))
	copy(out, b.acked)
	return out
}

func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failPub != nil {
		return b.failPub
	}

	b.published = append(b.published, msg)
	if msg.DeduplicationID != "" {
		if _, dup := b.seen[msg.DeduplicationID]; dup {
			return nil
		}
		b.seen[msg.DeduplicationID] = struct{}{}
	}
	b.queue = append(b.queue, msg)
	return nil
}

func (b *Bus) Receive(ctx context.Context) ([]bus.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil, nil
	}
	msgs := b.queue
	b.queue = nil
	return msgs, nil
}

func (b *Bus) Ack(ctx context.Context, msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, msg)
	return nil
}

func (b *Bus) Close() error { return nil }
