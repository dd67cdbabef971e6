// Package bus abstracts the ordered, deduplicated survey-event transport.
package bus

import "context"

// Message is one transport-level message. GroupID keys ordering so that
// messages sharing a group are delivered in publish order; DeduplicationID
// suppresses redelivery of retried publishes.
type Message struct {
	Body            []byte
	GroupID         string
	DeduplicationID string
	Attributes      map[string]string

	// Receipt is the driver-specific acknowledgment handle set on received
	// messages. Opaque to callers.
	Receipt any
}

// Publisher sends messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer receives batches from the bus. Messages must be acknowledged
// after successful processing; unacknowledged messages are redelivered.
type Consumer interface {
	Receive(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Close() error
}
