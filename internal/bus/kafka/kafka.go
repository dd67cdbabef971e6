// Package kafka implements the event bus on a Kafka topic. Ordering is
// carried by the message key; consumers must tolerate occasional duplicates
// since Kafka has no broker-side deduplication.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/acme/outbound-survey/internal/bus"
	"github.com/acme/outbound-survey/internal/config"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

const dedupHeader = "deduplication_id"

// messageReader is the consumer-group surface of kafkago.Reader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Bus is both publisher and consumer for a single topic.
type Bus struct {
	writer *kafkago.Writer
	reader messageReader

	mu      sync.Mutex
	pending *bus.Message
}

// New constructs the Kafka bus. The reader is only created when a consumer
// group id is configured.
func New(cfg config.BusConfig) (*Bus, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", apperrors.ErrConfiguration)
	}

	b := &Bus{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
	}

	if cfg.ConsumerGroupID != "" {
		b.reader = kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.ConsumerGroupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
			MaxWait:  cfg.WaitTime,
		})
	}

	return b, nil
}

// Publish writes one message keyed by its group id so all events for a
// campaign land on the same partition.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	headers := make([]kafkago.Header, 0, len(msg.Attributes)+1)
	headers = append(headers, kafkago.Header{Key: dedupHeader, Value: []byte(msg.DeduplicationID)})
	for k, v := range msg.Attributes {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	err := b.writer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(msg.GroupID),
		Value:   msg.Body,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("%w: kafka write: %v", apperrors.ErrUnavailable, err)
	}
	return nil
}

// Receive fetches one message; commit happens on Ack. The group reader never
// redelivers an uncommitted offset within a running session, so a fetched
// message that was not acked is served again on the next Receive.
func (b *Bus) Receive(ctx context.Context) ([]bus.Message, error) {
	if b.reader == nil {
		return nil, fmt.Errorf("%w: kafka consumer group not configured", apperrors.ErrConfiguration)
	}

	b.mu.Lock()
	if b.pending != nil {
		msg := *b.pending
		b.mu.Unlock()
		return []bus.Message{msg}, nil
	}
	b.mu.Unlock()

	m, err := b.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka fetch: %v", apperrors.ErrUnavailable, err)
	}

	msg := bus.Message{
		Body:       m.Value,
		GroupID:    string(m.Key),
		Attributes: make(map[string]string, len(m.Headers)),
		Receipt:    m,
	}
	for _, h := range m.Headers {
		if h.Key == dedupHeader {
			msg.DeduplicationID = string(h.Value)
			continue
		}
		msg.Attributes[h.Key] = string(h.Value)
	}

	b.mu.Lock()
	b.pending = &msg
	b.mu.Unlock()

	return []bus.Message{msg}, nil
}

// Ack commits the message offset and stops re-serving it.
func (b *Bus) Ack(ctx context.Context, msg bus.Message) error {
	m, ok := msg.Receipt.(kafkago.Message)
	if !ok {
		return fmt.Errorf("kafka ack: message has no offset handle")
	}
	if err := b.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("%w: kafka commit: %v", apperrors.ErrUnavailable, err)
	}

	b.mu.Lock()
	if b.pending != nil {
		if pm, ok := b.pending.Receipt.(kafkago.Message); ok && pm.Partition == m.Partition && pm.Offset == m.Offset {
			b.pending = nil
		}
	}
	b.mu.Unlock()
	return nil
}

// Close releases the writer and reader.
func (b *Bus) Close() error {
	err := b.writer.Close()
	if b.reader != nil {
		if rerr := b.reader.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
