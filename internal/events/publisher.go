package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/bus"
	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	"github.com/acme/outbound-survey/pkg/logger"
)

const relayBatchSize = 50

// Publisher drains the event outbox to the FIFO bus. Rows are published
// promptly when the ingestor signals a commit; the relay pass reconciles
// anything missed (crash between commit and publish, earlier failures).
type Publisher struct {
	events repository.EventRepository
	bus    bus.Publisher
	log    *logger.Logger

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	notify chan uuid.UUID
}

// NewPublisher constructs the publisher from configuration.
func NewPublisher(events repository.EventRepository, b bus.Publisher, cfg config.BusConfig, log *logger.Logger) *Publisher {
	maxAttempts := cfg.PublishMaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseDelay := cfg.PublishBaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := cfg.PublishMaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	return &Publisher{
		events:      events,
		bus:         b,
		log:         log.Named("events"),
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		notify:      make(chan uuid.UUID, 256),
	}
}

// EventCommitted queues a freshly committed event for publishing. Never
// blocks; a full queue falls through to the relay pass.
func (p *Publisher) EventCommitted(eventID uuid.UUID) {
	select {
	case p.notify <- eventID:
	default:
	}
}

// Run processes commit notifications and periodic relay passes until the
// context is cancelled.
func (p *Publisher) Run(ctx context.Context, relayInterval time.Duration) error {
	if relayInterval <= 0 {
		relayInterval = 30 * time.Second
	}
	ticker := time.NewTicker(relayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-p.notify:
			if err := p.PublishByID(ctx, id); err != nil && ctx.Err() == nil {
				p.log.Error("publish event", zap.String("event_id", id.String()), zap.Error(err))
			}
		case <-ticker.C:
			if err := p.Relay(ctx); err != nil && ctx.Err() == nil {
				p.log.Error("relay pass", zap.Error(err))
			}
		}
	}
}

// PublishByID loads one outbox row and publishes it.
func (p *Publisher) PublishByID(ctx context.Context, id uuid.UUID) error {
	event, err := p.events.Get(ctx, id)
	if err != nil {
		return err
	}
	return p.Publish(ctx, event)
}

// Relay publishes any unpublished, non-dead-lettered rows oldest first.
func (p *Publisher) Relay(ctx context.Context) error {
	pending, err := p.events.ListUnpublished(ctx, relayBatchSize)
	if err != nil {
		return err
	}

	for _, event := range pending {
		if err := p.Publish(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("relay publish", zap.String("event_id", event.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// Publish sends one event with exponential backoff. Exhausting the retry
// budget dead-letters the row for manual reconciliation.
func (p *Publisher) Publish(ctx context.Context, event *domain.Event) error {
	if event.PublishedAt != nil || event.DeadLettered {
		return nil
	}

	tracer := otel.Tracer("survey.events")
	ctx, span := tracer.Start(ctx, "events.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.ID.String()),
		attribute.String("event.type", string(event.Type)),
		attribute.String("campaign.id", event.CampaignID.String()),
	)

	msg, err := p.buildMessage(event)
	if err != nil {
		span.RecordError(err)
		// Unserializable payloads will never publish; dead-letter directly.
		if derr := p.events.RecordPublishFailure(ctx, event.ID, true); derr != nil {
			return derr
		}
		return err
	}

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if lastErr = p.bus.Publish(ctx, msg); lastErr == nil {
			return p.events.MarkPublished(ctx, event.ID, time.Now().UTC())
		}
		p.log.Warn("publish attempt failed",
			zap.String("event_id", event.ID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	span.RecordError(lastErr)
	if err := p.events.RecordPublishFailure(ctx, event.ID, true); err != nil {
		return err
	}
	return fmt.Errorf("events: publish %s exhausted retries: %w", event.ID, lastErr)
}

func (p *Publisher) buildMessage(event *domain.Event) (bus.Message, error) {
	env, err := NewEnvelope(event)
	if err != nil {
		return bus.Message{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return bus.Message{}, fmt.Errorf("events: marshal envelope: %w", err)
	}

	return bus.Message{
		Body:            body,
		GroupID:         event.GroupID(),
		DeduplicationID: event.DeduplicationID(),
		Attributes: map[string]string{
			"event_type":      string(event.Type),
			"campaign_id":     event.CampaignID.String(),
			"contact_id":      event.ContactID.String(),
			"payload_version": domain.EventPayloadVersion,
		},
	}, nil
}

func (p *Publisher) backoff(attempt int) time.Duration {
	delay := p.baseDelay << (attempt - 1)
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	return delay
}
