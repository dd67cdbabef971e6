package email

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/bus"
	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/events"
	"github.com/acme/outbound-survey/internal/repository"
	"github.com/acme/outbound-survey/pkg/logger"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// Worker is the long-poll consumer turning survey events into notifications.
// Delivery is at-least-once; the EmailNotification row keyed by event_id
// makes retried messages idempotent.
type Worker struct {
	consumer  bus.Consumer
	campaigns repository.CampaignRepository
	templates repository.EmailTemplateRepository
	emails    repository.EmailNotificationRepository
	sender    Sender
	renderer  *Renderer
	log       *logger.Logger

	maxRetries   int
	pollInterval time.Duration
}

// NewWorker wires the worker from configuration.
func NewWorker(
	consumer bus.Consumer,
	campaigns repository.CampaignRepository,
	templates repository.EmailTemplateRepository,
	emails repository.EmailNotificationRepository,
	sender Sender,
	cfg config.EmailConfig,
	log *logger.Logger,
) *Worker {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	return &Worker{
		consumer:     consumer,
		campaigns:    campaigns,
		templates:    templates,
		emails:       emails,
		sender:       sender,
		renderer:     NewRenderer(),
		log:          log.Named("email"),
		maxRetries:   maxRetries,
		pollInterval: pollInterval,
	}
}

// Run consumes until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		if len(msgs) == 0 {
			// The bus driver long-polls; an empty batch just means quiet.
			continue
		}

		for _, msg := range msgs {
			w.Process(ctx, msg)
		}
	}
}

// Process handles one message. Acknowledgment policy: permanent outcomes ack
// so the message never returns; retryable failures below the retry budget
// leave the message un-acked for redelivery after the visibility timeout.
func (w *Worker) Process(ctx context.Context, msg bus.Message) {
	tracer := otel.Tracer("survey.email")
	ctx, span := tracer.Start(ctx, "email.process")
	defer span.End()

	env, err := events.ParseEnvelope(msg.Body)
	if err != nil {
		span.RecordError(err)
		w.log.Error("unparseable event message, dropping", zap.Error(err))
		w.ack(ctx, msg)
		return
	}
	span.SetAttributes(
		attribute.String("event.id", env.EventID),
		attribute.String("event.type", env.EventType),
	)

	campaignID, err := uuid.Parse(env.CampaignID)
	if err != nil {
		w.log.Error("invalid campaign id in event, dropping", zap.String("event_id", env.EventID))
		w.ack(ctx, msg)
		return
	}

	campaign, err := w.campaigns.Get(ctx, campaignID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			w.log.Warn("event for unknown campaign, dropping",
				zap.String("event_id", env.EventID), zap.String("campaign_id", env.CampaignID))
			w.ack(ctx, msg)
			return
		}
		w.log.Error("load campaign", zap.Error(err))
		return
	}

	templateID, ok := campaign.EmailTemplates[domain.EventType(env.EventType)]
	if !ok || env.Email == "" {
		// No template configured for this event type, or no recipient.
		w.ack(ctx, msg)
		return
	}

	template, err := w.templates.Get(ctx, templateID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			w.log.Error("configured template missing, dropping",
				zap.String("template_id", templateID.String()),
				zap.String("campaign_id", env.CampaignID))
			w.ack(ctx, msg)
			return
		}
		w.log.Error("load template", zap.Error(err))
		return
	}

	notification, created, err := w.emails.Create(ctx, newNotification(env, campaignID, templateID))
	if err != nil {
		w.log.Error("create notification", zap.Error(err))
		return
	}
	if !created && notification.Status == domain.EmailStatusSent {
		w.ack(ctx, msg)
		return
	}

	w.deliver(ctx, msg, env, campaign, template, notification)
}

func (w *Worker) deliver(ctx context.Context, msg bus.Message, env events.Envelope, campaign *domain.Campaign, template *domain.EmailTemplate, notification *domain.EmailNotification) {
	subject, htmlBody, textBody, err := w.renderer.Render(template, templateVars(env, campaign))
	if err != nil {
		// Broken templates will not fix themselves on redelivery.
		w.log.Error("render template", zap.String("event_id", env.EventID), zap.Error(err))
		if err := w.emails.MarkFailed(ctx, notification.ID, err.Error()); err != nil {
			w.log.Error("mark failed", zap.Error(err))
		}
		w.ack(ctx, msg)
		return
	}

	out := OutboundEmail{
		To:       env.Email,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
	if template.ReplyTo != nil {
		out.ReplyTo = *template.ReplyTo
	}

	providerMessageID, err := w.sender.Send(ctx, out)
	if err == nil {
		if err := w.emails.MarkSent(ctx, notification.ID, providerMessageID); err != nil {
			w.log.Error("mark sent", zap.Error(err))
		}
		w.ack(ctx, msg)
		return
	}

	w.log.Warn("send failed",
		zap.String("event_id", env.EventID),
		zap.Int("retry_count", notification.RetryCount),
		zap.Error(err))

	if apperrors.Is(err, apperrors.ErrPermanent) {
		if err := w.emails.MarkFailed(ctx, notification.ID, err.Error()); err != nil {
			w.log.Error("mark failed", zap.Error(err))
		}
		w.ack(ctx, msg)
		return
	}

	if err := w.emails.IncrementRetry(ctx, notification.ID); err != nil {
		w.log.Error("increment retry", zap.Error(err))
	}
	if notification.RetryCount+1 >= w.maxRetries {
		if err := w.emails.MarkFailed(ctx, notification.ID, err.Error()); err != nil {
			w.log.Error("mark failed", zap.Error(err))
		}
		w.ack(ctx, msg)
		return
	}
	// Leave un-acked; the bus redelivers after the visibility timeout.
}

func (w *Worker) ack(ctx context.Context, msg bus.Message) {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		w.log.Error("ack failed", zap.Error(err))
	}
}

func newNotification(env events.Envelope, campaignID, templateID uuid.UUID) *domain.EmailNotification {
	now := time.Now().UTC()
	n := &domain.EmailNotification{
		ID:         uuid.New(),
		CampaignID: campaignID,
		TemplateID: templateID,
		ToEmail:    env.Email,
		Status:     domain.EmailStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if id, err := uuid.Parse(env.EventID); err == nil {
		n.EventID = id
	}
	if id, err := uuid.Parse(env.ContactID); err == nil {
		n.ContactID = id
	}
	return n
}

// templateVars exposes the event payload to templates.
func templateVars(env events.Envelope, campaign *domain.Campaign) map[string]any {
	answers := make([]any, 0, len(env.Answers))
	for _, a := range env.Answers {
		answers = append(answers, map[string]any{
			"text":       a.Text,
			"confidence": a.Confidence,
		})
	}

	return map[string]any{
		"event_type":     env.EventType,
		"campaign_name":  campaign.Name,
		"outcome":        env.Outcome,
		"attempts_count": env.AttemptsCount,
		"answers":        answers,
		"locale":         env.Locale,
		"email":          env.Email,
	}
}
