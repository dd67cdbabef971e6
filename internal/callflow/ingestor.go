// Package callflow reconciles telephony webhook events with call attempt
// rows and runs the terminal resolution: closing the attempt, advancing the
// contact, persisting captured answers and appending the survey event to the
// outbox, all in one transaction.
package callflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/dialogue"
	"github.com/acme/outbound-survey/internal/domain"
	"github.com/acme/outbound-survey/internal/repository"
	"github.com/acme/outbound-survey/pkg/logger"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// ErrUnknownCall marks webhook events whose call_id matches no attempt. The
// HTTP layer acknowledges these with 202 to avoid provider retry storms.
var ErrUnknownCall = fmt.Errorf("unknown call: %w", apperrors.ErrNotFound)

// Notifier is told about committed outbox events so they can be published
// without waiting for the relay pass. Implementations must not block.
type Notifier interface {
	EventCommitted(eventID uuid.UUID)
}

// SlotReleaser frees the per-campaign dialing slot acquired by the scheduler
// when an attempt closes.
type SlotReleaser interface {
	Release(ctx context.Context, campaignID uuid.UUID) error
}

// Ingestor applies webhook events to the call-attempt state machine.
type Ingestor struct {
	store    repository.TxRunner
	notifier Notifier
	slots    SlotReleaser
	log      *logger.Logger
}

// NewIngestor wires the ingestor. notifier may be nil; events then flow out
// through the relay only. slots may be nil when no campaign cap is enforced.
func NewIngestor(store repository.TxRunner, notifier Notifier, slots SlotReleaser, log *logger.Logger) *Ingestor {
	return &Ingestor{store: store, notifier: notifier, slots: slots, log: log.Named("callflow")}
}

// HandleEvent processes one normalized webhook event. Replayed and
// out-of-order deliveries are no-ops; the row lock on the attempt serializes
// concurrent deliveries for the same call.
func (i *Ingestor) HandleEvent(ctx context.Context, ev domain.WebhookEvent) error {
	var (
		committed  []uuid.UUID
		closed     bool
		campaignID uuid.UUID
	)

	err := i.store.WithinTx(ctx, func(tx repository.Tx) error {
		attempt, err := tx.CallAttempts().GetByCallIDForUpdate(ctx, ev.CallID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return ErrUnknownCall
			}
			return err
		}

		if attempt.Terminal() {
			i.log.Debug("webhook replay on closed attempt",
				zap.String("call_id", ev.CallID.String()),
				zap.String("event", string(ev.Type)))
			return nil
		}

		if state, ok := ev.Type.ProgressState(); ok {
			return i.advance(ctx, tx, attempt, ev, state)
		}

		outcome, ok := ev.Type.TerminalOutcome()
		if !ok {
			return fmt.Errorf("%w: unhandled webhook event %q", apperrors.ErrValidation, ev.Type)
		}

		eventIDs, didClose, err := i.closeAttempt(ctx, tx, attempt, ev, outcome)
		if err != nil {
			return err
		}
		committed = eventIDs
		closed = didClose
		campaignID = attempt.CampaignID
		return nil
	})
	if err != nil {
		return err
	}

	if closed {
		i.releaseSlot(ctx, campaignID)
	}
	if i.notifier != nil {
		for _, id := range committed {
			i.notifier.EventCommitted(id)
		}
	}
	return nil
}

// releaseSlot frees the campaign dialing slot. Failures only delay reuse
// until the slot TTL expires.
func (i *Ingestor) releaseSlot(ctx context.Context, campaignID uuid.UUID) {
	if i.slots == nil {
		return
	}
	if err := i.slots.Release(ctx, campaignID); err != nil {
		i.log.Warn("release campaign slot",
			zap.String("campaign_id", campaignID.String()), zap.Error(err))
	}
}

// advance applies a progress event, keeping the max-ranked state observed so
// out-of-order deliveries cannot move the attempt backwards.
func (i *Ingestor) advance(ctx context.Context, tx repository.Tx, attempt *domain.CallAttempt, ev domain.WebhookEvent, state domain.CallState) error {
	if state.Rank() <= attempt.State.Rank() {
		return nil
	}

	var providerCallID *string
	if ev.ProviderCallID != "" && attempt.ProviderCallID == nil {
		providerCallID = &ev.ProviderCallID
	}
	var answeredAt *time.Time
	if state == domain.CallStateAnswered {
		ts := ev.OccurredAt
		answeredAt = &ts
	}

	return tx.CallAttempts().AdvanceState(ctx, attempt.ID, state, providerCallID, answeredAt)
}

// closeAttempt runs the terminal branch. It returns ids of outbox events
// appended in this transaction and whether this delivery actually closed the
// attempt, which is false when a concurrent terminal delivery won the race.
func (i *Ingestor) closeAttempt(ctx context.Context, tx repository.Tx, attempt *domain.CallAttempt, ev domain.WebhookEvent, outcome domain.CallOutcome) ([]uuid.UUID, bool, error) {
	snapshot, hasSnapshot := dialogue.SnapshotFromMetadata(attempt.Metadata)

	errorCode := ev.ErrorCode
	if outcome == domain.CallOutcomeCompleted {
		switch {
		case hasSnapshot && snapshot.Refused:
			// A consent decline recorded by the dialogue wins over the
			// provider's completed status.
			outcome = domain.CallOutcomeRefused
		case !hasSnapshot || snapshot.AnswerCount() < domain.SurveyQuestionCount:
			outcome = domain.CallOutcomeFailed
			code := "incomplete_dialogue"
			errorCode = &code
		}
	}

	err := tx.CallAttempts().Close(ctx, attempt.ID, outcome, ev.OccurredAt, ev.RawStatus, errorCode)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			// Lost a race with another terminal delivery.
			return nil, false, nil
		}
		return nil, false, err
	}

	eventIDs, err := i.resolveContact(ctx, tx, attempt, snapshot, outcome, ev.OccurredAt)
	if err != nil {
		return nil, false, err
	}
	return eventIDs, true, nil
}

// resolveContact advances the contact and emits the terminal survey event.
func (i *Ingestor) resolveContact(ctx context.Context, tx repository.Tx, attempt *domain.CallAttempt, snapshot dialogue.Snapshot, outcome domain.CallOutcome, at time.Time) ([]uuid.UUID, error) {
	contact, err := tx.Contacts().Get(ctx, attempt.ContactID)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case domain.CallOutcomeCompleted:
		if err := tx.Contacts().Resolve(ctx, contact.ID, domain.ContactStateCompleted, outcome); err != nil {
			return nil, err
		}
		if err := i.writeResponse(ctx, tx, attempt, snapshot, at); err != nil {
			return nil, err
		}
		return i.appendEvent(ctx, tx, attempt, contact, domain.EventSurveyCompleted, outcome, snapshot)

	case domain.CallOutcomeRefused:
		if err := tx.Contacts().Resolve(ctx, contact.ID, domain.ContactStateRefused, outcome); err != nil {
			return nil, err
		}
		return i.appendEvent(ctx, tx, attempt, contact, domain.EventSurveyRefused, outcome, snapshot)

	default:
		campaign, err := tx.Campaigns().Get(ctx, attempt.CampaignID)
		if err != nil {
			return nil, err
		}
		if contact.AttemptsCount < campaign.MaxAttempts {
			if err := tx.Contacts().Resolve(ctx, contact.ID, domain.ContactStatePending, outcome); err != nil {
				return nil, err
			}
			return nil, nil
		}
		if err := tx.Contacts().Resolve(ctx, contact.ID, domain.ContactStateNotReached, outcome); err != nil {
			return nil, err
		}
		return i.appendEvent(ctx, tx, attempt, contact, domain.EventSurveyNotReached, outcome, snapshot)
	}
}

func (i *Ingestor) writeResponse(ctx context.Context, tx repository.Tx, attempt *domain.CallAttempt, snapshot dialogue.Snapshot, at time.Time) error {
	var answers [domain.SurveyQuestionCount]domain.SurveyAnswer
	for n := 0; n < domain.SurveyQuestionCount; n++ {
		answers[n] = domain.SurveyAnswer{Text: snapshot.Answers[n], Confidence: snapshot.Confidences[n]}
	}

	return tx.Responses().Insert(ctx, &domain.SurveyResponse{
		ContactID:     attempt.ContactID,
		CampaignID:    attempt.CampaignID,
		CallAttemptID: attempt.ID,
		Answers:       answers,
		CompletedAt:   at,
	})
}

// appendEvent writes the outbox row. The unique (type, contact, attempt)
// constraint suppresses duplicates under retried webhooks. The payload is
// enriched here because the publisher sees only the event row.
func (i *Ingestor) appendEvent(ctx context.Context, tx repository.Tx, attempt *domain.CallAttempt, contact *domain.Contact, eventType domain.EventType, outcome domain.CallOutcome, snapshot dialogue.Snapshot) ([]uuid.UUID, error) {
	attemptID := attempt.ID
	event := &domain.Event{
		ID:            uuid.New(),
		Type:          eventType,
		CampaignID:    attempt.CampaignID,
		ContactID:     attempt.ContactID,
		CallAttemptID: &attemptID,
		Payload:       eventPayload(attempt, contact, eventType, outcome, snapshot),
		CreatedAt:     time.Now().UTC(),
	}

	inserted, err := tx.Events().Insert(ctx, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	return []uuid.UUID{event.ID}, nil
}

func eventPayload(attempt *domain.CallAttempt, contact *domain.Contact, eventType domain.EventType, outcome domain.CallOutcome, snapshot dialogue.Snapshot) map[string]any {
	payload := map[string]any{
		"attempt_number": attempt.AttemptNumber,
		"attempts_count": contact.AttemptsCount,
		"call_id":        attempt.CallID.String(),
		"outcome":        string(outcome),
		"locale":         contact.PreferredLanguage,
	}
	if contact.Email != nil {
		payload["email"] = *contact.Email
	}
	if eventType == domain.EventSurveyCompleted {
		answers := make([]map[string]any, 0, domain.SurveyQuestionCount)
		for n := 0; n < domain.SurveyQuestionCount; n++ {
			answers = append(answers, map[string]any{
				"text":       snapshot.Answers[n],
				"confidence": snapshot.Confidences[n],
			})
		}
		payload["answers"] = answers
	}
	return payload
}
