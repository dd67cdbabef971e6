package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates terminal survey events.
type EventType string

const (
	EventSurveyCompleted  EventType = "survey.completed"
	EventSurveyRefused    EventType = "survey.refused"
	EventSurveyNotReached EventType = "survey.not_reached"
)

// EventPayloadVersion is stamped on every published message body.
const EventPayloadVersion = "1.0"

// Event is an append-only outbox row emitted on a terminal call-attempt
// transition. PublishedAt is nil until the bus accepted the message.
type Event struct {
	ID              uuid.UUID
	Type            EventType
	CampaignID      uuid.UUID
	ContactID       uuid.UUID
	CallAttemptID   *uuid.UUID
	Payload         map[string]any
	CreatedAt       time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	DeadLettered    bool
}

// DeduplicationID builds the FIFO deduplication key: one terminal event per
// (type, contact, attempt).
func (e *Event) DeduplicationID() string {
	attemptPart := "na"
	if e.CallAttemptID != nil {
		attemptPart = e.CallAttemptID.String()
	}
	return fmt.Sprintf("%s:%s:%s", e.Type, e.ContactID, attemptPart)
}

// GroupID returns the FIFO message group preserving per-campaign ordering.
func (e *Event) GroupID() string {
	return e.CampaignID.String()
}

// SurveyAnswer is one captured answer with extraction confidence.
type SurveyAnswer struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SurveyResponse holds the three captured answers for a completed survey.
// Written exactly once per (contact, campaign, call attempt).
type SurveyResponse struct {
	ContactID     uuid.UUID
	CampaignID    uuid.UUID
	CallAttemptID uuid.UUID
	Answers       [SurveyQuestionCount]SurveyAnswer
	CompletedAt   time.Time
}

// EmailStatus enumerates notification delivery states.
type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// EmailNotification tracks the follow-up email for a survey event. The
// event_id uniqueness makes the email worker idempotent under redelivery.
type EmailNotification struct {
	ID                uuid.UUID
	EventID           uuid.UUID
	ContactID         uuid.UUID
	CampaignID        uuid.UUID
	TemplateID        uuid.UUID
	ToEmail           string
	Status            EmailStatus
	ProviderMessageID *string
	ErrorMessage      *string
	RetryCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EmailTemplate is a liquid template pair resolved per event type.
type EmailTemplate struct {
	ID       uuid.UUID
	Name     string
	Subject  string
	HTMLBody string
	TextBody string
	ReplyTo  *string
}
