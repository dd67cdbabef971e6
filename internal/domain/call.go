package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallState tracks provider-reported progress of a call attempt.
type CallState string

const (
	CallStateQueued    CallState = "queued"
	CallStateInitiated CallState = "initiated"
	CallStateRinging   CallState = "ringing"
	CallStateAnswered  CallState = "answered"
	CallStateEnded     CallState = "ended"
)

// callStateRank orders states so that out-of-order webhook deliveries can be
// reconciled by keeping the max-ranked state observed.
var callStateRank = map[CallState]int{
	CallStateQueued:    0,
	CallStateInitiated: 1,
	CallStateRinging:   2,
	CallStateAnswered:  3,
	CallStateEnded:     4,
}

// Rank returns the monotonic ordering of the state.
func (s CallState) Rank() int {
	return callStateRank[s]
}

// CallOutcome is the terminal result of a call attempt.
type CallOutcome string

const (
	CallOutcomeCompleted CallOutcome = "completed"
	CallOutcomeRefused   CallOutcome = "refused"
	CallOutcomeNoAnswer  CallOutcome = "no_answer"
	CallOutcomeBusy      CallOutcome = "busy"
	CallOutcomeFailed    CallOutcome = "failed"
)

// Reachable reports whether the outcome represents a conversation that took
// place, as opposed to a dial failure that may be retried.
func (o CallOutcome) Reachable() bool {
	return o == CallOutcomeCompleted || o == CallOutcomeRefused
}

// CallAttempt is one dialing action against a contact. The row is the sole
// synchronization point between the scheduler and the webhook ingestor.
type CallAttempt struct {
	ID             uuid.UUID
	ContactID      uuid.UUID
	CampaignID     uuid.UUID
	AttemptNumber  int
	CallID         uuid.UUID
	ProviderCallID *string
	State          CallState
	Outcome        *CallOutcome
	ErrorCode      *string
	RawStatus      *string
	StartedAt      time.Time
	AnsweredAt     *time.Time
	EndedAt        *time.Time
	Metadata       map[string]any
}

// Terminal reports whether the attempt has a final outcome.
func (a *CallAttempt) Terminal() bool {
	return a.Outcome != nil
}

// WebhookEventType enumerates normalized provider callback events.
type WebhookEventType string

const (
	WebhookInitiated WebhookEventType = "initiated"
	WebhookRinging   WebhookEventType = "ringing"
	WebhookAnswered  WebhookEventType = "answered"
	WebhookCompleted WebhookEventType = "completed"
	WebhookFailed    WebhookEventType = "failed"
	WebhookNoAnswer  WebhookEventType = "no_answer"
	WebhookBusy      WebhookEventType = "busy"
)

// TerminalOutcome maps a terminal webhook event to a call outcome. The second
// return is false for non-terminal events.
func (t WebhookEventType) TerminalOutcome() (CallOutcome, bool) {
	switch t {
	case WebhookCompleted:
		return CallOutcomeCompleted, true
	case WebhookFailed:
		return CallOutcomeFailed, true
	case WebhookNoAnswer:
		return CallOutcomeNoAnswer, true
	case WebhookBusy:
		return CallOutcomeBusy, true
	}
	return "", false
}

// ProgressState maps a non-terminal webhook event to a call state.
func (t WebhookEventType) ProgressState() (CallState, bool) {
	switch t {
	case WebhookInitiated:
		return CallStateInitiated, true
	case WebhookRinging:
		return CallStateRinging, true
	case WebhookAnswered:
		return CallStateAnswered, true
	}
	return "", false
}

// WebhookEvent is the normalized form of a provider callback, produced by the
// telephony adapter after signature validation.
type WebhookEvent struct {
	Type           WebhookEventType
	ProviderCallID string
	CallID         uuid.UUID
	CampaignID     uuid.UUID
	ContactID      uuid.UUID
	Duration       *time.Duration
	ErrorCode      *string
	ErrorMessage   *string
	RawStatus      string
	OccurredAt     time.Time
}
