// Package events publishes terminal survey events from the outbox to the
// FIFO bus, exactly once per (type, contact, attempt).
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/acme/outbound-survey/internal/domain"
)

// Answer is one captured answer inside a published message.
type Answer struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Envelope is the wire form of a survey event message body.
type Envelope struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	CampaignID     string    `json:"campaign_id"`
	ContactID      string    `json:"contact_id"`
	CallAttemptID  string    `json:"call_attempt_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	AttemptsCount  int       `json:"attempts_count"`
	Answers        []Answer  `json:"answers,omitempty"`
	Outcome        string    `json:"outcome"`
	Email          string    `json:"email,omitempty"`
	Locale         string    `json:"locale,omitempty"`
	PayloadVersion string    `json:"payload_version"`
}

// NewEnvelope builds the message body from an outbox row.
func NewEnvelope(event *domain.Event) (Envelope, error) {
	env := Envelope{
		EventID:        event.ID.String(),
		EventType:      string(event.Type),
		CampaignID:     event.CampaignID.String(),
		ContactID:      event.ContactID.String(),
		Timestamp:      event.CreatedAt,
		PayloadVersion: domain.EventPayloadVersion,
	}
	if event.CallAttemptID != nil {
		env.CallAttemptID = event.CallAttemptID.String()
	}

	// The enriched fields live in the payload JSON; decode them through a
	// round-trip rather than fishing values out of the generic map.
	buf, err := json.Marshal(event.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
	}
	var enriched struct {
		AttemptsCount int      `json:"attempts_count"`
		Answers       []Answer `json:"answers"`
		Outcome       string   `json:"outcome"`
		Email         string   `json:"email"`
		Locale        string   `json:"locale"`
	}
	if err := json.Unmarshal(buf, &enriched); err != nil {
		return Envelope{}, fmt.Errorf("events: decode payload: %w", err)
	}

	env.AttemptsCount = enriched.AttemptsCount
	env.Answers = enriched.Answers
	env.Outcome = enriched.Outcome
	env.Email = enriched.Email
	env.Locale = enriched.Locale
	return env, nil
}

// ParseEnvelope decodes a message body received from the bus.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" || env.CampaignID == "" || env.ContactID == "" {
		return Envelope{}, fmt.Errorf("events: envelope missing required fields")
	}
	return env, nil
}
