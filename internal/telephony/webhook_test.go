package telephony

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

func webhookForm(status string, callID, campaignID, contactID uuid.UUID) string {
	v := url.Values{}
	v.Set("CallSid", "CA123")
	v.Set("CallStatus", status)
	v.Set("call_id", callID.String())
	v.Set("campaign_id", campaignID.String())
	v.Set("contact_id", contactID.String())
	return v.Encode()
}

func TestParseWebhookFormEncoded(t *testing.T) {
	callID, campaignID, contactID := uuid.New(), uuid.New(), uuid.New()

	v := url.Values{}
	v.Set("CallSid", "CA123")
	v.Set("CallStatus", "completed")
	v.Set("call_id", callID.String())
	v.Set("campaign_id", campaignID.String())
	v.Set("contact_id", contactID.String())
	v.Set("CallDuration", "42")
	v.Set("Timestamp", "2026-08-24T10:30:00Z")

	event, err := ParseWebhook("application/x-www-form-urlencoded", []byte(v.Encode()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if event.Type != domain.WebhookCompleted {
		t.Fatalf("unexpected type %s", event.Type)
	}
	if event.CallID != callID || event.CampaignID != campaignID || event.ContactID != contactID {
		t.Fatal("ids should round-trip from the form payload")
	}
	if event.Duration == nil || *event.Duration != 42*time.Second {
		t.Fatalf("unexpected duration %v", event.Duration)
	}
	if !event.OccurredAt.Equal(time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurred_at %v", event.OccurredAt)
	}
}

func TestParseWebhookJSON(t *testing.T) {
	callID, campaignID, contactID := uuid.New(), uuid.New(), uuid.New()
	body := fmt.Sprintf(
		`{"CallSid":"CA9","CallStatus":"no-answer","call_id":%q,"campaign_id":%q,"contact_id":%q,"ErrorCode":"486"}`,
		callID, campaignID, contactID,
	)

	event, err := ParseWebhook("application/json", []byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != domain.WebhookNoAnswer {
		t.Fatalf("unexpected type %s", event.Type)
	}
	if event.ErrorCode == nil || *event.ErrorCode != "486" {
		t.Fatalf("unexpected error code %v", event.ErrorCode)
	}
	if event.RawStatus != "no-answer" {
		t.Fatalf("raw status should be preserved, got %q", event.RawStatus)
	}
}

func TestParseWebhookStatusAliases(t *testing.T) {
	cases := map[string]domain.WebhookEventType{
		"queued":      domain.WebhookInitiated,
		"initiated":   domain.WebhookInitiated,
		"ringing":     domain.WebhookRinging,
		"in-progress": domain.WebhookAnswered,
		"answered":    domain.WebhookAnswered,
		"completed":   domain.WebhookCompleted,
		"canceled":    domain.WebhookFailed,
		"no_answer":   domain.WebhookNoAnswer,
		"busy":        domain.WebhookBusy,
	}
	callID, campaignID, contactID := uuid.New(), uuid.New(), uuid.New()

	for raw, want := range cases {
		body := webhookForm(raw, callID, campaignID, contactID)
		event, err := ParseWebhook("application/x-www-form-urlencoded", []byte(body))
		if err != nil {
			t.Fatalf("status %q: %v", raw, err)
		}
		if event.Type != want {
			t.Fatalf("status %q mapped to %s, want %s", raw, event.Type, want)
		}
	}
}

func TestParseWebhookRejectsBadInput(t *testing.T) {
	callID, campaignID, contactID := uuid.New(), uuid.New(), uuid.New()

	cases := map[string]string{
		"unknown status":  webhookForm("teleported", callID, campaignID, contactID),
		"missing CallSid": "CallStatus=completed&call_id=" + callID.String(),
		"bad call_id":     "CallSid=CA1&CallStatus=completed&call_id=nope&campaign_id=" + campaignID.String() + "&contact_id=" + contactID.String(),
	}

	for name, body := range cases {
		_, err := ParseWebhook("application/x-www-form-urlencoded", []byte(body))
		if !apperrors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	if _, err := ParseWebhook("application/json", []byte("{broken")); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("malformed json: expected validation error, got %v", err)
	}
}
