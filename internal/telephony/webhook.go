package telephony

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// webhookPayload is the provider callback body. Form posts use the same
// field names (CallSid, CallStatus) as the JSON shape.
type webhookPayload struct {
	ProviderCallID string `json:"CallSid"`
	Status         string `json:"CallStatus"`
	CallID         string `json:"call_id"`
	CampaignID     string `json:"campaign_id"`
	ContactID      string `json:"contact_id"`
	Duration       string `json:"CallDuration"`
	ErrorCode      string `json:"ErrorCode"`
	ErrorMessage   string `json:"ErrorMessage"`
	Timestamp      string `json:"Timestamp"`
}

// ParseWebhook normalizes a provider callback (JSON or form encoded) into a
// domain event. Signature validation happens before this is called.
func ParseWebhook(contentType string, body []byte) (*domain.WebhookEvent, error) {
	var payload webhookPayload

	if isFormContent(contentType) {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: malformed form payload: %v", apperrors.ErrValidation, err)
		}
		payload = webhookPayload{
			ProviderCallID: values.Get("CallSid"),
			Status:         values.Get("CallStatus"),
			CallID:         values.Get("call_id"),
			CampaignID:     values.Get("campaign_id"),
			ContactID:      values.Get("contact_id"),
			Duration:       values.Get("CallDuration"),
			ErrorCode:      values.Get("ErrorCode"),
			ErrorMessage:   values.Get("ErrorMessage"),
			Timestamp:      values.Get("Timestamp"),
		}
	} else {
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: malformed json payload: %v", apperrors.ErrValidation, err)
		}
	}

	if payload.ProviderCallID == "" || payload.Status == "" {
		return nil, fmt.Errorf("%w: CallSid and CallStatus are required", apperrors.ErrValidation)
	}

	eventType, ok := normalizeStatus(payload.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown call status %q", apperrors.ErrValidation, payload.Status)
	}

	callID, err := uuid.Parse(payload.CallID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid call_id %q", apperrors.ErrValidation, payload.CallID)
	}
	campaignID, err := uuid.Parse(payload.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid campaign_id %q", apperrors.ErrValidation, payload.CampaignID)
	}
	contactID, err := uuid.Parse(payload.ContactID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid contact_id %q", apperrors.ErrValidation, payload.ContactID)
	}

	event := &domain.WebhookEvent{
		Type:           eventType,
		ProviderCallID: payload.ProviderCallID,
		CallID:         callID,
		CampaignID:     campaignID,
		ContactID:      contactID,
		RawStatus:      payload.Status,
		OccurredAt:     time.Now().UTC(),
	}

	if payload.Duration != "" {
		if secs, err := strconv.Atoi(payload.Duration); err == nil {
			d := time.Duration(secs) * time.Second
			event.Duration = &d
		}
	}
	if payload.ErrorCode != "" {
		v := payload.ErrorCode
		event.ErrorCode = &v
	}
	if payload.ErrorMessage != "" {
		v := payload.ErrorMessage
		event.ErrorMessage = &v
	}
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			event.OccurredAt = ts.UTC()
		}
	}

	return event, nil
}

func isFormContent(contentType string) bool {
	return contentType == "application/x-www-form-urlencoded" ||
		len(contentType) > 33 && contentType[:33] == "application/x-www-form-urlencoded"
}

// normalizeStatus maps provider raw statuses onto the webhook event types.
func normalizeStatus(raw string) (domain.WebhookEventType, bool) {
	switch raw {
	case "queued", "initiated":
		return domain.WebhookInitiated, true
	case "ringing":
		return domain.WebhookRinging, true
	case "answered", "in-progress":
		return domain.WebhookAnswered, true
	case "completed":
		return domain.WebhookCompleted, true
	case "failed", "canceled":
		return domain.WebhookFailed, true
	case "no-answer", "no_answer":
		return domain.WebhookNoAnswer, true
	case "busy":
		return domain.WebhookBusy, true
	}
	return "", false
}
