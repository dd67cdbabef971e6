package telephony

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
)

// QuestionSpec is one survey question in the dial request.
type QuestionSpec struct {
	Position   int    `json:"position"`
	Text       string `json:"text"`
	AnswerType string `json:"answer_type"`
}

// CallMetadata round-trips our identifiers through the provider so webhook
// callbacks can be reconciled without provider-side lookups.
type CallMetadata struct {
	CallID     uuid.UUID `json:"call_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
}

// CallRequest is the outbound dial instruction.
type CallRequest struct {
	To          string         `json:"to"`
	From        string         `json:"from"`
	Language    string         `json:"language"`
	CallbackURL string         `json:"callback_url"`
	IntroScript string         `json:"intro_script"`
	Questions   []QuestionSpec `json:"questions"`
	Metadata    CallMetadata   `json:"metadata"`
}

// CallResult is the provider acknowledgement of a dial request.
type CallResult struct {
	ProviderCallID string
	Status         string
}

// Provider abstracts the telephony integration.
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) (CallResult, error)
}

// NewCallRequest assembles a dial request from the campaign and contact.
func NewCallRequest(campaign *domain.Campaign, contact *domain.Contact, callID uuid.UUID, from, callbackURL string) CallRequest {
	language := campaign.Language
	if contact.PreferredLanguage != "" && contact.PreferredLanguage != domain.LanguageAuto {
		language = contact.PreferredLanguage
	}

	questions := make([]QuestionSpec, 0, len(campaign.Questions))
	for _, q := range campaign.Questions {
		questions = append(questions, QuestionSpec{
			Position:   q.Position,
			Text:       q.Text,
			AnswerType: string(q.Type),
		})
	}

	return CallRequest{
		To:          contact.Phone,
		From:        from,
		Language:    language,
		CallbackURL: callbackURL,
		IntroScript: campaign.IntroScript,
		Questions:   questions,
		Metadata: CallMetadata{
			CallID:     callID,
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
		},
	}
}
