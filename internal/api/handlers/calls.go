package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
)

type callAttemptResponse struct {
	ID             uuid.UUID        `json:"id"`
	ContactID      uuid.UUID        `json:"contact_id"`
	CampaignID     uuid.UUID        `json:"campaign_id"`
	AttemptNumber  int              `json:"attempt_number"`
	CallID         uuid.UUID        `json:"call_id"`
	ProviderCallID *string          `json:"provider_call_id,omitempty"`
	State          domain.CallState `json:"state"`
	Outcome        *string          `json:"outcome,omitempty"`
	ErrorCode      *string          `json:"error_code,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	AnsweredAt     *time.Time       `json:"answered_at,omitempty"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
}

func toCallAttemptResponse(a *domain.CallAttempt) callAttemptResponse {
	resp := callAttemptResponse{
		ID:             a.ID,
		ContactID:      a.ContactID,
		CampaignID:     a.CampaignID,
		AttemptNumber:  a.AttemptNumber,
		CallID:         a.CallID,
		ProviderCallID: a.ProviderCallID,
		State:          a.State,
		ErrorCode:      a.ErrorCode,
		StartedAt:      a.StartedAt,
		AnsweredAt:     a.AnsweredAt,
		EndedAt:        a.EndedAt,
	}
	if a.Outcome != nil {
		outcome := string(*a.Outcome)
		resp.Outcome = &outcome
	}
	return resp
}

// getCall looks the attempt up by our call id, the identifier webhook events
// and transcripts share.
func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	callID, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	attempt, err := h.container.Store().CallAttempts().GetByCallID(ctx.Context(), callID)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCallAttemptResponse(attempt))
}

type transcriptTurnResponse struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *HandlerSet) getTranscript(ctx *fiber.Ctx) error {
	callID, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}
	limit, _ := strconv.Atoi(ctx.Query("limit", "200"))

	turns, err := h.container.TranscriptStore().ListTurns(ctx.Context(), callID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]transcriptTurnResponse, 0, len(turns))
	for _, turn := range turns {
		resp = append(resp, transcriptTurnResponse{
			Seq:       turn.Seq,
			Role:      turn.Role,
			Text:      turn.Text,
			Phase:     turn.Phase,
			CreatedAt: turn.CreatedAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"call_id": callID, "turns": resp})
}

type contactResponse struct {
	ID                uuid.UUID           `json:"id"`
	CampaignID        uuid.UUID           `json:"campaign_id"`
	Phone             string              `json:"phone"`
	Email             *string             `json:"email,omitempty"`
	PreferredLanguage string              `json:"preferred_language"`
	HasPriorConsent   bool                `json:"has_prior_consent"`
	DoNotCall         bool                `json:"do_not_call"`
	State             domain.ContactState `json:"state"`
	AttemptsCount     int                 `json:"attempts_count"`
	LastAttemptAt     *time.Time          `json:"last_attempt_at,omitempty"`
	LastOutcome       *string             `json:"last_outcome,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

func (h *HandlerSet) getContact(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid contact id")
	}

	contact, err := h.contacts.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	resp := contactResponse{
		ID:                contact.ID,
		CampaignID:        contact.CampaignID,
		Phone:             contact.Phone,
		Email:             contact.Email,
		PreferredLanguage: contact.PreferredLanguage,
		HasPriorConsent:   contact.HasPriorConsent,
		DoNotCall:         contact.DoNotCall,
		State:             contact.State,
		AttemptsCount:     contact.AttemptsCount,
		LastAttemptAt:     contact.LastAttemptAt,
		CreatedAt:         contact.CreatedAt,
	}
	if contact.LastOutcome != nil {
		outcome := string(*contact.LastOutcome)
		resp.LastOutcome = &outcome
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}
