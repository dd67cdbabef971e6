package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-survey/internal/domain"
	campaignsvc "github.com/acme/outbound-survey/internal/service/campaign"
	contactsvc "github.com/acme/outbound-survey/internal/service/contacts"
)

type questionRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type createCampaignRequest struct {
	Name                 string            `json:"name"`
	Language             string            `json:"language"`
	Timezone             string            `json:"timezone"`
	IntroScript          string            `json:"intro_script"`
	Questions            []questionRequest `json:"questions"`
	MaxAttempts          int               `json:"max_attempts"`
	RetryIntervalMinutes int               `json:"retry_interval_minutes"`
	CallWindowStart      string            `json:"call_window_start"`
	CallWindowEnd        string            `json:"call_window_end"`
	EmailTemplates       map[string]string `json:"email_templates"`
	MaxConcurrentCalls   int               `json:"max_concurrent_calls"`
}

type campaignResponse struct {
	ID                 uuid.UUID             `json:"id"`
	Name               string                `json:"name"`
	Status             domain.CampaignStatus `json:"status"`
	Language           string                `json:"language"`
	Timezone           string                `json:"timezone"`
	IntroScript        string                `json:"intro_script"`
	Questions          []domain.Question     `json:"questions"`
	MaxAttempts        int                   `json:"max_attempts"`
	RetryInterval      string                `json:"retry_interval"`
	CallWindowStart    string                `json:"call_window_start"`
	CallWindowEnd      string                `json:"call_window_end"`
	MaxConcurrentCalls int                   `json:"max_concurrent_calls"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	StartedAt          *time.Time            `json:"started_at,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:                 c.ID,
		Name:               c.Name,
		Status:             c.Status,
		Language:           c.Language,
		Timezone:           c.Timezone,
		IntroScript:        c.IntroScript,
		Questions:          c.Questions[:],
		MaxAttempts:        c.MaxAttempts,
		RetryInterval:      c.RetryInterval.String(),
		CallWindowStart:    c.CallWindow.Start.String(),
		CallWindowEnd:      c.CallWindow.End.String(),
		MaxConcurrentCalls: c.MaxConcurrentCalls,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		StartedAt:          c.StartedAt,
		CompletedAt:        c.CompletedAt,
	}
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Questions) != domain.SurveyQuestionCount {
		return fiber.NewError(http.StatusBadRequest, "exactly three questions are required")
	}

	input := campaignsvc.CreateCampaignInput{
		Name:                 req.Name,
		Language:             req.Language,
		Timezone:             req.Timezone,
		IntroScript:          req.IntroScript,
		MaxAttempts:          req.MaxAttempts,
		RetryIntervalMinutes: req.RetryIntervalMinutes,
		CallWindowStart:      req.CallWindowStart,
		CallWindowEnd:        req.CallWindowEnd,
		MaxConcurrentCalls:   req.MaxConcurrentCalls,
	}
	for i, q := range req.Questions {
		input.Questions[i] = campaignsvc.QuestionInput{Text: q.Text, Type: q.Type}
	}
	if len(req.EmailTemplates) > 0 {
		input.EmailTemplates = make(map[string]uuid.UUID, len(req.EmailTemplates))
		for eventType, raw := range req.EmailTemplates {
			templateID, err := uuid.Parse(raw)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, "invalid email template id")
			}
			input.EmailTemplates[eventType] = templateID
		}
	}

	campaign, err := h.campaigns.Create(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	counts, err := h.campaigns.Stats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	var total int64
	byState := make(map[string]int64, len(counts))
	for state, count := range counts {
		byState[string(state)] = count
		total += count
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"campaign_id": id,
		"contacts":    total,
		"by_state":    byState,
	})
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *HandlerSet) transitionCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req transitionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.campaigns.Transition(ctx.Context(), id, domain.CampaignStatus(req.Status))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

type importContactRequest struct {
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	PreferredLanguage string `json:"preferred_language"`
	HasPriorConsent   bool   `json:"has_prior_consent"`
	DoNotCall         bool   `json:"do_not_call"`
}

type importContactsRequest struct {
	Contacts []importContactRequest `json:"contacts"`
}

func (h *HandlerSet) importContacts(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req importContactsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	inputs := make([]contactsvc.ContactInput, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		inputs = append(inputs, contactsvc.ContactInput{
			Phone:             c.Phone,
			Email:             c.Email,
			PreferredLanguage: c.PreferredLanguage,
			HasPriorConsent:   c.HasPriorConsent,
			DoNotCall:         c.DoNotCall,
		})
	}

	result, err := h.contacts.Import(ctx.Context(), id, inputs)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{
		"imported": result.Imported,
		"excluded": result.Excluded,
	})
}

type exclusionRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

func (h *HandlerSet) addExclusion(ctx *fiber.Ctx) error {
	var req exclusionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.contacts.Exclude(ctx.Context(), req.Phone, req.Reason, domain.ExclusionSourceAPI); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusCreated)
}
