package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/callflow"
	"github.com/acme/outbound-survey/internal/telephony"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// telephonyWebhook ingests provider callbacks. Signature failures return 401
// with no side effects; unknown call ids are acknowledged with 202 so the
// provider does not retry-storm; store errors surface as 5xx so the provider
// retries and the unique constraints keep the retry idempotent.
func (h *HandlerSet) telephonyWebhook(ctx *fiber.Ctx) error {
	body := ctx.Body()

	if !h.validSignature(ctx, body) {
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := telephony.ParseWebhook(ctx.Get(fiber.HeaderContentType), body)
	if err != nil {
		return translateError(err)
	}

	deadline := h.container.Config.HTTP.WebhookDeadline
	handleCtx, cancel := context.WithTimeout(ctx.Context(), deadline)
	defer cancel()

	if err := h.container.Ingestor().HandleEvent(handleCtx, *event); err != nil {
		if errors.Is(err, callflow.ErrUnknownCall) {
			h.container.Logger.Warn("webhook for unknown call",
				zap.String("call_id", event.CallID.String()),
				zap.String("provider_call_id", event.ProviderCallID))
			return ctx.SendStatus(http.StatusAccepted)
		}
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusOK)
}

func (h *HandlerSet) validSignature(ctx *fiber.Ctx, body []byte) bool {
	received := ctx.Get(telephony.SignatureHeader)
	fullURL := h.container.Config.Telephony.WebhookBaseURL + ctx.OriginalURL()
	authToken := h.container.Config.Telephony.AuthToken

	var params map[string]string
	if ctx.Is("x-www-form-urlencoded") {
		if values, err := url.ParseQuery(string(body)); err == nil {
			params = make(map[string]string, len(values))
			for k := range values {
				params[k] = values.Get(k)
			}
		}
	}

	return telephony.ValidateSignature(authToken, fullURL, params, body, received)
}

type dialogueStartRequest struct {
	CallID string `json:"call_id"`
}

type dialogueTurnRequest struct {
	CallID    string `json:"call_id"`
	Utterance string `json:"utterance"`
}

// dialogueStart opens the conversation for an answered call and returns the
// intro plus consent prompt the bridge should speak.
func (h *HandlerSet) dialogueStart(ctx *fiber.Ctx) error {
	if !h.validSignature(ctx, ctx.Body()) {
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	var req dialogueStartRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	store := h.container.Store()
	attempt, err := store.CallAttempts().GetByCallID(ctx.Context(), callID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			h.container.Logger.Warn("dialogue start for unknown call", zap.String("call_id", req.CallID))
			return ctx.SendStatus(http.StatusAccepted)
		}
		return translateError(err)
	}
	campaign, err := store.Campaigns().Get(ctx.Context(), attempt.CampaignID)
	if err != nil {
		return translateError(err)
	}
	contact, err := store.Contacts().Get(ctx.Context(), attempt.ContactID)
	if err != nil {
		return translateError(err)
	}

	greeting, err := h.container.Orchestrator().Start(ctx.Context(), campaign, contact, callID)
	if err != nil {
		return translateError(err)
	}

	return ctx.JSON(fiber.Map{"reply": greeting, "end_call": false})
}

// dialogueTurn advances the conversation by one caller utterance.
func (h *HandlerSet) dialogueTurn(ctx *fiber.Ctx) error {
	if !h.validSignature(ctx, ctx.Body()) {
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	var req dialogueTurnRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	result, err := h.container.Orchestrator().Handle(ctx.Context(), callID, req.Utterance)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			h.container.Logger.Warn("dialogue turn for unknown session", zap.String("call_id", req.CallID))
			return ctx.SendStatus(http.StatusAccepted)
		}
		return translateError(err)
	}

	resp := fiber.Map{"reply": result.Reply, "end_call": result.EndCall}
	if result.EndCall {
		resp["outcome"] = string(result.Outcome)
	}
	return ctx.JSON(resp)
}
