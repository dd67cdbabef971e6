package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/outbound-survey/internal/app"
	campaignsvc "github.com/acme/outbound-survey/internal/service/campaign"
	contactsvc "github.com/acme/outbound-survey/internal/service/contacts"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	campaigns *campaignsvc.Service
	contacts  *contactsvc.Service
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	store := container.Store()
	return &HandlerSet{
		container: container,
		campaigns: campaignsvc.NewService(store.Campaigns(), container.Config.Telephony.MaxConcurrentCalls),
		contacts:  contactsvc.NewService(store.Contacts(), store.Exclusions(), store.Campaigns()),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	webhooks := app.Group("/webhooks/telephony")
	webhooks.Post("/", h.telephonyWebhook)
	webhooks.Post("/dialogue/start", h.dialogueStart)
	webhooks.Post("/dialogue/turn", h.dialogueTurn)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Post("/:id/transition", h.transitionCampaign)
	campaigns.Post("/:id/contacts", h.importContacts)

	v1.Get("/contacts/:id", h.getContact)
	v1.Post("/exclusions", h.addExclusion)

	calls := v1.Group("/calls")
	calls.Get("/:id", h.getCall)
	calls.Get("/:id/transcript", h.getTranscript)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
