package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/app"
	"github.com/acme/outbound-call-queue/internal/service/callqueue"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

const ownerLocalKey = "owner_id"

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	queue       *callqueue.Service
	logger      *logger.Logger
	ownerHeader string
	maxUpload   int
	uploads     *uploadLimiter
	checks      map[string]HealthCheck
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	cfg := container.Config
	checks := make(map[string]HealthCheck)
	for name, check := range container.HealthChecks() {
		checks[name] = HealthCheck(check)
	}
	return newHandlerSet(
		container.Services().CallQueue,
		container.Logger,
		cfg.HTTP.OwnerHeader,
		cfg.Upload.MaxBytes,
		newUploadLimiter(cfg.Upload.RatePerSecond, cfg.Upload.Burst),
		checks,
	)
}

func newHandlerSet(queue *callqueue.Service, log *logger.Logger, ownerHeader string, maxUpload int, uploads *uploadLimiter, checks map[string]HealthCheck) *HandlerSet {
	if ownerHeader == "" {
		ownerHeader = "X-Owner-ID"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HandlerSet{
		queue:       queue,
		logger:      log,
		ownerHeader: ownerHeader,
		maxUpload:   maxUpload,
		uploads:     uploads,
		checks:      checks,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	queue := v1.Group("/call-queue", h.requireOwner)
	queue.Post("/upload", h.uploadContacts)
	queue.Get("/", h.listEntries)
	queue.Get("/stats", h.queueStats)
	queue.Post("/retry", h.retryEntries)
	queue.Post("/retry-all", h.retryAllFailed)
	queue.Get("/:id", h.getEntry)
	queue.Get("/:id/interaction", h.getInteraction)
	queue.Get("/:id/attempts", h.listAttempts)
	queue.Delete("/:id", h.deleteEntry)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	body := fiber.Map{}

	var rowErrs *callqueue.RowErrors
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &rowErrs):
		code = fiber.StatusBadRequest
		message = rowErrs.Reason
		body["errors"] = rowErrs.Rows
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= fiber.StatusInternalServerError {
		h.logger.WithContext(ctx.UserContext()).Error("request failed",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.Path()),
			zap.Error(err),
		)
	}

	body["error"] = message
	body["trace_id"] = ctx.GetRespHeader("Trace-Id")
	return ctx.Status(code).JSON(body)
}

func (h *HandlerSet) requireOwner(ctx *fiber.Ctx) error {
	owner := utils.CopyString(strings.TrimSpace(ctx.Get(h.ownerHeader)))
	if owner == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing "+h.ownerHeader+" header")
	}
	ctx.Locals(ownerLocalKey, owner)
	return ctx.Next()
}

func ownerID(ctx *fiber.Ctx) string {
	owner, _ := ctx.Locals(ownerLocalKey).(string)
	return owner
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}
