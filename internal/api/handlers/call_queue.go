package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/service/callqueue"
)

type entryResponse struct {
	ID             uuid.UUID           `json:"id"`
	Name           string              `json:"name"`
	Phone          string              `json:"phone"`
	City           string              `json:"city,omitempty"`
	Email          string              `json:"email,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	Status         domain.EntryStatus  `json:"status"`
	Attempts       int                 `json:"attempts"`
	LastAttemptAt  *time.Time          `json:"last_attempt_at,omitempty"`
	ProviderCallID string              `json:"provider_call_id,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	ErrorKind      domain.ErrorKind    `json:"error_kind,omitempty"`
	Interaction    *domain.Interaction `json:"interaction,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type statsResponse struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

type listResponse struct {
	Entries    []entryResponse      `json:"entries"`
	Pagination callqueue.Pagination `json:"pagination"`
	Stats      statsResponse        `json:"stats"`
}

type interactionResponse struct {
	EntryID        uuid.UUID           `json:"entry_id"`
	Status         domain.EntryStatus  `json:"status"`
	ProviderCallID string              `json:"provider_call_id,omitempty"`
	Available      bool                `json:"available"`
	Cached         bool                `json:"cached"`
	Error          string              `json:"error,omitempty"`
	Interaction    *domain.Interaction `json:"interaction,omitempty"`
}

type attemptResponse struct {
	Attempt        int                `json:"attempt"`
	Status         domain.EntryStatus `json:"status"`
	ProviderCallID string             `json:"provider_call_id,omitempty"`
	Error          string             `json:"error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	DurationMs     int64              `json:"duration_ms"`
}

type attemptsResponse struct {
	Attempts      []attemptResponse `json:"attempts"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type retryRequest struct {
	IDs []string `json:"ids"`
}

type retryResponse struct {
	RetriedCount int64 `json:"retried_count"`
}

func (h *HandlerSet) uploadContacts(ctx *fiber.Ctx) error {
	owner := ownerID(ctx)
	if !h.uploads.Allow(owner) {
		return fiber.NewError(http.StatusTooManyRequests, "too many uploads, slow down")
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	if h.maxUpload > 0 && header.Size > int64(h.maxUpload) {
		return fiber.NewError(http.StatusRequestEntityTooLarge, "file too large")
	}

	file, err := header.Open()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "unable to read uploaded file")
	}
	defer file.Close()

	result, err := h.queue.Upload(ctx.UserContext(), owner, header.Filename, file)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(result)
}

func (h *HandlerSet) listEntries(ctx *fiber.Ctx) error {
	result, err := h.queue.List(ctx.UserContext(), callqueue.ListQuery{
		OwnerID: ownerID(ctx),
		Status:  ctx.Query("status"),
		Search:  ctx.Query("search"),
		Page:    ctx.QueryInt("page", 1),
		Limit:   ctx.QueryInt("limit", 0),
	})
	if err != nil {
		return translateError(err)
	}

	resp := listResponse{
		Entries:    make([]entryResponse, 0, len(result.Entries)),
		Pagination: result.Pagination,
		Stats:      toStatsResponse(result.Counts),
	}
	for i := range result.Entries {
		resp.Entries = append(resp.Entries, toEntryResponse(&result.Entries[i]))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) queueStats(ctx *fiber.Ctx) error {
	counts, err := h.queue.Stats(ctx.UserContext(), ownerID(ctx))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toStatsResponse(counts))
}

func (h *HandlerSet) getEntry(ctx *fiber.Ctx) error {
	id, err := entryID(ctx)
	if err != nil {
		return err
	}
	entry, err := h.queue.Get(ctx.UserContext(), ownerID(ctx), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toEntryResponse(entry))
}

func (h *HandlerSet) getInteraction(ctx *fiber.Ctx) error {
	id, err := entryID(ctx)
	if err != nil {
		return err
	}
	view, err := h.queue.Interaction(ctx.UserContext(), ownerID(ctx), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(interactionResponse{
		EntryID:        view.Entry.ID,
		Status:         view.Entry.Status,
		ProviderCallID: view.Entry.ProviderCallID,
		Available:      view.Available,
		Cached:         view.Cached,
		Error:          view.Error,
		Interaction:    view.Interaction,
	})
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	id, err := entryID(ctx)
	if err != nil {
		return err
	}
	page, err := h.queue.Attempts(ctx.UserContext(), ownerID(ctx), id, ctx.QueryInt("limit", 0), ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	resp := attemptsResponse{
		Attempts:      make([]attemptResponse, 0, len(page.Attempts)),
		NextPageToken: page.NextPageToken,
	}
	for _, a := range page.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			Attempt:        a.AttemptNum,
			Status:         a.Status,
			ProviderCallID: a.ProviderCallID,
			Error:          a.Error,
			StartedAt:      a.StartedAt,
			DurationMs:     a.Duration.Milliseconds(),
		})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) retryEntries(ctx *fiber.Ctx) error {
	var req retryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.IDs) == 0 {
		return fiber.NewError(http.StatusBadRequest, "ids must not be empty")
	}
	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid entry id "+raw)
		}
		ids = append(ids, id)
	}

	n, err := h.queue.RetryEntries(ctx.UserContext(), ownerID(ctx), ids)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(retryResponse{RetriedCount: n})
}

func (h *HandlerSet) retryAllFailed(ctx *fiber.Ctx) error {
	n, err := h.queue.RetryAllFailed(ctx.UserContext(), ownerID(ctx))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(retryResponse{RetriedCount: n})
}

func (h *HandlerSet) deleteEntry(ctx *fiber.Ctx) error {
	id, err := entryID(ctx)
	if err != nil {
		return err
	}
	if err := h.queue.Delete(ctx.UserContext(), ownerID(ctx), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func entryID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid entry id")
	}
	return id, nil
}

func toEntryResponse(e *domain.CallQueueEntry) entryResponse {
	return entryResponse{
		ID:             e.ID,
		Name:           e.Name,
		Phone:          e.Phone,
		City:           e.City,
		Email:          e.Email,
		Notes:          e.Notes,
		Status:         e.Status,
		Attempts:       e.Attempts,
		LastAttemptAt:  e.LastAttemptAt,
		ProviderCallID: e.ProviderCallID,
		ErrorMessage:   e.ErrorMessage,
		ErrorKind:      e.ErrorKind,
		Interaction:    e.Interaction,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toStatsResponse(c domain.StatusCounts) statsResponse {
	return statsResponse{
		Total:      c.Total,
		Pending:    c.Pending,
		Processing: c.Processing,
		Completed:  c.Completed,
		Failed:     c.Failed,
	}
}
