package returns

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler exposes return requests over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers return endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/eligibility/{orderID}", h.eligibility)
	r.Get("/{id}", h.get)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/complete", h.complete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	var err error
	if filter.Page, err = httpx.QueryInt(r, "page", 1); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.PerPage, err = httpx.QueryInt(r, "per_page", 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathInt64(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.CheckEligibility(r.Context(), orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CreateInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.Create(r.Context(), actor, input, r.Header.Get(httpx.IdempotencyHeader))
	if err != nil {
		h.respondFailure(w, "create", actor, 0, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var input ApproveInput
	h.act(w, r, "approve", &input, func(actor shared.Actor, id int64) (any, error) {
		return h.service.Approve(r.Context(), actor, id, input.Amount)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var input RejectInput
	h.act(w, r, "reject", &input, func(actor shared.Actor, id int64) (any, error) {
		return h.service.Reject(r.Context(), actor, id, input.Reason)
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	var input CompleteInput
	h.act(w, r, "complete", &input, func(actor shared.Actor, id int64) (any, error) {
		return h.service.CompleteRefund(r.Context(), actor, id, input.TransactionRef)
	})
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, name string, input any, run func(shared.Actor, int64) (any, error)) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.DecodeAndValidate(r, input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := run(actor, id)
	if err != nil {
		h.respondFailure(w, name, actor, id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondFailure(w http.ResponseWriter, name string, actor shared.Actor, id int64, err error) {
	h.logger.Warn("return "+name+" failed", slog.Int64("return_request_id", id), slog.Int64("actor_id", actor.ID),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
