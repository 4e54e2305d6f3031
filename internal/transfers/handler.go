package transfers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Handler exposes the transfer workflow over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the transfers handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/ship", h.ship)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/cancel", h.cancel)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	var err error
	if filter.WarehouseID, err = httpx.QueryInt64Ptr(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
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
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
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
	t, err := h.service.Create(r.Context(), actor, input, r.Header.Get(httpx.IdempotencyHeader))
	if err != nil {
		h.respondFailure(w, "create", actor, 0, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "approve", nil, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Approve(r.Context(), actor, id)
	})
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	var input ShipInput
	h.act(w, r, "ship", &input, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Ship(r.Context(), actor, id, input)
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var input ReceiveInput
	h.act(w, r, "receive", &input, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Receive(r.Context(), actor, id, input)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var input CancelInput
	h.act(w, r, "cancel", &input, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Cancel(r.Context(), actor, id, input.Reason)
	})
}

// act decodes an optional body into input, then runs the transition.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, name string, input any, run func(shared.Actor, int64) (Transfer, error)) {
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
	if input != nil {
		if err := httpx.DecodeAndValidate(r, input); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	t, err := run(actor, id)
	if err != nil {
		h.respondFailure(w, name, actor, id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) respondFailure(w http.ResponseWriter, name string, actor shared.Actor, id int64, err error) {
	h.logger.Warn("transfer "+name+" failed", slog.Int64("transfer_id", id), slog.Int64("actor_id", actor.ID),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
