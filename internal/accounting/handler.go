package accounting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler exposes the ledger over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the accounting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers accounting endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Get("/accounts/{code}", h.getAccount)
	r.Get("/journals", h.listJournals)
	r.Post("/journals", h.createJournal)
	r.Get("/journals/{id}", h.getJournal)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.QueryInt64Ptr(r, "order_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if orderID == nil {
		httpx.Error(w, http.StatusBadRequest, "order_id is required")
		return
	}
	entries, err := h.service.ListJournalsByOrder(r.Context(), *orderID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.GetJournal(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) createJournal(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CreateJournalInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.CreateJournalEntry(r.Context(), actor, input, r.Header.Get(httpx.IdempotencyHeader))
	if err != nil {
		h.logger.Warn("create journal failed", slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}
