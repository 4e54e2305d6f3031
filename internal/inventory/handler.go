package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/warehouses", h.listWarehouses)
	r.Get("/warehouses/{warehouseID}/stock/{variantID}", h.getStock)
	r.Get("/warehouses/{warehouseID}/transferable", h.listTransferable)
	r.Get("/low-stock", h.listLowStock)
	r.Get("/logs", h.listLogs)
	r.Post("/adjustments", h.adjust)
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	items, err := h.service.ListWarehouses(r.Context(), activeOnly)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouses": items})
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.PathInt64(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	variantID, err := httpx.PathInt64(r, "variantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Get(r.Context(), warehouseID, variantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listTransferable(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.PathInt64(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListTransferable(r.Context(), warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.QueryInt64Ptr(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListLowStock(r.Context(), warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	var filter LogFilter
	var err error
	if filter.WarehouseID, err = httpx.QueryInt64Ptr(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.VariantID, err = httpx.QueryInt64Ptr(r, "variant_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Limit, err = httpx.QueryInt(r, "limit", defaultLogLimit); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Reference = r.URL.Query().Get("reference")
	entries, err := h.service.ListLogs(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input AdjustInput
	if err := httpx.DecodeAndValidate(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, entry, err := h.service.Adjust(r.Context(), actor, input)
	if err != nil {
		h.logger.Warn("inventory adjustment failed", slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"inventory": inv, "log": entry})
}
