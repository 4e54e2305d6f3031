package audit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler exposes the audit timeline over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.timeline)
	r.Get("/export.csv", h.export)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	if err := h.service.Export(r.Context(), w, filters); err != nil {
		h.logger.Warn("audit export failed", slog.Any("error", err))
		w.Header().Del("Content-Disposition")
		httpx.RespondError(w, err)
	}
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	f := TimelineFilters{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}
	var err error
	if f.From, err = parseDate(q.Get("from"), "from", false); err != nil {
		return f, err
	}
	if f.To, err = parseDate(q.Get("to"), "to", true); err != nil {
		return f, err
	}
	if f.ActorID, err = httpx.QueryInt64Ptr(r, "actor_id"); err != nil {
		return f, err
	}
	if f.Page, err = httpx.QueryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.PerPage, err = httpx.QueryInt(r, "per_page", 0); err != nil {
		return f, err
	}
	return f, nil
}

// parseDate reads a YYYY-MM-DD day; endOfDay moves it to the last instant of that day.
func parseDate(raw, field string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.NewValidationError(field + " must be a YYYY-MM-DD date")
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return day, nil
}
