package reports

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// Handler serves ledger reports.
type Handler struct {
	logger   *slog.Logger
	accounts AccountLister
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, accounts AccountLister) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, accounts: accounts}
}

// MountRoutes registers report endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance", h.trialBalance)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := TrialBalanceFor(r.Context(), h.accounts)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !tb.Balanced {
		h.logger.Error("trial balance out of balance",
			slog.String("total_debit", tb.TotalDebit.String()), slog.String("total_credit", tb.TotalCredit.String()))
	}
	httpx.JSON(w, http.StatusOK, tb)
}
