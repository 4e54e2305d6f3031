package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/settings"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type settingsRow struct {
	row *settings.Settings
}

func (s *settingsRow) Load(context.Context) (settings.Settings, error) {
	if s.row == nil {
		return settings.Settings{}, settings.ErrSettingsNotFound
	}
	return *s.row, nil
}

func (s *settingsRow) Save(_ context.Context, row settings.Settings, _ shared.AuditLog) error {
	s.row = &row
	return nil
}

type auditRows struct{}

func (auditRows) Timeline(context.Context, audit.TimelineFilters, int, int) ([]audit.Entry, int, error) {
	return []audit.Entry{{ID: 1, ActorID: 9, Action: "settings.update", Entity: "store_settings", EntityID: "1"}}, 1, nil
}

func newTestRouter(checks map[string]Pinger) (http.Handler, *observability.Metrics) {
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000}
	metrics := observability.NewMetrics()
	provider := settings.NewProvider(&settingsRow{}, nil, 0,
		settings.Settings{TaxRate: decimal.Zero, RefundWindowDays: 14}, nil)
	return NewRouter(RouterParams{
		Config:          cfg,
		Metrics:         metrics,
		Checks:          checks,
		SettingsHandler: settings.NewHandler(nil, provider),
		AuditHandler:    audit.NewHandler(nil, audit.NewService(auditRows{})),
	}), metrics
}

func serve(h http.Handler, method, path, body string, actor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set(httpx.ActorHeader, actor)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	})
	rr := serve(router, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok","dependencies":{"postgres":"ok"}}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	router, _ = newTestRouter(map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rr = serve(router, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"degraded"`)
}

func TestActorRequiredOnMutations(t *testing.T) {
	router, _ := newTestRouter(nil)

	rr := serve(router, http.MethodPut, "/settings", `{"tax_rate":"0.14","refund_window_days":30}`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "actor is required")

	rr = serve(router, http.MethodPut, "/settings", `{"tax_rate":"0.14","refund_window_days":30}`, "abc")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, http.MethodPut, "/settings", `{"tax_rate":"0.14","refund_window_days":30}`, "9")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(router, http.MethodGet, "/settings", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"refund_window_days":30`)
}

func TestUnknownRouteAndMetrics(t *testing.T) {
	router, _ := newTestRouter(nil)

	rr := serve(router, http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":"route not found"}`, rr.Body.String())

	rr = serve(router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `backoffice_http_requests_total{code="404"`)
}

func TestAuditMounted(t *testing.T) {
	router, _ := newTestRouter(nil)

	rr := serve(router, http.MethodGet, "/audit?entity=store_settings", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"action":"settings.update"`)

	rr = serve(router, http.MethodGet, "/audit/export.csv", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "settings.update,store_settings,1")
}
