package returns_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
	"github.com/odyssey-erp/backoffice/internal/returns"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

func newRouter(svc *returns.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor, ok := httpx.ParseActor(req); ok {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/returns", returns.NewHandler(nil, svc).MountRoutes)
	return r
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(httpx.ActorHeader, "7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerRefundFlow(t *testing.T) {
	f := newFixture(t)
	f.bookSale(t)
	router := newRouter(f.svc)

	rr := do(router, http.MethodGet, fmt.Sprintf("/returns/eligibility/%d", orderID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"eligible":true`)
	require.Contains(t, rr.Body.String(), `"days_remaining":9`)

	rr = do(router, http.MethodPost, "/returns", fmt.Sprintf(
		`{"order_id":%d,"reason":"wrong size","items":[{"order_item_id":1,"quantity":1}]}`, orderID))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created returns.Request
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	base := fmt.Sprintf("/returns/%d", created.ID)
	rr = do(router, http.MethodPost, base+"/approve", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"refund_amount":"90"`)

	rr = do(router, http.MethodPost, base+"/complete", `{"transaction_ref":"TX-9"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var done returns.Completion
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &done))
	require.True(t, done.LedgerReversed)
	require.Equal(t, returns.StatusCompleted, done.Request.Status)

	rr = do(router, http.MethodPost, base+"/complete", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"error"`)

	rr = do(router, http.MethodGet, "/returns?status=COMPLETED", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1`)
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f.svc)

	rr := do(router, http.MethodPost, "/returns", `{"order_id":100,"reason":"x","items":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodGet, "/returns/eligibility/404", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(router, http.MethodPost, "/returns/1/reject", `{"reason":"short"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodPost, "/returns/1/complete", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/returns/1/approve", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "actor is required")
}
